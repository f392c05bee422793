package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// HeadPinger is any ledger endpoint that can report its latest height.
// Source readers and the mint writer both qualify.
type HeadPinger interface {
	HeadHeight(ctx context.Context) (uint64, error)
}

// RPCChecker combines the source and destination RPC health checks.
type RPCChecker struct {
	endpoints map[string]HeadPinger
}

// NewRPCChecker creates a checker over named endpoints.
func NewRPCChecker(endpoints map[string]HeadPinger) *RPCChecker {
	return &RPCChecker{endpoints: endpoints}
}

// Ping checks every endpoint and reports all failures.
func (c *RPCChecker) Ping(ctx context.Context) error {
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if _, err := c.endpoints[name].HeadHeight(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
