package evm

import (
	"fmt"
	"math/big"

	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// LockDecoder filters and decodes TokensLocked logs emitted by one contract.
type LockDecoder struct {
	contract common.Address
	event    *abi.Event
}

// NewLockDecoder builds a decoder for contract using the TokensLocked event
// found in abis.
func NewLockDecoder(contract common.Address, abis map[string]*abi.ABI) (*LockDecoder, error) {
	ev, ok := FindEvent(abis, LockEvent)
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", LockEvent)
	}
	for _, name := range []string{"sender", "recipient", "amount", "destinationChainId", "nonce"} {
		if !hasInput(ev.Inputs, name) {
			return nil, fmt.Errorf("%s event lacks input %q", LockEvent, name)
		}
	}
	return &LockDecoder{contract: contract, event: ev}, nil
}

// Contract returns the watched contract address.
func (d *LockDecoder) Contract() common.Address { return d.contract }

// Topic returns the event signature hash.
func (d *LockDecoder) Topic() common.Hash { return d.event.ID }

// Decode converts lg into a relay event. The boolean is false for logs from
// other contracts or events. Malformed matching logs are fatal errors.
func (d *LockDecoder) Decode(lg types.Log) (relay.Event, bool, error) {
	if lg.Address != d.contract || lg.Removed {
		return relay.Event{}, false, nil
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != d.event.ID {
		return relay.Event{}, false, nil
	}

	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(d.event.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return relay.Event{}, false, relay.Fatal(fmt.Errorf("tx %s log %d: parse topics: %w", lg.TxHash.Hex(), lg.Index, err))
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return relay.Event{}, false, relay.Fatal(fmt.Errorf("tx %s log %d: unpack data: %w", lg.TxHash.Hex(), lg.Index, err))
	}

	ev := relay.Event{
		Height: lg.BlockNumber,
		Index:  uint(lg.Index),
		TxHash: lg.TxHash.Hex(),
	}
	var err error
	if ev.Sender, err = addressArg(args, "sender"); err != nil {
		return relay.Event{}, false, d.malformed(lg, err)
	}
	if ev.Recipient, err = addressArg(args, "recipient"); err != nil {
		return relay.Event{}, false, d.malformed(lg, err)
	}
	if ev.Amount, err = uintArg(args, "amount"); err != nil {
		return relay.Event{}, false, d.malformed(lg, err)
	}
	if ev.DestinationID, err = uintArg(args, "destinationChainId"); err != nil {
		return relay.Event{}, false, d.malformed(lg, err)
	}
	if ev.Nonce, err = uintArg(args, "nonce"); err != nil {
		return relay.Event{}, false, d.malformed(lg, err)
	}
	return ev, true, nil
}

func (d *LockDecoder) malformed(lg types.Log, err error) error {
	return relay.Fatal(fmt.Errorf("tx %s log %d: %w", lg.TxHash.Hex(), lg.Index, err))
}

func addressArg(args map[string]any, name string) (common.Address, error) {
	v, ok := args[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("arg %s: want address, got %T", name, args[name])
	}
	return v, nil
}

func uintArg(args map[string]any, name string) (*uint256.Int, error) {
	v, ok := args[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("arg %s: want uint256, got %T", name, args[name])
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("arg %s: negative value %s", name, v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("arg %s: %s overflows uint256", name, v)
	}
	return u, nil
}

func hasInput(args abi.Arguments, name string) bool {
	for _, a := range args {
		if a.Name == name {
			return true
		}
	}
	return false
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
