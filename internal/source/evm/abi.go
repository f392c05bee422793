package evm

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Bridge contract entry points.
const (
	LockEvent       = "TokensLocked"
	MintMethod      = "mintTokens"
	ProcessedMethod = "processedNonces"
)

// BridgeABIJSON describes the lock event on the source contract and the mint
// entry points on the destination contract.
const BridgeABIJSON = `[
	{"type":"event","name":"TokensLocked","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"destinationChainId","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"mintTokens","stateMutability":"nonpayable","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sourceNonce","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"processedNonces","stateMutability":"view","inputs":[
		{"name":"","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

// BridgeABI returns the built-in bridge ABI.
func BridgeABI() (*abi.ABI, error) {
	a, err := abi.JSON(strings.NewReader(BridgeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse bridge abi: %w", err)
	}
	return &a, nil
}

// LoadABIs loads ABI JSON files from path, which may be a file or a
// directory. An empty path yields the built-in bridge ABI.
func LoadABIs(path string) (map[string]*abi.ABI, error) {
	if path == "" {
		a, err := BridgeABI()
		if err != nil {
			return nil, err
		}
		return map[string]*abi.ABI{"builtin": a}, nil
	}
	abis := map[string]*abi.ABI{}
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read abi %s: %w", p, err)
		}
		a, err := abi.JSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("parse abi %s: %w", p, err)
		}
		abis[p] = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(abis) == 0 {
		return nil, fmt.Errorf("no abi files under %s", path)
	}
	return abis, nil
}

// FindEvent searches loaded ABIs for an event with the given name.
func FindEvent(abis map[string]*abi.ABI, eventName string) (*abi.Event, bool) {
	for _, a := range abis {
		if ev, ok := a.Events[eventName]; ok {
			return &ev, true
		}
	}
	return nil, false
}

// FindABIWithMethod returns the first loaded ABI that declares method.
func FindABIWithMethod(abis map[string]*abi.ABI, method string) (*abi.ABI, bool) {
	for _, a := range abis {
		if _, ok := a.Methods[method]; ok {
			return a, true
		}
	}
	return nil, false
}
