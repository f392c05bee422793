package algorand

import (
	"bytes"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/algorand/go-codec/codec"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LockMethod is the first application argument of a lock call.
const LockMethod = "lock"

// lockArgs is the argument count of a lock call:
// lock, recipient (20 bytes), amount, destination chain id, nonce.
// Integers are big-endian, at most 32 bytes.
const lockArgs = 5

// Address adapts an Algorand account to relay.Address.
type Address sdk.Address

func (a Address) Bytes() []byte  { return append([]byte(nil), a[:]...) }
func (a Address) String() string { return sdk.Address(a).String() }

// LockDecoder extracts lock calls to one bridge application.
type LockDecoder struct {
	appID uint64
}

// NewLockDecoder builds a decoder for the bridge application.
func NewLockDecoder(appID uint64) (*LockDecoder, error) {
	if appID == 0 {
		return nil, fmt.Errorf("bridge app id required")
	}
	return &LockDecoder{appID: appID}, nil
}

// Skipped describes a call to the bridge app that looked like a lock but
// could not be decoded.
type Skipped struct {
	TxID   string
	Index  int
	Reason string
}

// DecodeBlock returns the lock events in block, indexed by payset position.
func (d *LockDecoder) DecodeBlock(block sdk.Block) ([]relay.Event, []Skipped) {
	var (
		out     []relay.Event
		skipped []Skipped
	)
	for i, stib := range block.Payset {
		tx := stib.SignedTxnWithAD.SignedTxn.Txn
		if tx.Type != sdk.ApplicationCallTx || uint64(tx.ApplicationID) != d.appID {
			continue
		}
		if len(tx.ApplicationArgs) == 0 || string(tx.ApplicationArgs[0]) != LockMethod {
			continue
		}
		// Blocks strip genesis fields from transactions; restore them for the txid.
		if stib.HasGenesisID {
			tx.GenesisID = block.GenesisID
		}
		if stib.HasGenesisHash {
			tx.GenesisHash = block.GenesisHash
		}
		txid := crypto.TransactionIDString(tx)

		ev, err := decodeLock(tx.ApplicationArgs)
		if err != nil {
			skipped = append(skipped, Skipped{TxID: txid, Index: i, Reason: err.Error()})
			continue
		}
		ev.Height = uint64(block.Round)
		ev.Index = uint(i)
		ev.TxHash = txid
		ev.Sender = Address(tx.Sender)
		out = append(out, ev)
	}
	return out, skipped
}

func decodeLock(args [][]byte) (relay.Event, error) {
	if len(args) != lockArgs {
		return relay.Event{}, fmt.Errorf("lock call has %d args, want %d", len(args), lockArgs)
	}
	if len(args[1]) != common.AddressLength {
		return relay.Event{}, fmt.Errorf("recipient is %d bytes, want %d", len(args[1]), common.AddressLength)
	}
	var ev relay.Event
	ev.Recipient = common.BytesToAddress(args[1])
	for _, f := range []struct {
		name string
		raw  []byte
		dst  **uint256.Int
	}{
		{"amount", args[2], &ev.Amount},
		{"destination", args[3], &ev.DestinationID},
		{"nonce", args[4], &ev.Nonce},
	} {
		if len(f.raw) == 0 || len(f.raw) > 32 {
			return relay.Event{}, fmt.Errorf("%s is %d bytes, want 1..32", f.name, len(f.raw))
		}
		*f.dst = new(uint256.Int).SetBytes(f.raw)
	}
	return ev, nil
}

type blockResponse struct {
	Block sdk.Block `codec:"block"`
}

func decodeBlock(raw []byte, dest *sdk.Block) error {
	var resp blockResponse
	h := &codec.MsgpackHandle{}
	dec := codec.NewDecoder(bytes.NewReader(raw), h)
	if err := dec.Decode(&resp); err != nil {
		return err
	}
	*dest = resp.Block
	return nil
}
