package sink

import (
	"context"
	"errors"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/devblac/bridge-relay/internal/source/evm"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var bridge = common.HexToAddress("0x00000000000000000000000000000000000b71d6")

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

type revertError struct{}

func (revertError) Error() string          { return "execution reverted: nonce already used" }
func (revertError) ErrorData() interface{} { return "0x08c379a0" }

type fakeChain struct {
	mu sync.Mutex

	abi          *abi.ABI
	chainErr     error
	processed    bool
	callErr      error
	nonceErr     error
	estimateErr  error
	sendErr      error
	status       uint64
	pendingPolls int

	sent         []*types.Transaction
	estimates    int
	receiptCalls int
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return big.NewInt(137), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, f.nonceErr
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 90000, nil
}

func (f *fakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.abi.Methods[evm.ProcessedMethod].Outputs.Pack(f.processed)
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.sendErr
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.pendingPolls < 0 || f.receiptCalls <= f.pendingPolls {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(43)}, nil
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	a, err := evm.BridgeABI()
	require.NoError(t, err)
	return &fakeChain{abi: a, status: types.ReceiptStatusSuccessful}
}

func newTestWriter(t *testing.T, fc *fakeChain, cfg MintConfig) *MintWriter {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	abis, err := evm.LoadABIs("")
	require.NoError(t, err)
	cfg.Contract = bridge
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = time.Millisecond
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = time.Second
	}
	w, err := NewMintWriter(context.Background(), fc, key, abis, cfg, nil)
	require.NoError(t, err)
	return w
}

func mintAction(nonce uint64) relay.Action {
	return relay.Action{
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Amount:    uint256.NewInt(1_000_000),
		DedupKey:  uint256.NewInt(nonce),
	}
}

func TestMintWriterAccepted(t *testing.T) {
	fc := newFakeChain(t)
	fc.pendingPolls = 2
	w := newTestWriter(t, fc, MintConfig{})

	rcpt, err := w.SubmitAction(context.Background(), mintAction(5))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeAccepted, rcpt.Outcome)
	require.Len(t, fc.sent, 1)
	require.Equal(t, 3, fc.receiptCalls)

	tx := fc.sent[0]
	require.Equal(t, rcpt.TxHash, tx.Hash().Hex())
	require.Equal(t, bridge, *tx.To())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(90000), tx.Gas())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), tx)
	require.NoError(t, err)
	require.Equal(t, w.From(), from)

	method := fc.abi.Methods[evm.MintMethod]
	require.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, mintAction(5).Recipient, args[0])
	require.Equal(t, int64(1_000_000), args[1].(*big.Int).Int64())
	require.Equal(t, int64(5), args[2].(*big.Int).Int64())
}

func TestMintWriterFixedGasSkipsEstimate(t *testing.T) {
	fc := newFakeChain(t)
	w := newTestWriter(t, fc, MintConfig{GasLimit: 150000})

	_, err := w.SubmitAction(context.Background(), mintAction(1))
	require.NoError(t, err)
	require.Zero(t, fc.estimates)
	require.Equal(t, uint64(150000), fc.sent[0].Gas())
}

func TestMintWriterRevertedReceiptIsRejected(t *testing.T) {
	fc := newFakeChain(t)
	fc.status = types.ReceiptStatusFailed
	w := newTestWriter(t, fc, MintConfig{})

	rcpt, err := w.SubmitAction(context.Background(), mintAction(2))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeRejected, rcpt.Outcome)
	require.NotEmpty(t, rcpt.TxHash)
	require.Contains(t, rcpt.Reason, "43")
}

func TestMintWriterEstimateRevertIsRejected(t *testing.T) {
	fc := newFakeChain(t)
	fc.estimateErr = revertError{}
	w := newTestWriter(t, fc, MintConfig{})

	rcpt, err := w.SubmitAction(context.Background(), mintAction(3))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeRejected, rcpt.Outcome)
	require.Contains(t, rcpt.Reason, "nonce already used")
	require.Empty(t, fc.sent)
}

func TestMintWriterReceiptTimeoutIsUnknown(t *testing.T) {
	fc := newFakeChain(t)
	fc.pendingPolls = -1
	w := newTestWriter(t, fc, MintConfig{ReceiptTimeout: 20 * time.Millisecond})

	rcpt, err := w.SubmitAction(context.Background(), mintAction(4))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeUnknown, rcpt.Outcome)
	require.Equal(t, fc.sent[0].Hash().Hex(), rcpt.TxHash)
}

func TestMintWriterSendErrors(t *testing.T) {
	t.Run("node refused", func(t *testing.T) {
		fc := newFakeChain(t)
		fc.sendErr = rpcError{code: -32000, msg: "insufficient funds for gas * price + value"}
		w := newTestWriter(t, fc, MintConfig{})

		_, err := w.SubmitAction(context.Background(), mintAction(1))
		require.Error(t, err)
		require.True(t, relay.IsTransient(err))
		require.Zero(t, fc.receiptCalls)
	})
	t.Run("connection lost", func(t *testing.T) {
		fc := newFakeChain(t)
		fc.sendErr = &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
		w := newTestWriter(t, fc, MintConfig{})

		rcpt, err := w.SubmitAction(context.Background(), mintAction(1))
		require.NoError(t, err)
		require.Equal(t, relay.OutcomeUnknown, rcpt.Outcome)
		require.NotEmpty(t, rcpt.TxHash)
	})
	t.Run("already known", func(t *testing.T) {
		fc := newFakeChain(t)
		fc.sendErr = rpcError{code: -32000, msg: "already known"}
		w := newTestWriter(t, fc, MintConfig{})

		rcpt, err := w.SubmitAction(context.Background(), mintAction(1))
		require.NoError(t, err)
		require.Equal(t, relay.OutcomeAccepted, rcpt.Outcome)
	})
}

func TestMintWriterPreflightErrorsAreNotBroadcast(t *testing.T) {
	fc := newFakeChain(t)
	fc.nonceErr = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	w := newTestWriter(t, fc, MintConfig{})

	_, err := w.SubmitAction(context.Background(), mintAction(1))
	require.True(t, relay.IsConnectivity(err))
	require.Empty(t, fc.sent)

	_, err = w.SubmitAction(context.Background(), relay.Action{Recipient: bridge})
	require.True(t, relay.IsFatal(err))
}

func TestMintWriterProcessedCheck(t *testing.T) {
	fc := newFakeChain(t)
	fc.processed = true
	w := newTestWriter(t, fc, MintConfig{CheckProcessed: true})

	rcpt, err := w.SubmitAction(context.Background(), mintAction(9))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeAccepted, rcpt.Outcome)
	require.Empty(t, fc.sent)

	fc.processed = false
	rcpt, err = w.SubmitAction(context.Background(), mintAction(10))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeAccepted, rcpt.Outcome)
	require.Len(t, fc.sent, 1)

	fc.callErr = rpcError{code: -32000, msg: "header not found"}
	_, err = w.SubmitAction(context.Background(), mintAction(11))
	require.True(t, relay.IsTransient(err))
	require.Len(t, fc.sent, 1)
}

func TestNewMintWriterValidation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	fc := newFakeChain(t)

	_, err = NewMintWriter(context.Background(), fc, nil, map[string]*abi.ABI{"b": fc.abi}, MintConfig{}, nil)
	require.Error(t, err)

	_, err = NewMintWriter(context.Background(), fc, key, map[string]*abi.ABI{}, MintConfig{}, nil)
	require.ErrorContains(t, err, evm.MintMethod)

	fc.chainErr = errors.New("dial tcp: connection refused")
	_, err = NewMintWriter(context.Background(), fc, key, map[string]*abi.ABI{"b": fc.abi}, MintConfig{}, nil)
	require.True(t, relay.IsConnectivity(err))
}

func TestParseKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, in := range []string{hexKey, "0x" + hexKey, " " + hexKey + "\n"} {
		got, err := ParseKey(in)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(got.PublicKey))
	}
	_, err = ParseKey("zz")
	require.Error(t, err)
}

func TestSimulatorNeverSends(t *testing.T) {
	fc := newFakeChain(t)
	s := NewSimulator(newTestWriter(t, fc, MintConfig{}))

	rcpt, err := s.SubmitAction(context.Background(), mintAction(1))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeAccepted, rcpt.Outcome)
	require.NotEmpty(t, rcpt.TxHash)
	require.Empty(t, fc.sent)
	require.Zero(t, fc.receiptCalls)

	fc.estimateErr = revertError{}
	rcpt, err = s.SubmitAction(context.Background(), mintAction(2))
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeRejected, rcpt.Outcome)

	head, err := s.HeadHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), head)
}
