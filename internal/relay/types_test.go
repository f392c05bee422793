package relay

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestWindowSplit(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		maxSpan uint64
		want    []Window
	}{
		{"empty", Window{From: 10, To: 9}, 5, nil},
		{"single height", Window{From: 7, To: 7}, 5, []Window{{7, 7}}},
		{"exact multiple", Window{From: 1, To: 10}, 5, []Window{{1, 5}, {6, 10}}},
		{"remainder", Window{From: 91, To: 95}, 2, []Window{{91, 92}, {93, 94}, {95, 95}}},
		{"span larger than window", Window{From: 91, To: 95}, 1000, []Window{{91, 95}}},
		{"zero span", Window{From: 1, To: 3}, 0, []Window{{1, 3}}},
		{"top of range", Window{From: ^uint64(0) - 2, To: ^uint64(0)}, 2, []Window{{^uint64(0) - 2, ^uint64(0) - 1}, {^uint64(0), ^uint64(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.window.Split(tt.maxSpan))
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{From: 91, To: 95}
	require.True(t, w.Contains(91))
	require.True(t, w.Contains(95))
	require.False(t, w.Contains(90))
	require.False(t, w.Contains(96))
	require.False(t, Window{From: 5, To: 4}.Contains(5))
}

func TestSortEventsByHeightThenIndex(t *testing.T) {
	evs := []Event{
		{Height: 93, Index: 0, Nonce: uint256.NewInt(4)},
		{Height: 91, Index: 1, Nonce: uint256.NewInt(2)},
		{Height: 92, Index: 0, Nonce: uint256.NewInt(3)},
		{Height: 91, Index: 0, Nonce: uint256.NewInt(1)},
	}
	SortEvents(evs)
	var keys []string
	for _, e := range evs {
		keys = append(keys, e.DedupKey())
	}
	require.Equal(t, []string{"1", "2", "3", "4"}, keys)
}

func TestDedupKeyIsDecimalNonce(t *testing.T) {
	nonce := uint256.MustFromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	ev := Event{Nonce: nonce}
	require.Equal(t, nonce.Dec(), ev.DedupKey())
	require.Equal(t, "", Event{}.DedupKey())
}

func TestOutcomeRoundTrip(t *testing.T) {
	for _, o := range []Outcome{OutcomeAccepted, OutcomeRejected, OutcomeIgnored, OutcomeUnknown} {
		got, err := ParseOutcome(o.String())
		require.NoError(t, err)
		require.Equal(t, o, got)
	}
	_, err := ParseOutcome("minted")
	require.Error(t, err)
	require.False(t, OutcomeUnknown.Terminal())
	require.True(t, OutcomeRejected.Terminal())
}

func TestRecordFor(t *testing.T) {
	ev := Event{
		Height:    91,
		Index:     1,
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Amount:    uint256.NewInt(1500),
		Nonce:     uint256.NewInt(77),
	}
	rec := RecordFor(ev, Receipt{Outcome: OutcomeAccepted, TxHash: "0xfeed"})
	require.Equal(t, "77", rec.Key)
	require.Equal(t, "1500", rec.Amount)
	require.Equal(t, ev.Recipient.Hex(), rec.Recipient)
	require.Equal(t, OutcomeAccepted, rec.Outcome)
}
