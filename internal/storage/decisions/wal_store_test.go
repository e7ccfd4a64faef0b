package decisions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

func TestWALStore_TracesAndEquity(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	conf := 0.8
	require.NoError(t, store.SaveTrace(domain.DecisionTrace{
		TickID:  "t1",
		Time:    now,
		Pair:    "BTC_USDT",
		Outcome: domain.OutcomeSkipped,
		Reason:  "cash_floor",
		Gates:   []domain.GateResult{{Gate: "cash_floor", Passed: false, Reason: "cash_floor"}},
		Decision: &domain.Decision{
			State: domain.StateDip, Action: domain.ActionBuy, Confidence: conf, RiskFlags: []string{"dip"},
		},
	}))
	require.NoError(t, store.SaveEquity(domain.EquitySnapshot{Time: now, Pair: "BTC_USDT", Price: 50000, CashUSD: 9000, BTC: 0.02, EquityUSD: 10000}))
	require.NoError(t, store.SaveTrace(domain.DecisionTrace{TickID: "t2", Time: now.Add(time.Minute), Pair: "BTC_USDT", Outcome: domain.OutcomeHold}))

	assert.EqualValues(t, 3, store.CurrentIndex())

	traces, err := store.TracesAfter(0)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.EqualValues(t, 1, traces[0].Index)
	assert.Equal(t, "t1", traces[0].Trace.TickID)
	assert.Equal(t, domain.ActionBuy, traces[0].Trace.Decision.Action)
	assert.EqualValues(t, 3, traces[1].Index)

	after, err := store.TracesAfter(1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "t2", after[0].Trace.TickID)

	equity, err := store.EquityAfter(0)
	require.NoError(t, err)
	require.Len(t, equity, 1)
	assert.Equal(t, 10000.0, equity[0].Snapshot.EquityUSD)

	last, err := store.LastTraces(1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "t2", last[0].Trace.TickID)

	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.EqualValues(t, 3, reopened.CurrentIndex())
}

func TestWALStore_Validation(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.SaveTrace(domain.DecisionTrace{}))
	assert.Error(t, store.SaveEquity(domain.EquitySnapshot{}))

	var nilStore *WALStore
	assert.Zero(t, nilStore.CurrentIndex())
	_, err = nilStore.TracesAfter(0)
	assert.Error(t, err)
}
