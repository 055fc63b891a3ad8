package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crypto-market-analyzer/internal/model"
	"crypto-market-analyzer/internal/publisher"
)

type fakeResult struct {
	tickers []model.RawTicker
	err     error
	gate    chan struct{} // 非空时阻塞到被关闭
}

type fakeSource struct {
	mu       sync.Mutex
	calls    int
	results  []fakeResult
	fallback fakeResult
	started  chan int
	ctxErrs  []error
}

func (f *fakeSource) FetchAllTickers(ctx context.Context) ([]model.RawTicker, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	r := f.fallback
	if idx < len(f.results) {
		r = f.results[idx]
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- idx
	}
	if r.gate != nil {
		<-r.gate
	}

	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return r.tickers, r.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu      sync.Mutex
	updates []model.Update
}

func (r *recorder) Publish(_ context.Context, u model.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recorder) Updates() []model.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Update(nil), r.updates...)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, model.Update) error { return errors.New("sink down") }

func ticker(symbol, volume string) model.RawTicker {
	return model.RawTicker{
		Symbol: symbol, LastPrice: "1", Volume: volume,
		PriceChange: "0", PriceChangePercent: "0",
		HighPrice: "1", LowPrice: "1", OpenPrice: "1",
	}
}

func assetSymbols(s *model.Snapshot) []string {
	out := make([]string, 0, len(s.Assets))
	for _, a := range s.Assets {
		out = append(out, a.Symbol)
	}
	return out
}

func newScheduler(src TickerSource, policy Policy, pubs ...publisher.Publisher) *Scheduler {
	return NewScheduler(Params{
		Source:     src,
		Interval:   time.Hour,
		Policy:     policy,
		Publishers: pubs,
		Logger:     zap.NewNop(),
	})
}

func TestRefresh_AppliesFilteredRankedSnapshot(t *testing.T) {
	src := &fakeSource{fallback: fakeResult{tickers: []model.RawTicker{
		ticker("ETHUSDT", "500"),
		ticker("ETHBTC", "9999"),
		ticker("BTCUSDT", "1000"),
		ticker("XRPUSDT", "500"),
	}}}
	rec := &recorder{}
	s := newScheduler(src, PolicyLatestIssued, rec, failingPublisher{})

	require.Nil(t, s.Snapshot())
	require.NoError(t, s.Refresh(context.Background()))

	snap := s.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, uint64(1), snap.Generation)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"}, assetSymbols(snap))

	updates := rec.Updates()
	require.Len(t, updates, 1)
	require.Equal(t, model.StateApplied, updates[0].State)
	require.Same(t, snap, updates[0].Snapshot)

	st := s.Status()
	require.Equal(t, model.StateIdle, st.State)
	require.Equal(t, model.StateApplied, st.LastOutcome)
	require.Equal(t, uint64(1), st.AppliedGeneration)
	require.NotNil(t, st.LastAppliedAt)
	require.Empty(t, st.LastError)
}

func TestRefresh_FailureKeepsSnapshotAndSurfacesError(t *testing.T) {
	upstreamErr := &model.UpstreamError{Op: "fetchAllTickers", Status: 500}
	src := &fakeSource{results: []fakeResult{
		{tickers: []model.RawTicker{ticker("BTCUSDT", "1")}},
		{err: upstreamErr},
	}}
	rec := &recorder{}
	s := newScheduler(src, PolicyLatestIssued, rec)

	require.NoError(t, s.Refresh(context.Background()))
	before := s.Snapshot()

	err := s.Refresh(context.Background())
	var ue *model.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 500, ue.Status)

	require.Same(t, before, s.Snapshot())

	st := s.Status()
	require.Equal(t, model.StateFailed, st.LastOutcome)
	require.Contains(t, st.LastError, "status 500")
	require.NotNil(t, st.LastErrorAt)

	updates := rec.Updates()
	require.Len(t, updates, 2)
	require.Equal(t, model.StateFailed, updates[1].State)
	require.Nil(t, updates[1].Snapshot)
	require.Contains(t, updates[1].Error, "status 500")
}

func TestRefresh_SuccessClearsLastError(t *testing.T) {
	src := &fakeSource{results: []fakeResult{
		{err: errors.New("flaky")},
		{tickers: []model.RawTicker{ticker("BTCUSDT", "1")}},
	}}
	s := newScheduler(src, PolicyLatestIssued)

	require.Error(t, s.Refresh(context.Background()))
	require.Nil(t, s.Snapshot())
	require.NotEmpty(t, s.Status().LastError)

	require.NoError(t, s.Refresh(context.Background()))
	require.Empty(t, s.Status().LastError)
	require.Equal(t, uint64(2), s.Snapshot().Generation)
}

func TestStart_RunsImmediately(t *testing.T) {
	src := &fakeSource{fallback: fakeResult{tickers: []model.RawTicker{ticker("BTCUSDT", "1")}}}
	s := newScheduler(src, PolicyLatestIssued)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Snapshot() != nil }, time.Second, 5*time.Millisecond)
	require.True(t, s.Status().Running)
}

func TestStart_KeepsTickingAfterFailures(t *testing.T) {
	src := &fakeSource{fallback: fakeResult{err: errors.New("exchange unavailable")}}
	s := NewScheduler(Params{Source: src, Interval: 10 * time.Millisecond, Logger: zap.NewNop()})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return src.Calls() >= 4 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	require.False(t, s.Status().Running)

	// 停止后定时器不再触发
	time.Sleep(30 * time.Millisecond)
	settled := src.Calls()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, settled, src.Calls())
	require.Nil(t, s.Snapshot())
}

func TestStart_Idempotent(t *testing.T) {
	src := &fakeSource{fallback: fakeResult{tickers: []model.RawTicker{ticker("BTCUSDT", "1")}}}
	s := newScheduler(src, PolicyLatestIssued)

	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Snapshot() != nil }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, src.Calls())
}

func TestStop_DoesNotCancelInFlightCycle(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		results: []fakeResult{{tickers: []model.RawTicker{ticker("BTCUSDT", "1")}, gate: gate}},
		started: make(chan int, 4),
	}
	s := newScheduler(src, PolicyLatestIssued)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-src.started

	s.Stop()
	cancel()
	close(gate)

	require.Eventually(t, func() bool { return s.Snapshot() != nil }, time.Second, 5*time.Millisecond)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.NoError(t, src.ctxErrs[0], "in-flight cycle context must not be cancelled by Stop")
}

// 第 1 代阻塞，第 2 代先完成，然后第 1 代才返回
func runOutOfOrder(t *testing.T, policy Policy) (*Scheduler, *recorder) {
	t.Helper()

	gate := make(chan struct{})
	src := &fakeSource{
		results: []fakeResult{
			{tickers: []model.RawTicker{ticker("OLDUSDT", "1")}, gate: gate},
			{tickers: []model.RawTicker{ticker("NEWUSDT", "1")}},
		},
		started: make(chan int, 4),
	}
	rec := &recorder{}
	s := newScheduler(src, policy, rec)

	first := make(chan error, 1)
	go func() { first <- s.Refresh(context.Background()) }()
	<-src.started
	require.Equal(t, model.StateFetching, s.Status().State)

	require.NoError(t, s.Refresh(context.Background()))
	require.Equal(t, uint64(2), s.Snapshot().Generation)

	close(gate)
	require.NoError(t, <-first)
	return s, rec
}

func TestOutOfOrderCompletion_LatestIssuedDiscardsOlderGeneration(t *testing.T) {
	s, rec := runOutOfOrder(t, PolicyLatestIssued)

	snap := s.Snapshot()
	require.Equal(t, uint64(2), snap.Generation)
	require.Equal(t, []string{"NEWUSDT"}, assetSymbols(snap))

	updates := rec.Updates()
	require.Len(t, updates, 2)
	require.Equal(t, uint64(1), updates[1].Generation)
	require.Equal(t, model.StateDiscarded, updates[1].State)
	require.Equal(t, model.StateDiscarded, s.Status().LastOutcome)
}

func TestOutOfOrderCompletion_LastCompletedWins(t *testing.T) {
	s, rec := runOutOfOrder(t, PolicyLastCompleted)

	snap := s.Snapshot()
	require.Equal(t, uint64(1), snap.Generation)
	require.Equal(t, []string{"OLDUSDT"}, assetSymbols(snap))

	updates := rec.Updates()
	require.Len(t, updates, 2)
	require.Equal(t, model.StateApplied, updates[1].State)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyLatestIssued, p)

	p, err = ParsePolicy("last_completed")
	require.NoError(t, err)
	require.Equal(t, PolicyLastCompleted, p)

	_, err = ParsePolicy("random")
	require.Error(t, err)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(Params{Source: &fakeSource{}})
	require.Equal(t, DefaultInterval, s.p.Interval)
	require.Equal(t, model.DefaultQuoteAsset, s.QuoteAsset())
	require.Equal(t, PolicyLatestIssued, s.p.Policy)
}
