package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/zhenhai/internal/confirm"
	"github.com/ent0n29/zhenhai/internal/db"
	"github.com/ent0n29/zhenhai/internal/memory"
	"github.com/ent0n29/zhenhai/internal/usage"
)

type fakeSummarizer struct {
	mu      sync.Mutex
	digest  string
	err     error
	handles []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = append(f.handles, handle)
	return f.digest, f.err
}

type failingMemory struct {
	memory.Store
	err error
}

func (f failingMemory) IncrementTurn(context.Context, string) (memory.UserMemory, error) {
	return memory.UserMemory{}, f.err
}

// cancelAwareMemory fails writes on a done context like a database driver.
type cancelAwareMemory struct {
	memory.Store
}

func (c cancelAwareMemory) Save(ctx context.Context, m memory.UserMemory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.Save(ctx, m)
}

type fixture struct {
	mgr        *Manager
	mem        *memory.InMemoryStore
	usage      *usage.InMemoryStore
	confirm    *confirm.MemoryStore
	summarizer *fakeSummarizer
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:        memory.NewInMemoryStore(),
		usage:      usage.NewInMemoryStore(),
		confirm:    confirm.NewMemoryStore(0),
		summarizer: &fakeSummarizer{digest: "digest"},
		now:        time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	mgr, err := NewManager(Options{
		Memory:     f.mem,
		Usage:      f.usage,
		Confirm:    f.confirm,
		Summarizer: f.summarizer,
		Location:   time.UTC,
		Now:        func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// turn runs one full successful turn and returns its context.
func (f *fixture) turn(t *testing.T, userID, handle string) TurnContext {
	t.Helper()
	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, userID)
	require.NoError(t, err)
	defer turn.End(ctx)
	tc := turn.Context()
	require.NoError(t, turn.Commit(ctx, handle, nil))
	return tc
}

func (f *fixture) load(t *testing.T, userID string) memory.UserMemory {
	t.Helper()
	m, err := f.mem.Load(context.Background(), userID)
	require.NoError(t, err)
	return m
}

func TestBeginTurnCountsAndFirstTurn(t *testing.T) {
	f := newFixture(t)

	first := f.turn(t, "g-1", "h1")
	assert.True(t, first.FirstTurn)
	assert.Equal(t, 1, first.TurnCount)
	assert.Empty(t, first.ContinuationHandle)
	assert.NotEmpty(t, first.RequestID)

	second := f.turn(t, "g-1", "h2")
	assert.False(t, second.FirstTurn)
	assert.Equal(t, "h1", second.ContinuationHandle)

	for i := 0; i < 3; i++ {
		f.turn(t, "g-1", "h3")
	}
	assert.Equal(t, 5, f.load(t, "g-1").TurnCount)
}

func TestBeginTurnRejectsEmptyUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.BeginTurn(context.Background(), "  ")
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestBeginTurnStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.mgr.memory = failingMemory{Store: f.mem, err: db.ErrUnavailable}

	_, err := f.mgr.BeginTurn(context.Background(), "u")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStorage))
	assert.ErrorIs(t, err, db.ErrUnavailable)
	assert.Zero(t, f.mgr.locks.size())
}

func TestMaybeCompactBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h1")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer turn.End(ctx)

	res, err := turn.MaybeCompact(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, f.summarizer.handles)
}

func TestMaybeCompactWithoutHandle(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.turn(t, "u", "")
	}

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer turn.End(ctx)

	res, err := turn.MaybeCompact(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 5, turn.Context().TurnCount)
}

func TestMaybeCompactSuccess(t *testing.T) {
	f := newFixture(t)
	f.summarizer.digest = "  user likes go  "
	for i := 0; i < 2; i++ {
		f.turn(t, "u", "h-old")
	}

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer turn.End(ctx)

	res, err := turn.MaybeCompact(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "user likes go", res.Summary)
	assert.Equal(t, 3, res.TurnsFolded)
	assert.Equal(t, []string{"h-old"}, f.summarizer.handles)

	stored := f.load(t, "u")
	assert.Equal(t, "user likes go", stored.Summary)
	assert.Nil(t, stored.ContinuationHandle)
	assert.Zero(t, stored.TurnCount)

	tc := turn.Context()
	assert.Equal(t, "user likes go", tc.Summary)
	assert.Empty(t, tc.ContinuationHandle)

	again, err := turn.MaybeCompact(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, turn.Commit(ctx, "h-new", nil))
	stored = f.load(t, "u")
	assert.Equal(t, "h-new", stored.Handle())
	assert.Equal(t, "user likes go", stored.Summary)
}

func TestMaybeCompactFailureLeavesStateIdentical(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		f.turn(t, "u", "h-old")
	}
	f.summarizer.err = errors.New("upstream 500")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer turn.End(ctx)

	before := f.load(t, "u")
	res, err := turn.MaybeCompact(ctx, 3)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsKind(err, KindCompaction))

	after := f.load(t, "u")
	assert.Equal(t, before.Summary, after.Summary)
	assert.Equal(t, before.Handle(), after.Handle())
	assert.Equal(t, before.TurnCount, after.TurnCount)

	// The caller may still go ahead with the primary request.
	require.NoError(t, turn.Commit(ctx, "h-next", nil))
	assert.Equal(t, "h-next", f.load(t, "u").Handle())
}

func TestMaybeCompactEmptyDigestIsFailure(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h")
	f.summarizer.digest = "   "

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer turn.End(ctx)

	_, err = turn.MaybeCompact(ctx, 1)
	assert.True(t, IsKind(err, KindCompaction))
	assert.Equal(t, "h", f.load(t, "u").Handle())
}

func TestCommitWithSummary(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h1")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	summary := "folded"
	require.NoError(t, turn.Commit(ctx, "", &summary))
	turn.End(ctx)

	stored := f.load(t, "u")
	assert.Equal(t, "folded", stored.Summary)
	assert.Nil(t, stored.ContinuationHandle)
	assert.Equal(t, 2, stored.TurnCount)

	assert.True(t, IsKind(turn.Commit(ctx, "x", nil), KindInvalidInput))
}

func TestRollbackRestoresCounter(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h1")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, f.load(t, "u").TurnCount)
	require.NoError(t, turn.Rollback(ctx))
	turn.End(ctx)

	stored := f.load(t, "u")
	assert.Equal(t, 1, stored.TurnCount)
	assert.Equal(t, "h1", stored.Handle())
}

func TestAbortWrapsProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h1")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	cause := errors.New("429 too many requests")
	err = turn.Abort(ctx, cause)
	turn.End(ctx)

	assert.True(t, IsKind(err, KindProvider))
	assert.ErrorIs(t, err, cause)
	stored := f.load(t, "u")
	assert.Equal(t, 1, stored.TurnCount)
	assert.Equal(t, "h1", stored.Handle())
}

func TestAbortWithCancelledContextRestoresCounter(t *testing.T) {
	f := newFixture(t)
	mgr, err := NewManager(Options{
		Memory:     cancelAwareMemory{Store: f.mem},
		Usage:      f.usage,
		Confirm:    f.confirm,
		Summarizer: f.summarizer,
		Location:   time.UTC,
		Now:        func() time.Time { return f.now },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, 1, f.load(t, "u").TurnCount)

	cancel()
	err = turn.Abort(ctx, context.Canceled)
	turn.End(ctx)

	assert.True(t, IsKind(err, KindProvider))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.load(t, "u").TurnCount)

	next, err := mgr.BeginTurn(context.Background(), "u")
	require.NoError(t, err)
	defer next.End(context.Background())
	assert.True(t, next.Context().FirstTurn)
}

func TestRollbackKeepsCompaction(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "u", "h1")

	ctx := context.Background()
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	_, err = turn.MaybeCompact(ctx, 2)
	require.NoError(t, err)
	turn.End(ctx)

	stored := f.load(t, "u")
	assert.Equal(t, "digest", stored.Summary)
	assert.Zero(t, stored.TurnCount)
	assert.Nil(t, stored.ContinuationHandle)
}

func TestConcurrentTurnsSameUserSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, handle := range []string{"ha", "hb"} {
		wg.Add(1)
		go func(i int, handle string) {
			defer wg.Done()
			<-start
			turn, err := f.mgr.BeginTurn(ctx, "u")
			if !assert.NoError(t, err) {
				return
			}
			defer turn.End(ctx)
			time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
			assert.NoError(t, turn.Commit(ctx, handle, nil))
		}(i, handle)
	}
	close(start)
	wg.Wait()

	stored := f.load(t, "u")
	assert.Equal(t, 2, stored.TurnCount)
	assert.Contains(t, []string{"ha", "hb"}, stored.Handle())
	assert.Zero(t, f.mgr.locks.size())
}

func TestDifferentUsersRunInParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.mgr.BeginTurn(ctx, "a")
	require.NoError(t, err)
	defer a.End(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b, err := f.mgr.BeginTurn(ctx, "b")
		if assert.NoError(t, err) {
			b.End(ctx)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("turn for another user blocked")
	}
}

func TestBeginTurnHonoursContextWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	defer held.End(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.mgr.BeginTurn(waitCtx, "u")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStorage))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecordUsageRollsOverDaily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var res UsageResult
	var err error
	for i := 0; i < 5; i++ {
		res, err = f.mgr.RecordUsage(ctx, usage.FeatureAsk, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, res.Count)
	assert.False(t, res.Exceeded)

	f.now = f.now.Add(24 * time.Hour)
	res, err = f.mgr.RecordUsage(ctx, usage.FeatureAsk, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestRecordUsageReportsExceededButCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.mgr.RecordUsage(ctx, usage.FeatureSummarize, 3)
		require.NoError(t, err)
		assert.False(t, res.Exceeded)
	}
	res, err := f.mgr.RecordUsage(ctx, usage.FeatureSummarize, 3)
	require.NoError(t, err)
	assert.True(t, res.Exceeded)
	assert.Equal(t, 4, res.Count)
}

func TestGateUsageStopsAtLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		res, err := f.mgr.GateUsage(ctx, usage.FeatureImage, 15)
		require.NoError(t, err)
		assert.False(t, res.Exceeded)
		assert.Equal(t, i, res.Count)
	}
	for i := 0; i < 2; i++ {
		res, err := f.mgr.GateUsage(ctx, usage.FeatureImage, 15)
		require.NoError(t, err)
		assert.True(t, res.Exceeded)
		assert.Equal(t, 15, res.Count)
	}

	f.now = f.now.Add(24 * time.Hour)
	res, err := f.mgr.GateUsage(ctx, usage.FeatureImage, 15)
	require.NoError(t, err)
	assert.False(t, res.Exceeded)
	assert.Equal(t, 1, res.Count)
}

func TestUsageToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.SeedUsage(ctx))
	_, err := f.mgr.RecordUsage(ctx, usage.FeatureAsk, 0)
	require.NoError(t, err)

	counters, err := f.mgr.UsageToday(ctx)
	require.NoError(t, err)
	require.Len(t, counters, len(usage.Features))
	for _, c := range counters {
		if c.Feature == usage.FeatureAsk {
			assert.Equal(t, 1, c.Count)
		} else {
			assert.Zero(t, c.Count)
		}
	}
}

func TestResetConfirmationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.turn(t, "u", "h1")
	summary := "keep me"
	turn, err := f.mgr.BeginTurn(ctx, "u")
	require.NoError(t, err)
	require.NoError(t, turn.Commit(ctx, "h2", &summary))
	turn.End(ctx)
	before := f.load(t, "u")

	out, err := f.mgr.ConfirmReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetNothingPending, out)

	out, err = f.mgr.CancelReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetNothingPending, out)

	out, err = f.mgr.RequestReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetPending, out)
	out, err = f.mgr.CancelReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetCancelled, out)

	after := f.load(t, "u")
	assert.Equal(t, before.Summary, after.Summary)
	assert.Equal(t, before.Handle(), after.Handle())
	assert.Equal(t, before.TurnCount, after.TurnCount)

	_, err = f.mgr.RequestReset(ctx, "u")
	require.NoError(t, err)
	out, err = f.mgr.ConfirmReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetDone, out)

	wiped := f.load(t, "u")
	assert.Empty(t, wiped.Summary)
	assert.Nil(t, wiped.ContinuationHandle)
	assert.Zero(t, wiped.TurnCount)

	out, err = f.mgr.ConfirmReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetNothingPending, out)
}

func TestResetRequestExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mgr, err := NewManager(Options{
		Memory:     f.mem,
		Usage:      f.usage,
		Confirm:    f.confirm,
		Summarizer: f.summarizer,
		ResetTTL:   10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = mgr.RequestReset(ctx, "u")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	out, err := mgr.ConfirmReset(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, ResetNothingPending, out)
}

func TestNewManagerRequiresStores(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}
