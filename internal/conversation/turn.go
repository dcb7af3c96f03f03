package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/memory"
)

// TurnContext is what the caller needs to build the primary AI request.
type TurnContext struct {
	UserID    string
	RequestID string
	// FirstTurn is true when this is the first exchange of a conversation:
	// turn_count is 1 and no continuation handle exists yet.
	FirstTurn          bool
	Summary            string
	ContinuationHandle string
	TurnCount          int
}

// CompactionResult reports a completed compaction.
type CompactionResult struct {
	Summary       string
	TurnsFolded   int
	PreviousRound string
}

// Turn is one serialized read-modify-write of a user's memory. It holds the
// user's lock from BeginTurn until End.
type Turn struct {
	m         *Manager
	userID    string
	requestID string
	release   func()

	// base is what Rollback restores: the state before this turn's increment,
	// or the compacted state once compaction succeeded.
	base    memory.UserMemory
	current memory.UserMemory

	finished bool
	ended    bool
}

// BeginTurn loads or creates the user's memory, increments its turn counter
// and locks the user until End is called.
func (m *Manager) BeginTurn(ctx context.Context, userID string) (*Turn, error) {
	const op = "begin_turn"
	if err := validateUserID(userID); err != nil {
		return nil, newError(KindInvalidInput, op, err)
	}

	release, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return nil, newError(KindStorage, op, err)
	}

	current, err := m.memory.IncrementTurn(ctx, userID)
	if err != nil {
		release()
		return nil, newError(KindStorage, op, err)
	}

	base := current.Clone()
	base.TurnCount--
	t := &Turn{
		m:         m,
		userID:    userID,
		requestID: uuid.NewString(),
		release:   release,
		base:      base,
		current:   current,
	}
	m.observer.TurnStarted()
	m.logger.DebugContext(ctx, "turn started",
		"user_id", userID, "request_id", t.requestID, "turn_count", current.TurnCount)
	return t, nil
}

// Context returns the state the primary request should be built from.
func (t *Turn) Context() TurnContext {
	return TurnContext{
		UserID:             t.userID,
		RequestID:          t.requestID,
		FirstTurn:          t.current.TurnCount == 1 && !t.current.HasHandle(),
		Summary:            t.current.Summary,
		ContinuationHandle: t.current.Handle(),
		TurnCount:          t.current.TurnCount,
	}
}

// MaybeCompact folds the upstream conversation into the summary once the
// turn counter reaches threshold and a handle exists. It returns nil when
// nothing was due. On summarizer failure memory is left exactly as it was and
// a KindCompaction error is returned; the turn remains usable.
func (t *Turn) MaybeCompact(ctx context.Context, threshold int) (*CompactionResult, error) {
	const op = "maybe_compact"
	if t.finished {
		return nil, newError(KindInvalidInput, op, errTurnFinished)
	}
	if threshold <= 0 || t.current.TurnCount < threshold || !t.current.HasHandle() {
		return nil, nil
	}

	handle := t.current.Handle()
	digest, err := t.m.summarizer.Summarize(ctx, handle)
	if err == nil && strings.TrimSpace(digest) == "" {
		err = errors.New("summarizer returned an empty digest")
	}
	if err != nil {
		t.m.observer.Compaction("failed")
		t.m.logger.WarnContext(ctx, "compaction failed",
			"user_id", t.userID, "request_id", t.requestID, tint.Err(err))
		return nil, newError(KindCompaction, op, err)
	}

	compacted := memory.UserMemory{UserID: t.userID, Summary: strings.TrimSpace(digest)}
	if err := t.m.memory.Save(ctx, compacted); err != nil {
		t.m.observer.Compaction("failed")
		return nil, newError(KindStorage, op, err)
	}

	result := &CompactionResult{
		Summary:       compacted.Summary,
		TurnsFolded:   t.current.TurnCount,
		PreviousRound: handle,
	}
	t.base = compacted.Clone()
	t.current = compacted
	t.m.observer.Compaction("ok")
	t.m.logger.InfoContext(ctx, "conversation compacted",
		"user_id", t.userID, "request_id", t.requestID,
		"turns_folded", result.TurnsFolded, "summary_len", len(compacted.Summary))
	return result, nil
}

// Commit stores the provider's continuation handle and, when newSummary is
// non-nil, replaces the summary. An empty handle clears it.
func (t *Turn) Commit(ctx context.Context, handle string, newSummary *string) error {
	const op = "commit_turn"
	if t.finished {
		return newError(KindInvalidInput, op, errTurnFinished)
	}

	next := t.current.Clone()
	next.ContinuationHandle = memory.HandlePtr(handle)
	if newSummary != nil {
		next.Summary = *newSummary
	}
	if err := t.m.memory.Save(ctx, next); err != nil {
		return newError(KindStorage, op, err)
	}
	t.current = next
	t.finished = true
	t.m.observer.TurnFinished("committed")
	return nil
}

// Rollback undoes this turn's counter increment after a failed primary call.
// A compaction that already succeeded is kept. The restore runs even when
// ctx is already cancelled, since a cancelled request is the usual reason
// for rolling back. A failed restore leaves the turn unfinished so End
// tries again.
func (t *Turn) Rollback(ctx context.Context) error {
	const op = "rollback_turn"
	if t.finished {
		return nil
	}
	if err := t.m.memory.Save(context.WithoutCancel(ctx), t.base); err != nil {
		return newError(KindStorage, op, err)
	}
	t.finished = true
	t.m.observer.TurnFinished("rolled_back")
	t.current = t.base.Clone()
	return nil
}

// Abort rolls the turn back after the primary AI call failed and returns
// cause as a KindProvider error.
func (t *Turn) Abort(ctx context.Context, cause error) error {
	if err := t.Rollback(ctx); err != nil {
		return err
	}
	return newError(KindProvider, "primary_call", cause)
}

// End releases the user's lock. A turn that was neither committed nor
// rolled back is rolled back first. End is safe to call more than once.
func (t *Turn) End(ctx context.Context) {
	if t.ended {
		return
	}
	if !t.finished {
		if err := t.Rollback(ctx); err != nil {
			t.m.logger.ErrorContext(ctx, "rollback on end failed",
				"user_id", t.userID, "request_id", t.requestID, tint.Err(err))
		}
	}
	t.ended = true
	t.release()
}

var errTurnFinished = errors.New("turn already committed or rolled back")
