package conversation

import (
	"context"
	"errors"

	"github.com/ent0n29/zhenhai/internal/confirm"
	"github.com/ent0n29/zhenhai/internal/memory"
)

// ResetOutcome is the result of one step of the reset confirmation dialogue.
type ResetOutcome int

const (
	// ResetPending means a confirmation is now awaited.
	ResetPending ResetOutcome = iota + 1
	// ResetDone means memory was wiped.
	ResetDone
	// ResetCancelled means the pending request was dropped without changes.
	ResetCancelled
	// ResetNothingPending means confirm or cancel arrived with no live request.
	ResetNothingPending
)

func (o ResetOutcome) String() string {
	switch o {
	case ResetPending:
		return "pending"
	case ResetDone:
		return "done"
	case ResetCancelled:
		return "cancelled"
	case ResetNothingPending:
		return "nothing_pending"
	default:
		return "unknown"
	}
}

// RequestReset moves userID to the pending state. A repeated request
// restarts the expiry window.
func (m *Manager) RequestReset(ctx context.Context, userID string) (ResetOutcome, error) {
	const op = "request_reset"
	if err := validateUserID(userID); err != nil {
		return 0, newError(KindInvalidInput, op, err)
	}
	if err := m.confirm.Put(ctx, userID, m.resetTTL); err != nil {
		return 0, newError(KindStorage, op, err)
	}
	m.observer.ResetTransition(ResetPending.String())
	return ResetPending, nil
}

// ConfirmReset wipes userID's memory if a reset is pending. It waits for any
// in-flight turn of the same user so the wipe cannot be overwritten.
func (m *Manager) ConfirmReset(ctx context.Context, userID string) (ResetOutcome, error) {
	const op = "confirm_reset"
	if err := validateUserID(userID); err != nil {
		return 0, newError(KindInvalidInput, op, err)
	}

	release, err := m.locks.Lock(ctx, userID)
	if err != nil {
		return 0, newError(KindStorage, op, err)
	}
	defer release()

	if err := m.confirm.Consume(ctx, userID); err != nil {
		if errors.Is(err, confirm.ErrNotPending) {
			m.observer.ResetTransition(ResetNothingPending.String())
			return ResetNothingPending, nil
		}
		return 0, newError(KindStorage, op, err)
	}
	if err := m.memory.Save(ctx, memory.Empty(userID)); err != nil {
		return 0, newError(KindStorage, op, err)
	}
	m.observer.ResetTransition(ResetDone.String())
	m.logger.InfoContext(ctx, "memory reset", "user_id", userID)
	return ResetDone, nil
}

// CancelReset drops a pending reset without touching memory.
func (m *Manager) CancelReset(ctx context.Context, userID string) (ResetOutcome, error) {
	const op = "cancel_reset"
	if err := validateUserID(userID); err != nil {
		return 0, newError(KindInvalidInput, op, err)
	}
	if err := m.confirm.Consume(ctx, userID); err != nil {
		if errors.Is(err, confirm.ErrNotPending) {
			m.observer.ResetTransition(ResetNothingPending.String())
			return ResetNothingPending, nil
		}
		return 0, newError(KindStorage, op, err)
	}
	m.observer.ResetTransition(ResetCancelled.String())
	return ResetCancelled, nil
}
