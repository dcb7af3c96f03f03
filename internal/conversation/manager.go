package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/zhenhai/internal/confirm"
	"github.com/ent0n29/zhenhai/internal/memory"
	"github.com/ent0n29/zhenhai/internal/usage"
)

const defaultResetTTL = 5 * time.Minute

// Summarizer condenses the upstream conversation behind a continuation handle.
type Summarizer interface {
	Summarize(ctx context.Context, handle string) (string, error)
}

// Observer receives state transitions for metrics. All methods must be cheap
// and safe for concurrent use.
type Observer interface {
	TurnStarted()
	TurnFinished(outcome string)
	Compaction(outcome string)
	UsageRecorded(feature string, allowed bool)
	ResetTransition(outcome string)
}

type nopObserver struct{}

func (nopObserver) TurnStarted() {}
func (nopObserver) TurnFinished(string) {}
func (nopObserver) Compaction(string) {}
func (nopObserver) UsageRecorded(string, bool) {}
func (nopObserver) ResetTransition(string) {}

// Options wires a Manager to its stores and collaborators.
type Options struct {
	Memory     memory.Store
	Usage      usage.Store
	Confirm    confirm.Store
	Summarizer Summarizer

	// Location decides where a usage day starts. Defaults to time.Local.
	Location *time.Location
	// ResetTTL is how long a reset request waits for confirmation.
	ResetTTL time.Duration

	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

// Manager owns per-user conversation memory, the shared daily usage counters
// and the reset confirmation dialogue. Turns for one user are serialized;
// different users run in parallel.
type Manager struct {
	memory     memory.Store
	usage      usage.Store
	confirm    confirm.Store
	summarizer Summarizer
	loc        *time.Location
	resetTTL   time.Duration
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer
	locks      *keyedLock
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Memory == nil || opts.Usage == nil || opts.Confirm == nil {
		return nil, errors.New("conversation: memory, usage and confirm stores are required")
	}
	if opts.Summarizer == nil {
		return nil, errors.New("conversation: summarizer is required")
	}
	m := &Manager{
		memory:     opts.Memory,
		usage:      opts.Usage,
		confirm:    opts.Confirm,
		summarizer: opts.Summarizer,
		loc:        opts.Location,
		resetTTL:   opts.ResetTTL,
		now:        opts.Now,
		logger:     opts.Logger,
		observer:   opts.Observer,
		locks:      newKeyedLock(),
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.resetTTL <= 0 {
		m.resetTTL = defaultResetTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	return m, nil
}

// Location is the timezone used for usage days and prompt timestamps.
func (m *Manager) Location() *time.Location { return m.loc }

// Now returns the manager clock in its location.
func (m *Manager) Now() time.Time { return m.now().In(m.loc) }

// Memory returns the stored state for userID without starting a turn.
func (m *Manager) Memory(ctx context.Context, userID string) (memory.UserMemory, error) {
	const op = "memory"
	if err := validateUserID(userID); err != nil {
		return memory.UserMemory{}, newError(KindInvalidInput, op, err)
	}
	mem, err := m.memory.Load(ctx, userID)
	if err != nil {
		return memory.UserMemory{}, newError(KindStorage, op, err)
	}
	return mem, nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("empty user id")
	}
	return nil
}
