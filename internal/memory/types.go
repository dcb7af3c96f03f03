package memory

import (
	"context"
	"time"
)

// UserMemory is the rolling conversation state kept for one user.
type UserMemory struct {
	UserID  string `json:"user_id"`
	Summary string `json:"summary"`

	// ContinuationHandle is owned by the AI provider; nil means no upstream
	// conversation to resume.
	ContinuationHandle *string   `json:"continuation_handle,omitempty"`
	TurnCount          int       `json:"turn_count"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Empty returns the initial state for userID.
func Empty(userID string) UserMemory {
	return UserMemory{UserID: userID}
}

func (m UserMemory) HasHandle() bool {
	return m.ContinuationHandle != nil && *m.ContinuationHandle != ""
}

// Handle returns the continuation handle or "" when absent.
func (m UserMemory) Handle() string {
	if m.ContinuationHandle == nil {
		return ""
	}
	return *m.ContinuationHandle
}

// Clone returns a copy that shares no pointers with m.
func (m UserMemory) Clone() UserMemory {
	c := m
	if m.ContinuationHandle != nil {
		h := *m.ContinuationHandle
		c.ContinuationHandle = &h
	}
	return c
}

// Store persists per-user conversation state.
type Store interface {
	// Load returns the stored state, or Empty(userID) when none exists.
	Load(ctx context.Context, userID string) (UserMemory, error)
	// IncrementTurn atomically creates the row if needed, adds one to the
	// turn counter and returns the resulting state.
	IncrementTurn(ctx context.Context, userID string) (UserMemory, error)
	// Save overwrites the stored state.
	Save(ctx context.Context, m UserMemory) error
}

// HandlePtr converts "" to nil.
func HandlePtr(handle string) *string {
	if handle == "" {
		return nil
	}
	return &handle
}
