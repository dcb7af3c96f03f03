package usage

import (
	"context"
	"time"
)

// Well-known feature names.
const (
	FeatureAsk       = "ask"
	FeatureSummarize = "summarize"
	FeatureImage     = "image"
)

// Features lists the counters seeded at startup.
var Features = []string{FeatureAsk, FeatureSummarize, FeatureImage}

// Counter is the daily invocation count of one feature.
type Counter struct {
	Feature string    `json:"feature"`
	Count   int       `json:"count"`
	Date    time.Time `json:"date"`
}

// Store persists per-feature daily counters. Every increment is a single
// atomic statement; a counter whose date is not day restarts at 1.
type Store interface {
	// Seed creates a zero counter for each feature that has no row yet.
	Seed(ctx context.Context, features []string, day time.Time) error
	// Increment adds one and returns the post-increment count.
	Increment(ctx context.Context, feature string, day time.Time) (int, error)
	// IncrementBelow adds one only when the day's count is below limit. It
	// returns the post-increment count and true, or the current count and
	// false when the limit was already reached.
	IncrementBelow(ctx context.Context, feature string, day time.Time, limit int) (int, bool, error)
	// List returns all counters with stale days reported as zero.
	List(ctx context.Context, day time.Time) ([]Counter, error)
}

// Day truncates t to its calendar date in loc, expressed as midnight UTC so
// it maps onto a DATE column without timezone drift.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
