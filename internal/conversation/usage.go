package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/ent0n29/zhenhai/internal/usage"
)

// UsageResult is the outcome of one usage call.
type UsageResult struct {
	Feature string
	// Count is the post-increment count, or the current count when a gated
	// call was refused.
	Count int
	// Exceeded reports whether the day's count had already reached the limit
	// before this call.
	Exceeded bool
}

// RecordUsage always increments feature's daily counter and reports whether
// the pre-increment count had already reached limit. A non-positive limit
// never reports Exceeded.
func (m *Manager) RecordUsage(ctx context.Context, feature string, limit int) (UsageResult, error) {
	const op = "record_usage"
	if err := validateFeature(feature); err != nil {
		return UsageResult{}, newError(KindInvalidInput, op, err)
	}
	count, err := m.usage.Increment(ctx, feature, usage.Day(m.now(), m.loc))
	if err != nil {
		return UsageResult{}, newError(KindStorage, op, err)
	}
	m.observer.UsageRecorded(feature, true)
	return UsageResult{
		Feature:  feature,
		Count:    count,
		Exceeded: limit > 0 && count-1 >= limit,
	}, nil
}

// GateUsage increments feature's daily counter only while it is below limit.
// When the limit is already reached the counter is left alone and Exceeded is
// set.
func (m *Manager) GateUsage(ctx context.Context, feature string, limit int) (UsageResult, error) {
	const op = "gate_usage"
	if err := validateFeature(feature); err != nil {
		return UsageResult{}, newError(KindInvalidInput, op, err)
	}
	count, ok, err := m.usage.IncrementBelow(ctx, feature, usage.Day(m.now(), m.loc), limit)
	if err != nil {
		return UsageResult{}, newError(KindStorage, op, err)
	}
	m.observer.UsageRecorded(feature, ok)
	if !ok {
		m.logger.InfoContext(ctx, "daily limit reached", "feature", feature, "count", count, "limit", limit)
	}
	return UsageResult{Feature: feature, Count: count, Exceeded: !ok}, nil
}

// UsageToday lists every counter as of the current usage day.
func (m *Manager) UsageToday(ctx context.Context) ([]usage.Counter, error) {
	counters, err := m.usage.List(ctx, usage.Day(m.now(), m.loc))
	if err != nil {
		return nil, newError(KindStorage, "usage_today", err)
	}
	return counters, nil
}

// SeedUsage creates zero counters for the known features.
func (m *Manager) SeedUsage(ctx context.Context) error {
	if err := m.usage.Seed(ctx, usage.Features, usage.Day(m.now(), m.loc)); err != nil {
		return newError(KindStorage, "seed_usage", err)
	}
	return nil
}

func validateFeature(feature string) error {
	if strings.TrimSpace(feature) == "" {
		return errors.New("empty feature name")
	}
	return nil
}
