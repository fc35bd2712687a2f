package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, Exponential, p.Strategy)
	assert.Equal(t, 1*time.Second, p.BaseDelay)
	assert.Equal(t, 5*time.Minute, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.True(t, p.Jitter)
}

func TestCalculateDelay_Fixed(t *testing.T) {
	p := Policy{Strategy: Fixed, BaseDelay: 2 * time.Second, MaxDelay: 1 * time.Minute}

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 2*time.Second, CalculateDelay(p, attempt))
	}
}

func TestCalculateDelay_Linear(t *testing.T) {
	p := Policy{Strategy: Linear, BaseDelay: 1 * time.Second, MaxDelay: 1 * time.Minute}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{100, 1 * time.Minute}, // capped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CalculateDelay(p, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestCalculateDelay_Exponential(t *testing.T) {
	p := Policy{
		Strategy:   Exponential,
		BaseDelay:  1 * time.Second,
		MaxDelay:   1 * time.Minute,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},  // base * 2^0
		{2, 2 * time.Second},  // base * 2^1
		{3, 4 * time.Second},  // base * 2^2
		{4, 8 * time.Second},  // base * 2^3
		{10, 1 * time.Minute}, // capped at max
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, CalculateDelay(p, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	p := Policy{
		Strategy:   Exponential,
		BaseDelay:  2 * time.Second,
		MaxDelay:   1 * time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}

	for i := 0; i < 20; i++ {
		d := CalculateDelay(p, 1) // undilated delay is 2s
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestCalculateDelay_Monotonic(t *testing.T) {
	p := Policy{Strategy: Linear, BaseDelay: 1 * time.Second, MaxDelay: 1 * time.Hour}

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := CalculateDelay(p, attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}

	p.Strategy = Exponential
	p.Multiplier = 2.0
	prev = 0
	for attempt := 1; attempt <= 10; attempt++ {
		d := CalculateDelay(p, attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	tests := []struct {
		attempt  int
		expected bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{5, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ShouldRetry(p, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNextRetryAt(t *testing.T) {
	p := Policy{Strategy: Fixed, BaseDelay: 5 * time.Second, MaxDelay: 1 * time.Minute}
	now := time.Now().UTC()

	retryAt := NextRetryAt(p, 1, now)

	assert.Equal(t, now.Add(5*time.Second), retryAt)
}
