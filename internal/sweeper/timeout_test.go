package sweeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTimeoutChecker(t *testing.T) {
	c := NewTimeoutChecker(nil, nil, 30*time.Second)
	assert.Equal(t, 30*time.Second, c.Interval())
}

func TestNewStaleWorkerSweeper(t *testing.T) {
	s := NewStaleWorkerSweeper(nil, 60*time.Second, 20*time.Second)
	assert.Equal(t, 20*time.Second, s.Interval())
}

func TestNewRetentionCleaner(t *testing.T) {
	c := NewRetentionCleaner(nil, 30, 24*time.Hour)
	assert.Equal(t, 24*time.Hour, c.Interval())
}
