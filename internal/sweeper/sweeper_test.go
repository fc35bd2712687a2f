package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	interval time.Duration
	calls    atomic.Int32
}

func (j *fakeJob) Interval() time.Duration { return j.interval }
func (j *fakeJob) Sweep(ctx context.Context) (int, error) {
	j.calls.Add(1)
	return 0, nil
}

type fakeElector struct {
	leader atomic.Bool
}

func (e *fakeElector) IsLeader(ctx context.Context) bool { return e.leader.Load() }

func TestAlwaysLeaderIsAlwaysLeader(t *testing.T) {
	var leader AlwaysLeader
	assert.True(t, leader.IsLeader(context.Background()))
}

func TestSweeperRunsJobsOnTheirTickers(t *testing.T) {
	j := &fakeJob{interval: 5 * time.Millisecond}
	elector := &fakeElector{}
	elector.leader.Store(true)

	sw := &Sweeper{elector: elector, jobs: []job{j}, stopCh: make(chan struct{})}
	sw.Start(context.Background())

	require.Eventually(t, func() bool { return j.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	sw.Stop()
}

func TestSweeperSkipsNonLeaderTicks(t *testing.T) {
	j := &fakeJob{interval: 5 * time.Millisecond}
	elector := &fakeElector{}
	elector.leader.Store(false)

	sw := &Sweeper{elector: elector, jobs: []job{j}, stopCh: make(chan struct{})}
	sw.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	sw.Stop()

	assert.Equal(t, int32(0), j.calls.Load())
}

func TestNewDefaultsToAlwaysLeader(t *testing.T) {
	sw := New(nil, nil, nil, nil)
	_, ok := sw.elector.(AlwaysLeader)
	assert.True(t, ok)
}
