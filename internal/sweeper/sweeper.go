package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/internal/logger"
)

// job is one periodic maintenance sweep.
type job interface {
	Interval() time.Duration
	Sweep(ctx context.Context) (int, error)
}

// Sweeper runs TimeoutChecker, StaleWorkerSweeper and RetentionCleaner on
// their own tickers, each tick gated by elector.IsLeader so only one
// instance in a multi-process deployment does the work, mirroring the
// teacher scheduler's SetNX-guarded loop one level up (interface instead of
// a hardcoded Redis lock).
type Sweeper struct {
	elector LeaderElector
	jobs    []job
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Sweeper. A nil elector defaults to AlwaysLeader.
func New(elector LeaderElector, timeoutChecker *TimeoutChecker, staleWorkers *StaleWorkerSweeper, retention *RetentionCleaner) *Sweeper {
	if elector == nil {
		elector = AlwaysLeader{}
	}
	return &Sweeper{
		elector: elector,
		jobs:    []job{timeoutChecker, staleWorkers, retention},
		stopCh:  make(chan struct{}),
	}
}

// Start launches one goroutine per job, each on its own ticker.
func (s *Sweeper) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	logger.Get().Info().Msg("sweeper started")
}

// Stop halts every sweep loop and waits for in-flight sweeps to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	logger.Get().Info().Msg("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.elector.IsLeader(ctx) {
				continue
			}
			if _, err := j.Sweep(ctx); err != nil {
				logger.Get().Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
