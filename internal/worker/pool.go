// Package worker implements the worker runtime of spec §4.8: a
// bounded-concurrency pool that polls the queue for acquirable tasks,
// executes their step handler, and reports the outcome back to the engine
// so it can advance (or fail) the owning execution.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/internal/config"
	"github.com/flowforge/orchestrator/internal/deadletter"
	"github.com/flowforge/orchestrator/internal/engine"
	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
	"github.com/flowforge/orchestrator/internal/notifier"
	"github.com/flowforge/orchestrator/internal/queue"
	"github.com/flowforge/orchestrator/internal/store"
	"github.com/flowforge/orchestrator/internal/task"
)

// attemptHistoryKey is the reserved task.Metadata key the worker uses to
// carry a task's failed-attempt history across retries and worker
// restarts, since only the DB (not the process) is guaranteed to survive
// between attempts.
const attemptHistoryKey = "attempt_history"

// State represents the worker pool's current operational state.
type State int

const (
	StateIdle         State = iota // not yet started
	StateBusy                      // polling and executing tasks
	StatePaused                    // not acquiring new tasks, in-flight ones still run
	StateShuttingDown              // draining in-flight tasks before exit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Pool manages a pool of concurrent worker goroutines, each polling the
// queue for acquirable tasks within its own concurrency slot.
type Pool struct {
	id        string
	queue     *queue.PostgresQueue
	engine    *engine.Engine
	executor  *Executor
	heartbeat *Heartbeat
	config    *config.WorkerConfig

	state   State
	stateMu sync.RWMutex

	currentTasks sync.Map // taskID -> *runningTask
	inFlight     int32    // atomic: tasks acquired but not yet finished
	taskCh       chan *task.Task
	wg           sync.WaitGroup
	stopCh       chan struct{}

	notify *notifier.Notifier
}

// SetNotifier attaches an optional "tasks available" hint source the
// pollLoop wakes up on instead of waiting out its full PollInterval. A nil
// notifier (the default) leaves the pool on fixed-interval polling alone.
func (p *Pool) SetNotifier(n *notifier.Notifier) {
	p.notify = n
}

type runningTask struct {
	task      *task.Task
	cancel    context.CancelFunc
	startedAt time.Time
}

// NewPool creates a worker pool with the given configuration and handler
// registry (keyed by workflow.Step.HandlerRef).
func NewPool(cfg *config.WorkerConfig, db *store.DB, q *queue.PostgresQueue, eng *engine.Engine, handlers map[string]TaskHandler) *Pool {
	workerID := cfg.ID
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Pool{
		id:        workerID,
		queue:     q,
		engine:    eng,
		executor:  NewExecutor(handlers),
		heartbeat: NewHeartbeat(db, workerID, cfg.HeartbeatInterval, cfg.Concurrency),
		config:    cfg,
		state:     StateIdle,
		taskCh:    make(chan *task.Task, cfg.BatchSize),
		stopCh:    make(chan struct{}),
	}
}

// Start spawns one goroutine per concurrency slot to run acquired tasks,
// a single poller that keeps them fed up to BatchSize at a time, and a
// background reclaim loop for orphaned locks.
func (p *Pool) Start(ctx context.Context) error {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	if err := p.heartbeat.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat: %w", err)
	}

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.runTasks(ctx, i)
	}

	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.wg.Add(1)
	go p.reclaimLoop(ctx)

	logger.WithWorker(p.id).Info().Int("concurrency", p.config.Concurrency).Msg("worker pool started")
	return nil
}

// Stop signals every worker goroutine to finish its current task and exit,
// releasing any task it still holds a lock on once the drain timeout
// expires (spec §4.8's graceful shutdown).
func (p *Pool) Stop(ctx context.Context) error {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.WithWorker(p.id).Info().Msg("worker pool stopped gracefully")
	case <-time.After(p.config.DrainTimeout):
		logger.WithWorker(p.id).Warn().Msg("worker pool drain timed out, releasing remaining locks")
	case <-ctx.Done():
		logger.WithWorker(p.id).Warn().Msg("worker pool shutdown canceled")
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := p.queue.ReleaseLockedByWorker(releaseCtx, p.id); err != nil {
		logger.WithWorker(p.id).Error().Err(err).Msg("failed to release locked tasks on shutdown")
	} else if n > 0 {
		logger.WithWorker(p.id).Info().Int64("count", n).Msg("released tasks still locked at shutdown")
	}

	p.heartbeat.Stop()
	return nil
}

// Pause stops the pool from acquiring new tasks; in-flight tasks continue
// to completion.
func (p *Pool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StateBusy {
		p.state = StatePaused
		logger.WithWorker(p.id).Info().Msg("worker pool paused")
	}
}

// Resume lets the pool acquire new tasks again.
func (p *Pool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StatePaused {
		p.state = StateBusy
		logger.WithWorker(p.id).Info().Msg("worker pool resumed")
	}
}

// State returns the pool's current operational state.
func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// ID returns the pool's worker identifier.
func (p *Pool) ID() string {
	return p.id
}

// ActiveTasks returns the number of tasks currently executing.
func (p *Pool) ActiveTasks() int {
	count := 0
	p.currentTasks.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// pollLoop is the pool's single acquirer: each tick it claims as many tasks
// as there is spare concurrency for (bounded by BatchSize), and hands them
// to the fixed pool of runTasks goroutines over taskCh.
func (p *Pool) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	log := logger.WithWorker(p.id)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if p.notify != nil {
		sub, err := p.notify.Subscribe(ctx, p.config.NotifyDebounce)
		if err != nil {
			log.Warn().Err(err).Msg("failed to subscribe to tasks-available hint, polling on interval alone")
		} else {
			defer sub.Close()
			wake = sub.Wake()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		case <-wake:
		}

		if p.State() == StatePaused {
			continue
		}

		avail := p.config.Concurrency - int(atomic.LoadInt32(&p.inFlight))
		if avail <= 0 {
			continue
		}
		limit := p.config.BatchSize
		if avail < limit {
			limit = avail
		}

		tasks, err := p.queue.Acquire(ctx, p.id, limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to acquire tasks")
			continue
		}

		for _, t := range tasks {
			atomic.AddInt32(&p.inFlight, 1)
			select {
			case p.taskCh <- t:
			case <-p.stopCh:
				atomic.AddInt32(&p.inFlight, -1)
				if relErr := p.queue.Release(ctx, t.ID); relErr != nil {
					log.Error().Err(relErr).Str("task_id", t.ID).Msg("failed to release task on shutdown")
				}
			case <-ctx.Done():
				atomic.AddInt32(&p.inFlight, -1)
			}
		}
	}
}

// runTasks is one concurrency slot: it consumes acquired tasks from taskCh
// and executes them to completion, one at a time.
func (p *Pool) runTasks(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	log := logger.WithWorker(p.id)
	log.Info().Int("worker_num", workerNum).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case t := <-p.taskCh:
			if err := p.processTask(ctx, t); err != nil {
				log.Error().Err(err).Str("task_id", t.ID).Msg("error processing task")
			}
			atomic.AddInt32(&p.inFlight, -1)
		}
	}
}

// processTask runs a single acquired task's handler and reports the
// outcome back to the engine.
func (p *Pool) processTask(ctx context.Context, t *task.Task) error {
	step, defn, err := p.engine.ResolveStep(ctx, t)
	if err != nil {
		logger.WithTask(t.ID).Error().Err(err).Msg("failed to resolve step, releasing")
		return p.queue.Release(ctx, t.ID)
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt := &runningTask{task: t, cancel: cancel, startedAt: time.Now()}
	p.currentTasks.Store(t.ID, rt)
	defer p.currentTasks.Delete(t.ID)
	p.heartbeat.UpdateActiveTasks(p.ActiveTasks())

	result, execErr := p.executor.Execute(taskCtx, step.HandlerRef, t)
	duration := time.Since(rt.startedAt)

	if execErr != nil {
		metrics.RecordTaskCompletion(defn.Name, t.StepName, "failed", duration.Seconds())
		return p.handleTaskFailure(ctx, t, execErr)
	}

	metrics.RecordTaskCompletion(defn.Name, t.StepName, "completed", duration.Seconds())
	if err := p.engine.CompleteAndAdvance(ctx, t, result); err != nil {
		logger.WithTask(t.ID).Error().Err(err).Msg("failed to complete and advance")
		return err
	}
	logger.WithTask(t.ID).Info().Str("step", t.StepName).Int("attempt", t.Attempt).Msg("task completed")
	return nil
}

// handleTaskFailure appends this attempt to the task's carried history and
// lets the engine decide (via queue.Fail's retry/dead-letter outcome)
// whether to schedule another attempt or dead-letter it.
func (p *Pool) handleTaskFailure(ctx context.Context, t *task.Task, execErr error) error {
	log := logger.WithTask(t.ID)
	log.Error().Err(execErr).Str("step", t.StepName).Msg("task execution failed")

	history := appendAttemptHistory(t, execErr)

	if err := p.engine.FailAndAdvance(ctx, t, execErr.Error(), history); err != nil {
		log.Error().Err(err).Msg("failed to record failure and advance")
		return err
	}
	return nil
}

func appendAttemptHistory(t *task.Task, execErr error) []deadletter.AttemptRecord {
	var history []deadletter.AttemptRecord
	if t.Metadata != nil {
		if raw, ok := t.Metadata[attemptHistoryKey]; ok {
			_ = json.Unmarshal([]byte(raw), &history)
		}
	}
	history = append(history, deadletter.AttemptRecord{
		Attempt:   t.Attempt + 1,
		Error:     execErr.Error(),
		Timestamp: time.Now().UTC(),
	})

	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	if encoded, err := json.Marshal(history); err == nil {
		t.Metadata[attemptHistoryKey] = string(encoded)
	}
	return history
}

// reclaimLoop periodically resets orphaned (lock-timed-out) tasks back to
// PENDING so another worker can pick them up.
func (p *Pool) reclaimLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HeartbeatInterval * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.queue.Reclaim(ctx); err != nil {
				logger.WithWorker(p.id).Error().Err(err).Msg("failed to reclaim orphaned tasks")
			}
		}
	}
}
