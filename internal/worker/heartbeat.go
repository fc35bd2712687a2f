package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/store"
)

// Heartbeat registers a worker in the workers table and keeps its
// last_heartbeat column fresh so the sweeper can tell a paused worker from
// a crashed one (spec §4.8).
type Heartbeat struct {
	db       *store.DB
	workerID string
	hostname string
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	concurrency int
	activeTasks int
}

// NewHeartbeat creates a heartbeat manager bound to the given pool.
func NewHeartbeat(db *store.DB, workerID string, interval time.Duration, concurrency int) *Heartbeat {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Heartbeat{
		db:          db,
		workerID:    workerID,
		hostname:    hostname,
		interval:    interval,
		concurrency: concurrency,
		stopCh:      make(chan struct{}),
	}
}

// Start registers the worker row and begins the heartbeat loop.
func (h *Heartbeat) Start(ctx context.Context) error {
	if err := h.register(ctx); err != nil {
		return fmt.Errorf("register worker %s: %w", h.workerID, err)
	}

	h.wg.Add(1)
	go h.loop(ctx)

	logger.WithWorker(h.workerID).Info().Dur("interval", h.interval).Msg("heartbeat started")
	return nil
}

// Stop stops the heartbeat loop and marks the worker row STOPPED.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deregister(ctx); err != nil {
		logger.WithWorker(h.workerID).Error().Err(err).Msg("failed to deregister worker")
	}
	logger.WithWorker(h.workerID).Info().Msg("heartbeat stopped")
}

// UpdateActiveTasks records the current in-flight task count for the next
// heartbeat tick.
func (h *Heartbeat) UpdateActiveTasks(count int) {
	h.mu.Lock()
	h.activeTasks = count
	h.mu.Unlock()
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				logger.WithWorker(h.workerID).Error().Err(err).Msg("failed to send heartbeat")
			}
		}
	}
}

func (h *Heartbeat) register(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := h.db.Pool.Exec(ctx, `
		INSERT INTO workers (id, worker_id, hostname, status, concurrency, active_tasks, last_heartbeat, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'ACTIVE', $4, 0, $5, $5, $5, $5)
		ON CONFLICT (worker_id) DO UPDATE SET
			status = 'ACTIVE', hostname = EXCLUDED.hostname, concurrency = EXCLUDED.concurrency,
			active_tasks = 0, last_heartbeat = EXCLUDED.last_heartbeat, started_at = EXCLUDED.started_at,
			stopped_at = NULL, updated_at = EXCLUDED.updated_at
	`, uuid.New().String(), h.workerID, h.hostname, h.concurrency, now)
	return err
}

func (h *Heartbeat) beat(ctx context.Context) error {
	h.mu.Lock()
	active := h.activeTasks
	h.mu.Unlock()

	now := time.Now().UTC()
	_, err := h.db.Pool.Exec(ctx, `
		UPDATE workers SET last_heartbeat = $1, active_tasks = $2, updated_at = $1 WHERE worker_id = $3
	`, now, active, h.workerID)
	return err
}

func (h *Heartbeat) deregister(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := h.db.Pool.Exec(ctx, `
		UPDATE workers SET status = 'STOPPED', stopped_at = $1, updated_at = $1 WHERE worker_id = $2
	`, now, h.workerID)
	return err
}
