package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowforge/orchestrator/internal/store"
)

// ErrWorkerNotFound is returned when an admin lookup targets a worker_id
// with no row in the workers table.
var ErrWorkerNotFound = errors.New("worker: not found")

// Info is a worker registry row, as surfaced by the admin API.
type Info struct {
	ID             string     `json:"id"`
	WorkerID       string     `json:"worker_id"`
	Hostname       string     `json:"hostname"`
	Status         string     `json:"status"`
	Concurrency    int        `json:"concurrency"`
	ActiveTasks    int        `json:"active_tasks"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
}

// ListWorkers returns every worker that has ever registered, most recently
// heartbeated first.
func ListWorkers(ctx context.Context, db *store.DB) ([]*Info, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, worker_id, hostname, status, concurrency, active_tasks, last_heartbeat, started_at, stopped_at
		FROM workers ORDER BY last_heartbeat DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []*Info
	for rows.Next() {
		w, err := scanWorkerInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWorker looks up a single worker by its worker_id.
func GetWorker(ctx context.Context, db *store.DB, workerID string) (*Info, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, worker_id, hostname, status, concurrency, active_tasks, last_heartbeat, started_at, stopped_at
		FROM workers WHERE worker_id = $1
	`, workerID)

	w, err := scanWorkerInfo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return w, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkerInfo(row rowScanner) (*Info, error) {
	var w Info
	err := row.Scan(&w.ID, &w.WorkerID, &w.Hostname, &w.Status, &w.Concurrency, &w.ActiveTasks,
		&w.LastHeartbeat, &w.StartedAt, &w.StoppedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return &w, nil
}
