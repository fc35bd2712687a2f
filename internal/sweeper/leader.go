// Package sweeper runs the periodic, leader-only maintenance jobs spec §1
// calls C11: the execution timeout checker, the stale-worker reaper, and
// dead-row retention cleanup. None of these touch in-flight dispatch —
// they only fix up rows left behind by a crash or a passed deadline.
package sweeper

import "context"

// LeaderElector decides whether this process may run the sweeps this tick.
// Spec §1 lists leader election among the external collaborators the core
// only consumes an interface from; this repo ships the trivial
// always-leader default and expects a real elector (a Postgres advisory
// lock, or an external library) to be substituted in a multi-instance
// deployment.
type LeaderElector interface {
	IsLeader(ctx context.Context) bool
}

// AlwaysLeader is the default LeaderElector for a single-instance
// deployment: every tick runs the sweep.
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader(ctx context.Context) bool { return true }
