package claimstore

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

// AdvisoryLock wraps Postgres' session-level advisory lock for gating which
// orchestrator replica runs the timeout-sweep and health-sweep loops. Nothing
// in the engine or dispatcher acquires it: those sweeps run on every replica
// without this gate. This is the spec's "distributed" framing applied beyond
// what the teacher (a single-writer deployment) ever needed; see DESIGN.md's
// Open Question resolution.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64
	log  *logger.Logger
	held bool
}

// SweepLockKey derives a stable advisory-lock key from a named sweep loop so
// different loops (timeout vs health) don't contend with each other.
func SweepLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// NewAdvisoryLock opens a dedicated pgx pool (advisory locks are
// session-scoped, so this must not share connections with gorm's pool) for
// the given Postgres URL.
func NewAdvisoryLock(ctx context.Context, postgresURL string, key int64, log *logger.Logger) (*AdvisoryLock, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, err
	}
	return &AdvisoryLock{pool: pool, key: key, log: log.With("component", "advisory_lock")}, nil
}

// TryAcquire attempts pg_try_advisory_lock, returning true iff this replica
// now owns the sweep loops gated by lock.key.
func (a *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var ok bool
	row := a.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", a.key)
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	a.held = ok
	if ok {
		a.log.Debug("acquired sweep advisory lock", "key", a.key)
	}
	return ok, nil
}

// Release calls pg_advisory_unlock if currently held.
func (a *AdvisoryLock) Release(ctx context.Context) error {
	if !a.held {
		return nil
	}
	var ok bool
	row := a.pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", a.key)
	if err := row.Scan(&ok); err != nil {
		return err
	}
	a.held = false
	return nil
}

// Close releases the underlying pgx pool (and with it the session-scoped
// lock, if still held).
func (a *AdvisoryLock) Close() {
	a.pool.Close()
}
