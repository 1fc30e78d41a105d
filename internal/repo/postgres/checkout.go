package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

// Checkout hands out a run's tasks to concurrent droids, exactly one caller
// per task. The claim is a single conditional UPDATE: the candidate row is
// selected with FOR UPDATE SKIP LOCKED so that two in-flight claims can never
// pick the same task, and a claim that finds every candidate row locked or
// taken simply moves past it to the next one.
type Checkout struct {
	runs *RunStore
	db   DB
}

const (
	claimNextTaskQuery = `UPDATE tasks
	 SET status = 'scheduled'
	 WHERE id = (
		SELECT id FROM tasks
		WHERE run_id = $1 AND status = 'initialized'
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	 )
	 RETURNING id, run_id, name, annotation, settings, status, result, result_details, duration_ms`

	// Transient SQLSTATEs retried inside the claim, never surfaced.
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	claimMaxAttempts = 5
)

func NewCheckout(db DB, runs *RunStore) *Checkout {
	if db == nil || runs == nil {
		return nil
	}
	return &Checkout{runs: runs, db: db}
}

func (c *Checkout) CheckoutNext(ctx context.Context, runID int64) (domain.Task, error) {
	if c == nil || c.db == nil {
		return domain.Task{}, fmt.Errorf("checkout not initialized")
	}

	var lastErr error
	for attempt := 0; attempt < claimMaxAttempts; attempt++ {
		task, err := scanTask(c.db.QueryRowContext(ctx, claimNextTaskQuery, runID))
		if err == nil {
			return task, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing claimable. Distinguish a missing run from a drained one.
			if _, err := c.runs.Get(ctx, runID); err != nil {
				return domain.Task{}, err
			}
			return domain.Task{}, repo.ErrExhausted
		}
		if !isTransientConflict(err) {
			return domain.Task{}, fmt.Errorf("claim task: %w", err)
		}
		lastErr = err
	}
	return domain.Task{}, fmt.Errorf("claim task: %w", lastErr)
}

func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
