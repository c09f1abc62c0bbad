package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("job: not found")
	ErrValidation        = errors.New("job: invalid input")
	ErrInvalidTransition = errors.New("job: invalid status transition")
	ErrUnauthorized      = errors.New("job: caller is not allowed")
)

const jobColumns = `id, client_id, provider_id, status::text, title, description,
       budget_min, budget_max, is_negotiable, created_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.ClientID,
		&j.ProviderID,
		&j.Status,
		&j.Title,
		&j.Description,
		&j.BudgetMin,
		&j.BudgetMax,
		&j.IsNegotiable,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so reads can run either
// standalone or inside a caller's transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetByID loads one job.
func GetByID(ctx context.Context, q Querier, jobID string) (Job, error) {
	j, err := scanJob(q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get by id: %w", err)
	}
	return j, nil
}

// LockByID loads one job FOR UPDATE inside the caller's transaction.
func LockByID(ctx context.Context, tx pgx.Tx, jobID string) (Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: lock by id: %w", err)
	}
	return j, nil
}

// CompleteInTx is the fast path used by the review gate: it sets the provider
// and flips the job straight to completed, bypassing intermediate states.
// Re-invoking on an already-completed job with the same provider is a no-op.
func CompleteInTx(ctx context.Context, tx pgx.Tx, jobID, providerID string) error {
	j, err := LockByID(ctx, tx, jobID)
	if err != nil {
		return err
	}

	if j.Status == StatusCompleted {
		if j.ProviderID != nil && *j.ProviderID == providerID {
			return nil
		}
		return fmt.Errorf("%w: job completed with a different provider", ErrInvalidTransition)
	}
	if j.Status == StatusCancelled {
		return fmt.Errorf("%w: cancelled job cannot be completed", ErrInvalidTransition)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', provider_id = $2, updated_at = now()
		WHERE id = $1
	`, jobID, providerID); err != nil {
		return fmt.Errorf("job: complete: %w", err)
	}
	return nil
}

func listJobs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]Job, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, 8)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("job: scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate: %w", err)
	}
	return out, nil
}
