package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"gigflow/job"
	"gigflow/order"
)

var (
	ErrNotFound     = errors.New("review: job not found")
	ErrValidation   = errors.New("review: invalid input")
	ErrConflict     = errors.New("review: already reviewed")
	ErrUnauthorized = errors.New("review: caller is not the job's client")
)

// Repository defines the per-step data access the completion gate needs, all
// inside the caller's transaction.
type Repository interface {
	LockJob(ctx context.Context, tx pgx.Tx, jobID string) (job.Job, error)
	ReviewExists(ctx context.Context, tx pgx.Tx, jobID, clientID string) (bool, error)
	CompleteJob(ctx context.Context, tx pgx.Tx, jobID, providerID string) error
	CompleteLatestEligibleOrder(ctx context.Context, tx pgx.Tx, jobID, providerID string) (*order.Order, error)
	InsertReview(ctx context.Context, tx pgx.Tx, params SubmitParams) (Review, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) LockJob(ctx context.Context, tx pgx.Tx, jobID string) (job.Job, error) {
	j, err := job.LockByID(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return job.Job{}, ErrNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (r *PGRepository) ReviewExists(ctx context.Context, tx pgx.Tx, jobID, clientID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reviews WHERE job_id = $1 AND client_id = $2)
	`, jobID, clientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("review: check existing: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) CompleteJob(ctx context.Context, tx pgx.Tx, jobID, providerID string) error {
	return job.CompleteInTx(ctx, tx, jobID, providerID)
}

// CompleteLatestEligibleOrder finalizes the most recent live order for the
// (job, provider) pair. Returns nil when no order is eligible; that is not an
// error, a client may review a job that never had a formal offer.
func (r *PGRepository) CompleteLatestEligibleOrder(ctx context.Context, tx pgx.Tx, jobID, providerID string) (*order.Order, error) {
	const query = `
		UPDATE orders
		SET status = 'completed', updated_at = now()
		WHERE id = (
			SELECT id
			FROM orders
			WHERE job_id = $1
			  AND provider_id = $2
			  AND status IN ('accepted', 'paid', 'in_progress')
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, job_id, client_id, provider_id, status::text, price_eur, payment_ref, created_at, updated_at
	`

	var o order.Order
	err := tx.QueryRow(ctx, query, jobID, providerID).Scan(
		&o.ID, &o.JobID, &o.ClientID, &o.ProviderID, &o.Status,
		&o.PriceEUR, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("review: complete order: %w", err)
	}
	return &o, nil
}

func (r *PGRepository) InsertReview(ctx context.Context, tx pgx.Tx, params SubmitParams) (Review, error) {
	const insertSQL = `
		INSERT INTO reviews (job_id, client_id, provider_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, job_id, client_id, provider_id, rating, comment, created_at
	`

	var rev Review
	err := tx.QueryRow(ctx, insertSQL,
		params.JobID, params.ClientID, params.ProviderID, params.Rating, params.Comment,
	).Scan(&rev.ID, &rev.JobID, &rev.ClientID, &rev.ProviderID, &rev.Rating, &rev.Comment, &rev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Review{}, ErrConflict
		}
		return Review{}, fmt.Errorf("review: insert: %w", err)
	}
	return rev, nil
}
