package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/event"
	"gigflow/job"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrValidation        = errors.New("order: invalid input")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrUnauthorized      = errors.New("order: caller is not allowed")
	ErrJobClosed         = errors.New("order: job is not accepting offers")
)

const orderColumns = `id, job_id, client_id, provider_id, status::text, price_eur, payment_ref, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.JobID,
		&o.ClientID,
		&o.ProviderID,
		&o.Status,
		&o.PriceEUR,
		&o.PaymentRef,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// Service owns the order lifecycle. Every transition runs SELECT ... FOR
// UPDATE, validity check, UPDATE in one transaction; events go out after
// commit.
type Service struct {
	pool *pgxpool.Pool
	bus  *event.Bus
}

func NewService(pool *pgxpool.Pool, bus *event.Bus) *Service {
	return &Service{pool: pool, bus: bus}
}

// Create records a provider's priced offer against a job that is still
// accepting offers. The client id is denormalized from the job row.
func (s *Service) Create(ctx context.Context, providerID, jobID string, priceEUR float64) (Order, error) {
	if providerID == "" || jobID == "" {
		return Order{}, fmt.Errorf("%w: provider and job ids required", ErrValidation)
	}
	if priceEUR <= 0 {
		return Order{}, fmt.Errorf("%w: price must be positive", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := job.LockByID(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if j.Status == job.StatusCompleted || j.Status == job.StatusCancelled {
		return Order{}, fmt.Errorf("%w: job is %s", ErrJobClosed, j.Status)
	}
	if j.ClientID == providerID {
		return Order{}, fmt.Errorf("%w: client cannot offer on own job", ErrValidation)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO orders (job_id, client_id, provider_id, status, price_eur)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING `+orderColumns, jobID, j.ClientID, providerID, priceEUR))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit: %w", err)
	}

	s.publishUpdated(o)
	return o, nil
}

// Accept moves a pending order to accepted. Only the job's client may accept,
// and only while no other engagement is live. Sibling pending orders on the
// same job are declined in the same transaction.
func (s *Service) Accept(ctx context.Context, orderID, callerID string) (Order, error) {
	declined := []Order{}

	o, err := s.transition(ctx, orderID, StatusAccepted, func(tx pgx.Tx, cur Order) error {
		if callerID != cur.ClientID {
			return fmt.Errorf("%w: only the job's client may accept", ErrUnauthorized)
		}

		// The job row serializes concurrent accepts across sibling orders.
		if _, err := job.LockByID(ctx, tx, cur.JobID); err != nil {
			return err
		}
		var live bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM orders
				WHERE job_id = $1 AND status IN ('accepted', 'in_progress')
			)`, cur.JobID).Scan(&live); err != nil {
			return fmt.Errorf("order: check live engagement: %w", err)
		}
		if live {
			return fmt.Errorf("%w: job already has an accepted engagement", ErrJobClosed)
		}

		rows, err := tx.Query(ctx, `
			UPDATE orders
			SET status = 'declined', updated_at = now()
			WHERE job_id = $1 AND id <> $2 AND status = 'pending'
			RETURNING `+orderColumns, cur.JobID, cur.ID)
		if err != nil {
			return fmt.Errorf("order: decline siblings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sib, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("order: scan sibling: %w", err)
			}
			declined = append(declined, sib)
		}
		return rows.Err()
	})
	if err != nil {
		return Order{}, err
	}

	for _, sib := range declined {
		s.publishUpdated(sib)
	}
	return o, nil
}

// Decline moves a pending order to declined. Client only.
func (s *Service) Decline(ctx context.Context, orderID, callerID string) (Order, error) {
	return s.transition(ctx, orderID, StatusDeclined, func(tx pgx.Tx, cur Order) error {
		if callerID != cur.ClientID {
			return fmt.Errorf("%w: only the job's client may decline", ErrUnauthorized)
		}
		return nil
	})
}

// MarkPaid records the payment reference and moves accepted to in_progress in
// a single update, so a paid-but-idle order is never observable. Client only.
func (s *Service) MarkPaid(ctx context.Context, orderID, callerID, paymentRef string) (Order, error) {
	if paymentRef == "" {
		return Order{}, fmt.Errorf("%w: payment reference required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := lockByID(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if callerID != cur.ClientID {
		return Order{}, fmt.Errorf("%w: only the job's client may pay", ErrUnauthorized)
	}
	if cur.Status != StatusAccepted {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, StatusInProgress)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = 'in_progress', payment_ref = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, orderID, paymentRef))
	if err != nil {
		return Order{}, fmt.Errorf("order: mark paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit: %w", err)
	}

	s.publishUpdated(o)
	return o, nil
}

// CompleteByProvider moves an in_progress order to completed. Provider only.
func (s *Service) CompleteByProvider(ctx context.Context, orderID, callerID string) (Order, error) {
	return s.transition(ctx, orderID, StatusCompleted, func(tx pgx.Tx, cur Order) error {
		if callerID != cur.ProviderID {
			return fmt.Errorf("%w: only the provider may complete", ErrUnauthorized)
		}
		return nil
	})
}

// Cancel moves any non-terminal order to cancelled. Either participant.
func (s *Service) Cancel(ctx context.Context, orderID, callerID string) (Order, error) {
	return s.transition(ctx, orderID, StatusCancelled, func(tx pgx.Tx, cur Order) error {
		if callerID != cur.ClientID && callerID != cur.ProviderID {
			return fmt.Errorf("%w: caller is not a participant", ErrUnauthorized)
		}
		return nil
	})
}

// transition implements the shared lock/validate/update sequence. The guard
// runs with the row locked and may perform additional writes in the same
// transaction.
func (s *Service) transition(ctx context.Context, orderID string, next Status, guard func(tx pgx.Tx, cur Order) error) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := lockByID(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	// Validity first: the guard only ever sees orders that could legally
	// move, so re-driving a terminal order reports the transition, not
	// whatever the guard happens to reject.
	if next == StatusCancelled {
		if IsTerminal(cur.Status) {
			return Order{}, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, cur.Status)
		}
	} else if !ValidTransition(cur.Status, next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next)
	}
	if err := guard(tx, cur); err != nil {
		return Order{}, err
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, orderID, next))
	if err != nil {
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit: %w", err)
	}

	s.publishUpdated(o)
	return o, nil
}

func lockByID(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: lock by id: %w", err)
	}
	return o, nil
}

// GetByID loads one order.
func (s *Service) GetByID(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get by id: %w", err)
	}
	return o, nil
}

// ListForJob returns every order on a job, newest first. Callers must be a
// participant; the job's client sees all offers, a provider only their own.
func (s *Service) ListForJob(ctx context.Context, jobID, callerID string) ([]Order, error) {
	j, err := job.GetByID(ctx, s.pool, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE job_id = $1 ORDER BY created_at DESC`
	args := []any{jobID}
	if callerID != j.ClientID {
		query = `SELECT ` + orderColumns + ` FROM orders WHERE job_id = $1 AND provider_id = $2 ORDER BY created_at DESC`
		args = append(args, callerID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order: list for job: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 8)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

func (s *Service) publishUpdated(o Order) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"job_id": o.JobID,
		"status": string(o.Status),
	}
	for _, userID := range []string{o.ClientID, o.ProviderID} {
		s.bus.Publish(event.Event{
			Scope:    event.UserScope(userID),
			Type:     event.TypeOrderUpdated,
			EntityID: o.ID,
			Payload:  payload,
		})
	}
}
