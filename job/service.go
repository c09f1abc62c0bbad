package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/event"
)

// Service owns the job lifecycle. Every multi-row mutation runs in one
// transaction; events are published after commit.
type Service struct {
	pool *pgxpool.Pool
	bus  *event.Bus
}

func NewService(pool *pgxpool.Pool, bus *event.Bus) *Service {
	return &Service{pool: pool, bus: bus}
}

// Create posts a new job in state open.
func (s *Service) Create(ctx context.Context, clientID string, params CreateParams) (Job, error) {
	if clientID == "" {
		return Job{}, fmt.Errorf("%w: missing client id", ErrValidation)
	}
	if strings.TrimSpace(params.Title) == "" || strings.TrimSpace(params.Description) == "" {
		return Job{}, fmt.Errorf("%w: title and description required", ErrValidation)
	}
	if params.BudgetMin < 0 || params.BudgetMax < 0 || params.BudgetMin > params.BudgetMax && params.BudgetMax != 0 {
		return Job{}, fmt.Errorf("%w: inconsistent budget range", ErrValidation)
	}
	if !params.IsNegotiable && (params.BudgetMin <= 0 || params.BudgetMax < params.BudgetMin) {
		return Job{}, fmt.Errorf("%w: non-negotiable jobs need a budget range", ErrValidation)
	}

	const insertSQL = `
		INSERT INTO jobs (client_id, status, title, description, budget_min, budget_max, is_negotiable)
		VALUES ($1, 'open', $2, $3, $4, $5, $6)
		RETURNING ` + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, insertSQL,
		clientID,
		strings.TrimSpace(params.Title),
		strings.TrimSpace(params.Description),
		params.BudgetMin,
		params.BudgetMax,
		params.IsNegotiable,
	))
	if err != nil {
		return Job{}, fmt.Errorf("job: insert: %w", err)
	}
	return j, nil
}

// AssignProvider moves an open job to pending_confirmation with the provider
// attached. Any other starting state is rejected.
func (s *Service) AssignProvider(ctx context.Context, jobID, providerID string) (Job, error) {
	if providerID == "" {
		return Job{}, fmt.Errorf("%w: missing provider id", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := LockByID(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if current.Status != StatusOpen {
		return Job{}, fmt.Errorf("%w: assign provider from %s", ErrInvalidTransition, current.Status)
	}

	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs
		SET provider_id = $2, status = 'pending_confirmation', updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, providerID))
	if err != nil {
		return Job{}, fmt.Errorf("job: assign provider: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit: %w", err)
	}

	s.publishUpdated(j)
	return j, nil
}

// SetStatus applies a general transition validated against the table. The
// actor must be the job's client or its assigned provider.
func (s *Service) SetStatus(ctx context.Context, jobID, actorID string, next Status) (Job, error) {
	if !validStatus(next) {
		return Job{}, fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	// pending_confirmation is only reachable through AssignProvider, which
	// records the provider in the same update. Allowing it here would strand
	// the job without one.
	if next == StatusPendingConfirmation {
		return Job{}, fmt.Errorf("%w: pending_confirmation requires a provider assignment", ErrInvalidTransition)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := LockByID(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	if actorID != current.ClientID && (current.ProviderID == nil || *current.ProviderID != actorID) {
		return Job{}, fmt.Errorf("%w: actor is not a participant", ErrUnauthorized)
	}
	if !ValidTransition(current.Status, next) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}

	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, next))
	if err != nil {
		return Job{}, fmt.Errorf("job: set status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit: %w", err)
	}

	s.publishUpdated(j)
	return j, nil
}

// GetByID loads one job.
func (s *Service) GetByID(ctx context.Context, jobID string) (Job, error) {
	return GetByID(ctx, s.pool, jobID)
}

// ListForClient returns the client's jobs, newest first.
func (s *Service) ListForClient(ctx context.Context, clientID string) ([]Job, error) {
	return listJobs(ctx, s.pool, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE client_id = $1
		ORDER BY created_at DESC
	`, clientID)
}

// ListOpen returns jobs still accepting providers, newest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return listJobs(ctx, s.pool, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'open'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Service) publishUpdated(j Job) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{"status": string(j.Status)}
	s.bus.Publish(event.Event{
		Scope:    event.UserScope(j.ClientID),
		Type:     event.TypeJobUpdated,
		EntityID: j.ID,
		Payload:  payload,
	})
	if j.ProviderID != nil {
		s.bus.Publish(event.Event{
			Scope:    event.UserScope(*j.ProviderID),
			Type:     event.TypeJobUpdated,
			EntityID: j.ID,
			Payload:  payload,
		})
	}
}
