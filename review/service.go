package review

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gigflow/event"
	"gigflow/job"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the completion gate: a client review finalizes the job, the
// matching live order, and the review row in one transaction, so a crash
// can never leave a completed job without its review.
type Service struct {
	pool TxBeginner
	repo Repository
	bus  *event.Bus
}

func NewService(pool TxBeginner, repo Repository, bus *event.Bus) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, bus: bus}
}

// Submit runs the completion sequence. Wrapped errors name the failing step
// so a caller can tell a rejected submission from a partial upstream failure;
// nothing is committed unless every step succeeds.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Review, error) {
	if params.Rating < 1 || params.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating %d out of range", ErrValidation, params.Rating)
	}
	if params.JobID == "" || params.ClientID == "" || params.ProviderID == "" {
		return Review{}, fmt.Errorf("%w: job, client and provider ids required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Review{}, fmt.Errorf("review: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.LockJob(ctx, tx, params.JobID)
	if err != nil {
		return Review{}, err
	}

	exists, err := s.repo.ReviewExists(ctx, tx, params.JobID, params.ClientID)
	if err != nil {
		return Review{}, err
	}
	if exists {
		return Review{}, ErrConflict
	}

	if params.ClientID != j.ClientID {
		return Review{}, ErrUnauthorized
	}

	if j.Status != job.StatusCompleted {
		if err := s.repo.CompleteJob(ctx, tx, params.JobID, params.ProviderID); err != nil {
			return Review{}, fmt.Errorf("review: complete job: %w", err)
		}
	}

	completed, err := s.repo.CompleteLatestEligibleOrder(ctx, tx, params.JobID, params.ProviderID)
	if err != nil {
		return Review{}, fmt.Errorf("review: complete order: %w", err)
	}

	rev, err := s.repo.InsertReview(ctx, tx, params)
	if err != nil {
		return Review{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Review{}, fmt.Errorf("review: commit: %w", err)
	}

	s.publishSubmitted(rev, completed != nil)
	return rev, nil
}

func (s *Service) publishSubmitted(rev Review, orderCompleted bool) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"job_id":          rev.JobID,
		"rating":          rev.Rating,
		"order_completed": orderCompleted,
	}
	for _, userID := range []string{rev.ClientID, rev.ProviderID} {
		s.bus.Publish(event.Event{
			Scope:    event.UserScope(userID),
			Type:     event.TypeReviewSubmitted,
			EntityID: rev.ID,
			Payload:  payload,
		})
	}
}
