package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"gigflow/job"
	"gigflow/order"
)

func validParams() SubmitParams {
	return SubmitParams{
		JobID:      "job-1",
		ClientID:   "client-1",
		ProviderID: "provider-1",
		Rating:     5,
	}
}

func openJob() job.Job {
	return job.Job{ID: "job-1", ClientID: "client-1", Status: job.StatusOpen}
}

func TestSubmit_RatingOutOfRangeBeforeAnyIO(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{}, nil)

	for _, rating := range []int{0, -1, 6, 42} {
		params := validParams()
		params.Rating = rating
		if _, err := svc.Submit(context.Background(), params); !errors.Is(err, ErrValidation) {
			t.Fatalf("rating %d: expected ErrValidation, got %v", rating, err)
		}
	}

	if pool.tx != nil {
		t.Fatal("expected no transaction for invalid rating")
	}
}

func TestSubmit_DuplicateReviewMutatesNothing(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: openJob(), reviewExists: true}
	svc := NewService(pool, repo, nil)

	if _, err := svc.Submit(context.Background(), validParams()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if pool.tx.committed {
		t.Error("expected commit to be skipped on duplicate")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback on duplicate")
	}
	if repo.jobCompleted || repo.orderCompleted || repo.inserted {
		t.Error("expected no mutation steps after conflict")
	}
}

func TestSubmit_UnauthorizedCaller(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: openJob()}
	svc := NewService(pool, repo, nil)

	params := validParams()
	params.ClientID = "someone-else"
	if _, err := svc.Submit(context.Background(), params); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if repo.jobCompleted || repo.orderCompleted || repo.inserted {
		t.Error("expected no mutation steps for unauthorized caller")
	}
}

func TestSubmit_CompletesJobOrderAndInsertsReview(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{
		job:           openJob(),
		eligibleOrder: &order.Order{ID: "order-1", Status: order.StatusInProgress},
	}
	svc := NewService(pool, repo, nil)

	rev, err := svc.Submit(context.Background(), validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !repo.jobCompleted {
		t.Error("expected job fast-path completion for an open job")
	}
	if !repo.orderCompleted {
		t.Error("expected eligible order completion")
	}
	if !repo.inserted {
		t.Error("expected review insert")
	}
	if !pool.tx.committed {
		t.Error("expected single transaction commit")
	}
	if rev.JobID != "job-1" || rev.Rating != 5 {
		t.Errorf("unexpected review %+v", rev)
	}
}

func TestSubmit_SkipsJobFastPathWhenAlreadyCompleted(t *testing.T) {
	provider := "provider-1"
	pool := &fakePool{}
	repo := &fakeRepo{
		job: job.Job{ID: "job-1", ClientID: "client-1", ProviderID: &provider, Status: job.StatusCompleted},
	}
	svc := NewService(pool, repo, nil)

	if _, err := svc.Submit(context.Background(), validParams()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.jobCompleted {
		t.Error("expected job completion to be skipped for a completed job")
	}
	if !repo.inserted || !pool.tx.committed {
		t.Error("expected review insert and commit")
	}
}

func TestSubmit_NoEligibleOrderIsNotAnError(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: openJob(), eligibleOrder: nil}
	svc := NewService(pool, repo, nil)

	if _, err := svc.Submit(context.Background(), validParams()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit without an eligible order")
	}
}

func TestSubmit_OrderStepFailureNamesTheStepAndAborts(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{job: openJob(), orderErr: errors.New("deadlock")}
	svc := NewService(pool, repo, nil)

	_, err := svc.Submit(context.Background(), validParams())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "complete order") {
		t.Fatalf("expected step name in error, got %v", err)
	}
	if repo.inserted {
		t.Error("expected insert to be skipped after order step failure")
	}
	if pool.tx.committed {
		t.Error("expected no commit after step failure")
	}
}

type fakeRepo struct {
	job           job.Job
	jobErr        error
	reviewExists  bool
	eligibleOrder *order.Order
	orderErr      error
	insertErr     error

	jobCompleted   bool
	orderCompleted bool
	inserted       bool
}

func (f *fakeRepo) LockJob(context.Context, pgx.Tx, string) (job.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeRepo) ReviewExists(context.Context, pgx.Tx, string, string) (bool, error) {
	return f.reviewExists, nil
}

func (f *fakeRepo) CompleteJob(_ context.Context, _ pgx.Tx, _, providerID string) error {
	f.jobCompleted = true
	f.job.Status = job.StatusCompleted
	f.job.ProviderID = &providerID
	return nil
}

func (f *fakeRepo) CompleteLatestEligibleOrder(context.Context, pgx.Tx, string, string) (*order.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if f.eligibleOrder != nil {
		f.orderCompleted = true
		f.eligibleOrder.Status = order.StatusCompleted
	}
	return f.eligibleOrder, nil
}

func (f *fakeRepo) InsertReview(_ context.Context, _ pgx.Tx, params SubmitParams) (Review, error) {
	if f.insertErr != nil {
		return Review{}, f.insertErr
	}
	f.inserted = true
	return Review{
		ID:         "review-1",
		JobID:      params.JobID,
		ClientID:   params.ClientID,
		ProviderID: params.ProviderID,
		Rating:     params.Rating,
		Comment:    params.Comment,
	}, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
