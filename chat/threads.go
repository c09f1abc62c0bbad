package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/event"
	"gigflow/job"
)

var (
	ErrNotFound       = errors.New("chat: not found")
	ErrValidation     = errors.New("chat: invalid input")
	ErrNotParticipant = errors.New("chat: caller is not a participant")
)

const threadColumns = `id, job_id, client_id, provider_id, last_message_at, created_at`

func scanThread(row pgx.Row) (Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.JobID, &t.ClientID, &t.ProviderID, &t.LastMessageAt, &t.CreatedAt)
	if err != nil {
		return Thread{}, err
	}
	return t, nil
}

// Service owns conversation containers, the message log and unread
// aggregation for both participants of a job.
type Service struct {
	pool *pgxpool.Pool
	bus  *event.Bus
}

func NewService(pool *pgxpool.Pool, bus *event.Bus) *Service {
	return &Service{pool: pool, bus: bus}
}

// GetOrCreateThread resolves the conversation for (jobID, providerID),
// creating it on first contact. The insert relies on the unique key plus
// ON CONFLICT DO NOTHING and a re-select, so N concurrent first-contact calls
// all land on the same row instead of racing a check-then-insert.
func (s *Service) GetOrCreateThread(ctx context.Context, jobID, providerID string) (Thread, error) {
	if jobID == "" || providerID == "" {
		return Thread{}, fmt.Errorf("%w: job and provider ids required", ErrValidation)
	}

	j, err := job.GetByID(ctx, s.pool, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return Thread{}, ErrNotFound
		}
		return Thread{}, err
	}
	if providerID == j.ClientID {
		return Thread{}, fmt.Errorf("%w: provider cannot be the job's client", ErrValidation)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO chat_threads (job_id, client_id, provider_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, provider_id) DO NOTHING
	`, jobID, j.ClientID, providerID); err != nil {
		return Thread{}, fmt.Errorf("chat: insert thread: %w", err)
	}

	t, err := scanThread(s.pool.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM chat_threads
		WHERE job_id = $1 AND provider_id = $2
	`, jobID, providerID))
	if err != nil {
		return Thread{}, fmt.Errorf("chat: reselect thread: %w", err)
	}
	return t, nil
}

// IsParticipant reports whether the user may read a job's conversation scope:
// the job's client always can, a provider only once a thread exists.
func (s *Service) IsParticipant(ctx context.Context, jobID, userID string) (bool, error) {
	if jobID == "" || userID == "" {
		return false, fmt.Errorf("%w: job and user ids required", ErrValidation)
	}

	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND client_id = $2)
		    OR EXISTS (SELECT 1 FROM chat_threads WHERE job_id = $1 AND provider_id = $2)
	`, jobID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chat: check participant: %w", err)
	}
	return ok, nil
}

// ListThreadsForUser returns every thread the user participates in, newest
// activity first, each joined with its job, both participant names, the
// single most recent message, and the caller's unread count. One grouped
// query; no per-thread lookups.
func (s *Service) ListThreadsForUser(ctx context.Context, userID string) ([]ThreadSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrValidation)
	}

	const query = `
		SELECT t.id, t.job_id, t.client_id, t.provider_id, t.last_message_at, t.created_at,
		       j.title, j.status::text,
		       cu.full_name, pu.full_name,
		       lm.id, lm.sender_id, lm.content, lm.image_url, lm.is_read, lm.created_at,
		       COALESCE(un.unread, 0)
		FROM chat_threads t
		JOIN jobs j ON j.id = t.job_id
		JOIN users cu ON cu.id = t.client_id
		JOIN users pu ON pu.id = t.provider_id
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.content, m.image_url, m.is_read, m.created_at
			FROM messages m
			WHERE m.thread_id = t.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread
			FROM messages m
			WHERE m.thread_id = t.id AND m.sender_id <> $1 AND m.is_read = false
		) un ON true
		WHERE t.client_id = $1 OR t.provider_id = $1
		ORDER BY t.last_message_at DESC NULLS LAST, t.created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list threads: %w", err)
	}
	defer rows.Close()

	out := make([]ThreadSummary, 0, 8)
	for rows.Next() {
		var (
			sum       ThreadSummary
			lmID      *string
			lmSender  *string
			lmContent *string
			lmImage   *string
			lmRead    *bool
			lmAt      *time.Time
		)
		if err := rows.Scan(
			&sum.ID, &sum.JobID, &sum.ClientID, &sum.ProviderID, &sum.LastMessageAt, &sum.CreatedAt,
			&sum.JobTitle, &sum.JobStatus,
			&sum.ClientName, &sum.ProviderName,
			&lmID, &lmSender, &lmContent, &lmImage, &lmRead, &lmAt,
			&sum.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("chat: scan thread summary: %w", err)
		}
		if lmID != nil {
			sum.LastMessage = &Message{
				ID:        *lmID,
				JobID:     sum.JobID,
				ThreadID:  sum.Thread.ID,
				SenderID:  *lmSender,
				Content:   *lmContent,
				ImageURL:  lmImage,
				IsRead:    *lmRead,
				CreatedAt: *lmAt,
			}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate threads: %w", err)
	}
	return out, nil
}
