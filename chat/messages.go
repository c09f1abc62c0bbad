package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"gigflow/event"
	"gigflow/job"
)

const messageColumns = `id, job_id, thread_id, sender_id, content, image_url, is_read, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.JobID, &m.ThreadID, &m.SenderID, &m.Content, &m.ImageURL, &m.IsRead, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// Append inserts a message and bumps the owning thread's last_message_at in
// one transaction. A provider's thread is found (or created) from the sender;
// the client must name the provider via RecipientID.
func (s *Service) Append(ctx context.Context, params AppendParams) (Message, error) {
	if params.JobID == "" || params.SenderID == "" {
		return Message{}, fmt.Errorf("%w: job and sender ids required", ErrValidation)
	}
	if strings.TrimSpace(params.Content) == "" && params.ImageURL == nil {
		return Message{}, fmt.Errorf("%w: empty message", ErrValidation)
	}

	j, err := job.GetByID(ctx, s.pool, params.JobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}

	providerID := params.SenderID
	if params.SenderID == j.ClientID {
		if params.RecipientID == "" {
			return Message{}, fmt.Errorf("%w: client must address a provider", ErrValidation)
		}
		providerID = params.RecipientID
	} else if params.RecipientID != "" && params.RecipientID != j.ClientID {
		return Message{}, fmt.Errorf("%w: provider may only message the job's client", ErrNotParticipant)
	}

	thread, err := s.GetOrCreateThread(ctx, params.JobID, providerID)
	if err != nil {
		return Message{}, err
	}
	if params.SenderID != thread.ClientID && params.SenderID != thread.ProviderID {
		return Message{}, ErrNotParticipant
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, err := scanMessage(tx.QueryRow(ctx, `
		INSERT INTO messages (job_id, thread_id, sender_id, content, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		params.JobID, thread.ID, params.SenderID, strings.TrimSpace(params.Content), params.ImageURL))
	if err != nil {
		return Message{}, fmt.Errorf("chat: insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chat_threads SET last_message_at = $2 WHERE id = $1
	`, thread.ID, msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("chat: bump last_message_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("chat: commit: %w", err)
	}

	s.publishMessage(thread, msg)
	return msg, nil
}

// MarkRead bulk-flips is_read for all messages in the reader's thread(s) of a
// job that were sent by the counterpart. Idempotent; a replay flips nothing.
func (s *Service) MarkRead(ctx context.Context, jobID, readerID string) error {
	if jobID == "" || readerID == "" {
		return fmt.Errorf("%w: job and reader ids required", ErrValidation)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages m
		SET is_read = true
		FROM chat_threads t
		WHERE m.thread_id = t.id
		  AND t.job_id = $1
		  AND (t.client_id = $2 OR t.provider_id = $2)
		  AND m.sender_id <> $2
		  AND m.is_read = false
	`, jobID, readerID)
	if err != nil {
		return fmt.Errorf("chat: mark read: %w", err)
	}

	if tag.RowsAffected() > 0 && s.bus != nil {
		s.bus.Publish(event.Event{
			Scope:    event.UserScope(readerID),
			Type:     event.TypeThreadUpdated,
			EntityID: jobID,
			Payload:  map[string]any{"reason": "read"},
		})
	}
	return nil
}

// ListMessages returns the ordered log the caller may see for a job: the
// client reads across all of the job's threads, a provider only their own.
func (s *Service) ListMessages(ctx context.Context, jobID, callerID string) ([]Message, error) {
	if jobID == "" || callerID == "" {
		return nil, fmt.Errorf("%w: job and caller ids required", ErrValidation)
	}

	j, err := job.GetByID(ctx, s.pool, jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
	`
	args := []any{jobID}
	if callerID != j.ClientID {
		query = `
			SELECT m.id, m.job_id, m.thread_id, m.sender_id, m.content, m.image_url, m.is_read, m.created_at
			FROM messages m
			JOIN chat_threads t ON t.id = m.thread_id
			WHERE m.job_id = $1 AND t.provider_id = $2
			ORDER BY m.created_at ASC, m.id ASC
		`
		args = append(args, callerID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}

// UnreadForUser counts unread messages addressed to the user across all of
// their threads.
func (s *Service) UnreadForUser(ctx context.Context, userID string) (int, error) {
	return s.countUnread(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN chat_threads t ON t.id = m.thread_id
		WHERE (t.client_id = $1 OR t.provider_id = $1)
		  AND m.sender_id <> $1
		  AND m.is_read = false
	`, userID)
}

// UnreadForJob narrows the unread count to one job.
func (s *Service) UnreadForJob(ctx context.Context, jobID, userID string) (int, error) {
	return s.countUnread(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN chat_threads t ON t.id = m.thread_id
		WHERE t.job_id = $1
		  AND (t.client_id = $2 OR t.provider_id = $2)
		  AND m.sender_id <> $2
		  AND m.is_read = false
	`, jobID, userID)
}

// UnreadFromSender narrows further to one counterpart within a job, so the
// client's UI can badge each provider separately even though the job's log
// interleaves them.
func (s *Service) UnreadFromSender(ctx context.Context, jobID, senderID string) (int, error) {
	return s.countUnread(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE job_id = $1 AND sender_id = $2 AND is_read = false
	`, jobID, senderID)
}

func (s *Service) countUnread(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("chat: count unread: %w", err)
	}
	return n, nil
}

func (s *Service) publishMessage(thread Thread, msg Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Scope:    event.JobScope(msg.JobID),
		Type:     event.TypeMessageInserted,
		EntityID: msg.ID,
		At:       msg.CreatedAt,
		Payload: map[string]any{
			"thread_id": msg.ThreadID,
			"sender_id": msg.SenderID,
		},
	})
	for _, userID := range []string{thread.ClientID, thread.ProviderID} {
		s.bus.Publish(event.Event{
			Scope:    event.UserScope(userID),
			Type:     event.TypeThreadUpdated,
			EntityID: thread.ID,
			At:       msg.CreatedAt,
			Payload:  map[string]any{"job_id": msg.JobID},
		})
	}
}
