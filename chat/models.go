package chat

import "time"

// Thread is the conversation container for one (job, provider) pair. Two
// providers talking to the same client about one job get two threads; the
// unique key on (job_id, provider_id) is what concurrent first-contact calls
// converge on.
type Thread struct {
	ID            string
	JobID         string
	ClientID      string
	ProviderID    string
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

// Message is one entry in a job-scoped, append-only chat log. IsRead is the
// only mutable field and is flipped by the non-sender side.
type Message struct {
	ID        string
	JobID     string
	ThreadID  string
	SenderID  string
	Content   string
	ImageURL  *string
	IsRead    bool
	CreatedAt time.Time
}

// ThreadSummary is one row of a user's inbox: the thread joined with its job,
// both participants, the most recent message, and the caller's unread count.
type ThreadSummary struct {
	Thread
	JobTitle     string
	JobStatus    string
	ClientName   string
	ProviderName string
	LastMessage  *Message
	UnreadCount  int
}

// AppendParams carries one message append. RecipientID selects the thread
// when the sender is the job's client (who may have one thread per provider);
// a provider's thread is inferred from the sender.
type AppendParams struct {
	JobID       string
	SenderID    string
	RecipientID string
	Content     string
	ImageURL    *string
}
