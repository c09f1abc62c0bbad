package job

import "time"

type Status string

const (
	StatusOpen                Status = "open"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

// transitions is the single source of truth for legal status changes.
var transitions = map[Status][]Status{
	StatusOpen:                {StatusPendingConfirmation, StatusCancelled},
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:           {StatusInProgress, StatusCancelled},
	StatusInProgress:          {StatusCompleted, StatusCancelled},
}

// ValidTransition reports whether from -> to is a legal status change.
// Completed and cancelled are terminal.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

func validStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusPendingConfirmation, StatusConfirmed,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Job is a client's posted service request. ProviderID stays nil only while
// the job is open.
type Job struct {
	ID           string
	ClientID     string
	ProviderID   *string
	Status       Status
	Title        string
	Description  string
	BudgetMin    float64
	BudgetMax    float64
	IsNegotiable bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateParams enumerates the fields a client supplies when posting a job.
type CreateParams struct {
	Title        string
	Description  string
	BudgetMin    float64
	BudgetMax    float64
	IsNegotiable bool
}
