package order

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
	StatusPaid       Status = "paid"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the legality table for order status changes. The paid state
// only exists as a recorded payment marker: MarkPaid moves accepted straight
// to in_progress with the payment reference in the same update, so "paid but
// not in progress" is never observable.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusDeclined, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// ValidTransition reports whether from -> to is legal.
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

// Order is a provider's priced offer against a job. Created by the provider,
// advanced by the client (accept, pay) and the provider (complete) in turns.
type Order struct {
	ID         string
	JobID      string
	ClientID   string
	ProviderID string
	Status     Status
	PriceEUR   float64
	PaymentRef *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
