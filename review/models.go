package review

import "time"

// Review is a client's rating of a provider for one job. At most one review
// exists per (job, client); once written it is immutable.
type Review struct {
	ID         string
	JobID      string
	ClientID   string
	ProviderID string
	Rating     int
	Comment    *string
	CreatedAt  time.Time
}

// SubmitParams carries one review submission through the completion gate.
type SubmitParams struct {
	JobID      string
	ClientID   string
	ProviderID string
	Rating     int
	Comment    *string
}
