// Package application models the Tracker's durable record of one
// (user, job) application attempt.
package application

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a (user_id, job_id) pair.
	ErrNotFound = errors.New("application: record not found")
	// ErrAlreadySubmitted is returned when UpsertAttempt finds the existing
	// record already in a terminal submitted state.
	ErrAlreadySubmitted = errors.New("application: already submitted")
	// ErrInProgress is returned when a record for the same (user_id, job_id)
	// pair exists and is neither submitted nor failed.
	ErrInProgress = errors.New("application: attempt already in progress")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusRetried   Status = "retried"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSubmitted, StatusFailed, StatusSkipped, StatusRetried:
		return true
	default:
		return false
	}
}

// Record is uniquely identified by (UserID, JobID); the Tracker enforces
// that uniqueness atomically so concurrent retries never double-submit.
type Record struct {
	UserID         string     `json:"userId"`
	JobID          string     `json:"jobId"`
	JobTitle       string     `json:"jobTitle"`
	Company        string     `json:"company"`
	Status         Status     `json:"status"`
	MatchScore     float64    `json:"matchScore"`
	MatchReasoning []string   `json:"matchReasoning,omitempty"`
	ConfirmationID string     `json:"confirmationId,omitempty"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retryCount"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func New(userID, jobID, jobTitle, company string, score float64, reasons []string) Record {
	return Record{
		UserID:         userID,
		JobID:          jobID,
		JobTitle:       jobTitle,
		Company:        company,
		Status:         StatusQueued,
		MatchScore:     score,
		MatchReasoning: reasons,
	}
}
