package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Terminal reports whether the state is a terminal one.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Priority represents job scheduling precedence (1-10).
// Lower numeric value dispatches first; ties break on insertion order.
type Priority int8

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 3
	PriorityNormal  Priority = 5
	PriorityLow     Priority = 8
	PriorityLowest  Priority = 10
	PriorityDefault Priority = PriorityNormal
)

// Valid checks if the priority is within valid range.
func (p Priority) Valid() bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

// Job represents a unit of background work and its mutable state.
//
// ID is immutable once set. Sequence is assigned by the storage on creation
// and is strictly monotonic per storage; it is the FIFO tie-break among jobs
// of equal priority. Progress is 0-100, monotonically non-decreasing within a
// single attempt and reset to 0 at the start of each attempt.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       Priority        `json:"priority"`
	State          State           `json:"state"`
	Sequence       uint64          `json:"sequence"`
	AttemptsMade   int             `json:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"`
	Progress       int             `json:"progress"`
	UserID         string          `json:"user_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	NextEligibleAt *time.Time      `json:"next_eligible_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	LockedBy       *uuid.UUID      `json:"locked_by,omitempty"`
}

// Stats is the per-state job count snapshot exposed for health endpoints.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// RetentionPolicy bounds how long and how many terminal job records are kept.
// Zero values disable the corresponding threshold.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}
