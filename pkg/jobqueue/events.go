package jobqueue

import "time"

// Event bodies published by the worker pool on the event bus. They carry the
// recipient (UserID) separately on the bus envelope so the notification
// layer can target delivery without decoding the body.

// JobStartedEvent is published when a job transitions queued -> active.
type JobStartedEvent struct {
	JobID   string `json:"jobId"`
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	Attempt int    `json:"attempt"`
	Worker  string `json:"workerName"`
}

// JobProgressEvent is published as handler progress changes.
type JobProgressEvent struct {
	JobID    string `json:"jobId"`
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	Progress int    `json:"progress"`
}

// JobCompletedEvent is published when a handler finishes successfully.
type JobCompletedEvent struct {
	JobID    string        `json:"jobId"`
	Type     string        `json:"type"`
	UserID   string        `json:"userId,omitempty"`
	Result   any           `json:"result,omitempty"`
	Duration time.Duration `json:"duration"`
	Worker   string        `json:"workerName"`
}

// JobFailedEvent is published when a job fails permanently.
type JobFailedEvent struct {
	JobID        string `json:"jobId"`
	Type         string `json:"type"`
	UserID       string `json:"userId,omitempty"`
	Error        string `json:"error"`
	AttemptsMade int    `json:"attemptsMade"`
}
