// Package queuehttp is a thin HTTP adapter over the job queue: job
// submission, job status lookup, and queue statistics. It owns no queue
// state and performs no processing.
package queuehttp
