package jobqueue

import (
	"container/heap"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingEntry is a heap entry ordered by (priority, sequence).
type pendingEntry struct {
	id       string
	priority Priority
	sequence uint64
}

type pendingHeap []pendingEntry

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].sequence < h[j].sequence
}
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)        { *h = append(*h, x.(pendingEntry)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// delayedEntry is a heap entry ordered by eligibility time.
type delayedEntry struct {
	id string
	at time.Time
}

type delayedHeap []delayedEntry

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)        { *h = append(*h, x.(delayedEntry)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// MemoryStorage implements all queue repository interfaces for testing and
// local development. Pending jobs live in a binary heap keyed on
// (priority, sequence) so claims are O(log n); delayed jobs live in a second
// heap keyed on eligibility time and are promoted lazily on claim.
//
// Heap entries are invalidated lazily: a popped entry is only honored when
// the referenced job is still in the matching state, so stale entries left
// behind by state transitions cost one extra pop instead of a heap rebuild.
type MemoryStorage struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending pendingHeap
	delayed delayedHeap
	seq     uint64

	// Terminal ids in finish order, oldest first. Used for retention.
	completed []string
	failed    []string

	completedRetention RetentionPolicy
	failedRetention    RetentionPolicy

	janitorInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithCompletedRetention sets the retention policy for completed jobs.
func WithCompletedRetention(p RetentionPolicy) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		ms.completedRetention = p
	}
}

// WithFailedRetention sets the retention policy for failed jobs.
func WithFailedRetention(p RetentionPolicy) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		ms.failedRetention = p
	}
}

// WithJanitorInterval sets how often terminal records are pruned.
func WithJanitorInterval(d time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if d > 0 {
			ms.janitorInterval = d
		}
	}
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		jobs:            make(map[string]*Job),
		janitorInterval: time.Second,
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ms)
	}

	go ms.janitor()

	return ms
}

// Close stops the background janitor.
func (ms *MemoryStorage) Close() error {
	ms.closeOnce.Do(func() { close(ms.done) })
	return nil
}

// CreateJob implements ProducerRepository.
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrValidation
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return ErrDuplicateJobID
	}

	ms.seq++
	job.Sequence = ms.seq

	// Clone to prevent external mutation of the stored record.
	stored := *job
	ms.jobs[stored.ID] = &stored

	if stored.State == StateDelayed && stored.NextEligibleAt != nil {
		heap.Push(&ms.delayed, delayedEntry{id: stored.ID, at: *stored.NextEligibleAt})
	} else {
		stored.State = StateQueued
		heap.Push(&ms.pending, pendingEntry{id: stored.ID, priority: stored.Priority, sequence: stored.Sequence})
	}

	job.Sequence = stored.Sequence
	job.State = stored.State
	return nil
}

// GetJob implements ProducerRepository.
func (ms *MemoryStorage) GetJob(ctx context.Context, id string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}

	snapshot := *job
	return &snapshot, nil
}

// ClaimNextJob implements DispatcherRepository.
func (ms *MemoryStorage) ClaimNextJob(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	ms.promoteDelayedLocked(now)

	for ms.pending.Len() > 0 {
		entry := heap.Pop(&ms.pending).(pendingEntry)

		job, exists := ms.jobs[entry.id]
		if !exists || job.State != StateQueued || job.Sequence != entry.sequence {
			// Stale entry left behind by a state transition.
			continue
		}

		leaseUntil := now.Add(lease)
		job.State = StateActive
		job.Progress = 0
		job.ProcessedAt = &now
		job.LeaseExpiresAt = &leaseUntil
		job.LockedBy = &workerID
		job.NextEligibleAt = nil

		snapshot := *job
		return &snapshot, nil
	}

	return nil, ErrNoJobToClaim
}

// promoteDelayedLocked moves due delayed jobs back to the pending heap.
func (ms *MemoryStorage) promoteDelayedLocked(now time.Time) {
	for ms.delayed.Len() > 0 && !ms.delayed[0].at.After(now) {
		entry := heap.Pop(&ms.delayed).(delayedEntry)

		job, exists := ms.jobs[entry.id]
		if !exists || job.State != StateDelayed {
			continue
		}

		job.State = StateQueued
		job.NextEligibleAt = nil
		heap.Push(&ms.pending, pendingEntry{id: job.ID, priority: job.Priority, sequence: job.Sequence})
	}
}

// Stats implements DispatcherRepository.
func (ms *MemoryStorage) Stats(ctx context.Context) (Stats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var st Stats
	for _, job := range ms.jobs {
		switch job.State {
		case StateQueued:
			st.Waiting++
		case StateActive:
			st.Active++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		case StateDelayed:
			st.Delayed++
		}
	}
	st.Total = len(ms.jobs)
	return st, nil
}

// CompleteJob implements WorkerRepository.
func (ms *MemoryStorage) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return ErrInvalidJobState
	}
	if job.Result != nil {
		return ErrResultAlreadySet
	}

	now := time.Now()
	job.State = StateCompleted
	job.Result = result
	job.Progress = 100
	job.FinishedAt = &now
	job.LeaseExpiresAt = nil
	job.LockedBy = nil

	ms.completed = append(ms.completed, id)
	return nil
}

// FailJob implements WorkerRepository.
func (ms *MemoryStorage) FailJob(ctx context.Context, id string, reason string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return ErrInvalidJobState
	}

	now := time.Now()
	job.AttemptsMade++
	job.State = StateFailed
	job.FailureReason = reason
	job.FinishedAt = &now
	job.LeaseExpiresAt = nil
	job.LockedBy = nil

	ms.failed = append(ms.failed, id)
	return nil
}

// DelayJob implements WorkerRepository.
func (ms *MemoryStorage) DelayJob(ctx context.Context, id string, reason string, nextEligibleAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return ErrInvalidJobState
	}

	job.AttemptsMade++
	job.State = StateDelayed
	job.FailureReason = reason
	job.NextEligibleAt = &nextEligibleAt
	job.LeaseExpiresAt = nil
	job.LockedBy = nil

	heap.Push(&ms.delayed, delayedEntry{id: id, at: nextEligibleAt})
	return nil
}

// UpdateProgress implements WorkerRepository. Regressions within an attempt
// are ignored so progress stays monotonic.
func (ms *MemoryStorage) UpdateProgress(ctx context.Context, id string, progress int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return ErrInvalidJobState
	}

	if progress > job.Progress {
		job.Progress = min(progress, 100)
	}
	return nil
}

// ExtendLease implements WorkerRepository.
func (ms *MemoryStorage) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return ErrInvalidJobState
	}

	leaseUntil := time.Now().Add(d)
	job.LeaseExpiresAt = &leaseUntil
	return nil
}

// RequeueStalled implements ReaperRepository. Active jobs whose lease expired
// are returned to the queue with their attempt counter intact, so a crashed
// worker never loses a job.
func (ms *MemoryStorage) RequeueStalled(ctx context.Context, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	recovered := 0
	for _, job := range ms.jobs {
		if job.State != StateActive || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}

		job.State = StateQueued
		job.LeaseExpiresAt = nil
		job.LockedBy = nil
		heap.Push(&ms.pending, pendingEntry{id: job.ID, priority: job.Priority, sequence: job.Sequence})
		recovered++
	}

	return recovered, nil
}

// janitor prunes terminal records in the background.
func (ms *MemoryStorage) janitor() {
	ticker := time.NewTicker(ms.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.pruneTerminal()
		case <-ms.done:
			return
		}
	}
}

func (ms *MemoryStorage) pruneTerminal() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.completed = ms.pruneLocked(ms.completed, StateCompleted, ms.completedRetention)
	ms.failed = ms.pruneLocked(ms.failed, StateFailed, ms.failedRetention)
}

// pruneLocked applies the age and count thresholds independently to one
// terminal state and returns the surviving id list.
func (ms *MemoryStorage) pruneLocked(ids []string, state State, policy RetentionPolicy) []string {
	if policy.MaxAge <= 0 && policy.MaxCount <= 0 {
		return ids
	}

	cutoff := time.Now().Add(-policy.MaxAge)
	drop := func(id string) bool {
		job, exists := ms.jobs[id]
		if !exists || job.State != state {
			return true
		}
		if policy.MaxAge > 0 && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(ms.jobs, id)
			return true
		}
		return false
	}
	ids = slices.DeleteFunc(ids, drop)

	if policy.MaxCount > 0 && len(ids) > policy.MaxCount {
		overflow := ids[:len(ids)-policy.MaxCount]
		for _, id := range overflow {
			delete(ms.jobs, id)
		}
		ids = slices.Clone(ids[len(ids)-policy.MaxCount:])
	}

	return ids
}
