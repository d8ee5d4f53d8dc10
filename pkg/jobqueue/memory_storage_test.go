package jobqueue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/jobqueue"
)

func newQueuedJob(id string, priority jobqueue.Priority) *jobqueue.Job {
	return &jobqueue.Job{
		ID:          id,
		Type:        "test_job",
		Priority:    priority,
		State:       jobqueue.StateQueued,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryStorage_CreateJob(t *testing.T) {
	t.Parallel()

	t.Run("assigns insertion sequence", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		first := newQueuedJob("job-1", jobqueue.PriorityDefault)
		second := newQueuedJob("job-2", jobqueue.PriorityDefault)

		require.NoError(t, store.CreateJob(context.Background(), first))
		require.NoError(t, store.CreateJob(context.Background(), second))

		assert.Less(t, first.Sequence, second.Sequence)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("dup", jobqueue.PriorityDefault)))

		err := store.CreateJob(context.Background(), newQueuedJob("dup", jobqueue.PriorityDefault))
		assert.ErrorIs(t, err, jobqueue.ErrDuplicateJobID)
	})

	t.Run("delayed job is not claimable before eligibility", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		eligible := time.Now().Add(time.Hour)
		job := newQueuedJob("later", jobqueue.PriorityDefault)
		job.State = jobqueue.StateDelayed
		job.NextEligibleAt = &eligible
		require.NoError(t, store.CreateJob(context.Background(), job))

		_, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		assert.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)
	})
}

func TestMemoryStorage_ClaimOrder(t *testing.T) {
	t.Parallel()

	t.Run("lower priority value dispatches first", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("low", jobqueue.PriorityLowest)))
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("high", jobqueue.PriorityHighest)))
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("mid", jobqueue.PriorityDefault)))

		var order []string
		for range_i := 0; range_i < 3; range_i++ {
			job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
			require.NoError(t, err)
			order = append(order, job.ID)
		}

		assert.Equal(t, []string{"high", "mid", "low"}, order)
	})

	t.Run("fifo within a priority level", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, store.CreateJob(context.Background(),
				newQueuedJob(fmt.Sprintf("job-%d", i), jobqueue.PriorityDefault)))
		}

		for i := 0; i < 5; i++ {
			job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
		}
	})

	t.Run("claim transitions job to active with lease", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		workerID := uuid.New()
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("claim-me", jobqueue.PriorityDefault)))

		job, err := store.ClaimNextJob(context.Background(), workerID, time.Minute)
		require.NoError(t, err)

		assert.Equal(t, jobqueue.StateActive, job.State)
		assert.Equal(t, 0, job.Progress)
		require.NotNil(t, job.LockedBy)
		assert.Equal(t, workerID, *job.LockedBy)
		require.NotNil(t, job.LeaseExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Minute), *job.LeaseExpiresAt, 5*time.Second)
	})

	t.Run("concurrent claims have a single winner per job", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		const jobs = 50
		for i := 0; i < jobs; i++ {
			require.NoError(t, store.CreateJob(context.Background(),
				newQueuedJob(fmt.Sprintf("job-%d", i), jobqueue.PriorityDefault)))
		}

		var mu sync.Mutex
		claimed := make(map[string]int)

		var wg sync.WaitGroup
		for range_i := 0; range_i < 10; range_i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				workerID := uuid.New()
				for {
					job, err := store.ClaimNextJob(context.Background(), workerID, time.Minute)
					if err != nil {
						return
					}
					mu.Lock()
					claimed[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, jobs)
		for id, count := range claimed {
			assert.Equalf(t, 1, count, "job %s claimed %d times", id, count)
		}
	})
}

func TestMemoryStorage_Transitions(t *testing.T) {
	t.Parallel()

	claim := func(t *testing.T, store *jobqueue.MemoryStorage, id string) *jobqueue.Job {
		t.Helper()
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob(id, jobqueue.PriorityDefault)))
		job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		return job
	}

	t.Run("complete records result once", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "done")
		result := json.RawMessage(`{"ok":true}`)
		require.NoError(t, store.CompleteJob(context.Background(), job.ID, result))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateCompleted, got.State)
		assert.Equal(t, 100, got.Progress)
		assert.JSONEq(t, `{"ok":true}`, string(got.Result))
		assert.NotNil(t, got.FinishedAt)
		assert.Nil(t, got.LockedBy)
	})

	t.Run("complete on non-active job fails", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("queued", jobqueue.PriorityDefault)))

		err := store.CompleteJob(context.Background(), "queued", nil)
		assert.ErrorIs(t, err, jobqueue.ErrInvalidJobState)
	})

	t.Run("fail increments attempts and records reason", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "boom")
		require.NoError(t, store.FailJob(context.Background(), job.ID, "handler exploded"))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateFailed, got.State)
		assert.Equal(t, 1, got.AttemptsMade)
		assert.Equal(t, "handler exploded", got.FailureReason)
	})

	t.Run("delay parks job until eligibility", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "retry-me")
		require.NoError(t, store.DelayJob(context.Background(), job.ID, "flaky", time.Now().Add(50*time.Millisecond)))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateDelayed, got.State)
		assert.Equal(t, 1, got.AttemptsMade)

		_, err = store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		assert.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)

		time.Sleep(60 * time.Millisecond)

		reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reclaimed.ID)
		assert.Equal(t, 1, reclaimed.AttemptsMade)
	})

	t.Run("retried job can complete despite earlier failure reason", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "second-chance")
		require.NoError(t, store.DelayJob(context.Background(), job.ID, "first attempt failed", time.Now().Add(-time.Second)))

		reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		require.Equal(t, job.ID, reclaimed.ID)

		assert.NoError(t, store.CompleteJob(context.Background(), job.ID, nil))
	})

	t.Run("progress is monotonic and clamped", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "progressing")

		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 40))
		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 20)) // regression ignored
		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 250))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)
	})

	t.Run("progress resets to zero on reclaim", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		job := claim(t, store, "reset")
		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 80))
		require.NoError(t, store.DelayJob(context.Background(), job.ID, "retry", time.Now().Add(-time.Second)))

		reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 0, reclaimed.Progress)
	})
}

func TestMemoryStorage_RequeueStalled(t *testing.T) {
	t.Parallel()

	t.Run("expired lease returns job to queue with attempts intact", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("stalled", jobqueue.PriorityDefault)))

		job, err := store.ClaimNextJob(context.Background(), uuid.New(), 10*time.Millisecond)
		require.NoError(t, err)

		recovered, err := store.RequeueStalled(context.Background(), time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, recovered)

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateQueued, got.State)
		assert.Equal(t, job.AttemptsMade, got.AttemptsMade)
		assert.Nil(t, got.LockedBy)

		// Reclaimable again.
		reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reclaimed.ID)
	})

	t.Run("live leases are untouched", func(t *testing.T) {
		t.Parallel()

		store := jobqueue.NewMemoryStorage()
		defer store.Close()

		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("healthy", jobqueue.PriorityDefault)))
		_, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Hour)
		require.NoError(t, err)

		recovered, err := store.RequeueStalled(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Zero(t, recovered)
	})
}

func TestMemoryStorage_Stats(t *testing.T) {
	t.Parallel()

	store := jobqueue.NewMemoryStorage()
	defer store.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateJob(context.Background(),
			newQueuedJob(fmt.Sprintf("w-%d", i), jobqueue.PriorityDefault)))
	}

	job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(context.Background(), job.ID, nil))

	job, err = store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.FailJob(context.Background(), job.ID, "bad"))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Total)
}

func TestMemoryStorage_Retention(t *testing.T) {
	t.Parallel()

	store := jobqueue.NewMemoryStorage(
		jobqueue.WithCompletedRetention(jobqueue.RetentionPolicy{MaxCount: 2}),
		jobqueue.WithJanitorInterval(10*time.Millisecond),
	)
	defer store.Close()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob(id, jobqueue.PriorityDefault)))
		job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.CompleteJob(context.Background(), job.ID, nil))
	}

	require.Eventually(t, func() bool {
		stats, err := store.Stats(context.Background())
		return err == nil && stats.Completed == 2
	}, time.Second, 10*time.Millisecond)

	// Oldest records were pruned, newest survive.
	_, err := store.GetJob(context.Background(), "job-0")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
	_, err = store.GetJob(context.Background(), "job-4")
	assert.NoError(t, err)
}
