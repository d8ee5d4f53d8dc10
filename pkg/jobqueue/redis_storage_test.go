package jobqueue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/jobqueue"
)

func newRedisStorage(t *testing.T) *jobqueue.RedisStorage {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := jobqueue.NewRedisStorage(client)
	require.NoError(t, err)
	return store
}

func TestRedisStorage_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)

	job := newQueuedJob("redis-1", jobqueue.PriorityDefault)
	job.Payload = json.RawMessage(`{"n":1}`)
	job.UserID = "alice"
	require.NoError(t, store.CreateJob(context.Background(), job))
	assert.NotZero(t, job.Sequence)

	got, err := store.GetJob(context.Background(), "redis-1")
	require.NoError(t, err)
	assert.Equal(t, "redis-1", got.ID)
	assert.Equal(t, "test_job", got.Type)
	assert.Equal(t, jobqueue.StateQueued, got.State)
	assert.Equal(t, jobqueue.PriorityDefault, got.Priority)
	assert.Equal(t, "alice", got.UserID)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))

	err = store.CreateJob(context.Background(), newQueuedJob("redis-1", jobqueue.PriorityDefault))
	assert.ErrorIs(t, err, jobqueue.ErrDuplicateJobID)

	_, err = store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestRedisStorage_ClaimOrder(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)

	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("low", jobqueue.PriorityLowest)))
	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("high", jobqueue.PriorityHighest)))
	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("first-mid", jobqueue.PriorityDefault)))
	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("second-mid", jobqueue.PriorityDefault)))

	var order []string
	for range_i := 0; range_i < 4; range_i++ {
		job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{"high", "first-mid", "second-mid", "low"}, order)

	_, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	assert.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)
}

func TestRedisStorage_ClaimSetsLease(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)
	workerID := uuid.New()

	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("leased", jobqueue.PriorityDefault)))

	job, err := store.ClaimNextJob(context.Background(), workerID, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, jobqueue.StateActive, job.State)
	assert.Equal(t, 0, job.Progress)
	require.NotNil(t, job.LockedBy)
	assert.Equal(t, workerID, *job.LockedBy)
	require.NotNil(t, job.LeaseExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *job.LeaseExpiresAt, 5*time.Second)
}

func TestRedisStorage_DelayedPromotion(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)

	eligible := time.Now().Add(30 * time.Millisecond)
	job := newQueuedJob("later", jobqueue.PriorityDefault)
	job.State = jobqueue.StateDelayed
	job.NextEligibleAt = &eligible
	require.NoError(t, store.CreateJob(context.Background(), job))

	_, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	assert.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)

	time.Sleep(40 * time.Millisecond)

	claimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "later", claimed.ID)
}

func TestRedisStorage_Transitions(t *testing.T) {
	t.Parallel()

	claim := func(t *testing.T, store *jobqueue.RedisStorage, id string) *jobqueue.Job {
		t.Helper()
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob(id, jobqueue.PriorityDefault)))
		job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		return job
	}

	t.Run("complete", func(t *testing.T) {
		t.Parallel()

		store := newRedisStorage(t)
		job := claim(t, store, "done")

		require.NoError(t, store.CompleteJob(context.Background(), job.ID, json.RawMessage(`{"ok":true}`)))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateCompleted, got.State)
		assert.Equal(t, 100, got.Progress)
		assert.JSONEq(t, `{"ok":true}`, string(got.Result))
		assert.Nil(t, got.LockedBy)

		err = store.CompleteJob(context.Background(), job.ID, nil)
		assert.ErrorIs(t, err, jobqueue.ErrInvalidJobState)
	})

	t.Run("fail increments attempts", func(t *testing.T) {
		t.Parallel()

		store := newRedisStorage(t)
		job := claim(t, store, "boom")

		require.NoError(t, store.FailJob(context.Background(), job.ID, "exploded"))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateFailed, got.State)
		assert.Equal(t, 1, got.AttemptsMade)
		assert.Equal(t, "exploded", got.FailureReason)
	})

	t.Run("delay and reclaim at original priority", func(t *testing.T) {
		t.Parallel()

		store := newRedisStorage(t)
		job := claim(t, store, "retry-me")

		require.NoError(t, store.DelayJob(context.Background(), job.ID, "flaky", time.Now().Add(-time.Second)))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateDelayed, got.State)
		assert.Equal(t, 1, got.AttemptsMade)

		reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reclaimed.ID)
		assert.Equal(t, 1, reclaimed.AttemptsMade)
		assert.Equal(t, job.Priority, reclaimed.Priority)
	})

	t.Run("progress is monotonic", func(t *testing.T) {
		t.Parallel()

		store := newRedisStorage(t)
		job := claim(t, store, "progressing")

		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 40))
		require.NoError(t, store.UpdateProgress(context.Background(), job.ID, 20))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
	})

	t.Run("extend lease", func(t *testing.T) {
		t.Parallel()

		store := newRedisStorage(t)
		job := claim(t, store, "long-runner")

		require.NoError(t, store.ExtendLease(context.Background(), job.ID, time.Hour))

		got, err := store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), *got.LeaseExpiresAt, 5*time.Second)
	})
}

func TestRedisStorage_RequeueStalled(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)

	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("stalled", jobqueue.PriorityDefault)))
	job, err := store.ClaimNextJob(context.Background(), uuid.New(), 10*time.Millisecond)
	require.NoError(t, err)

	recovered, err := store.RequeueStalled(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateQueued, got.State)
	assert.Nil(t, got.LockedBy)

	reclaimed, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestRedisStorage_Stats(t *testing.T) {
	t.Parallel()

	store := newRedisStorage(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateJob(context.Background(),
			newQueuedJob(fmt.Sprintf("s-%d", i), jobqueue.PriorityDefault)))
	}

	job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(context.Background(), job.ID, nil))

	job, err = store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
	require.NoError(t, err)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 3, stats.Total)
}

func TestRedisStorage_Retention(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := jobqueue.NewRedisStorage(client,
		jobqueue.WithRedisCompletedRetention(jobqueue.RetentionPolicy{MaxCount: 2}))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r-%d", i)
		require.NoError(t, store.CreateJob(context.Background(), newQueuedJob(id, jobqueue.PriorityDefault)))
		job, err := store.ClaimNextJob(context.Background(), uuid.New(), time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.CompleteJob(context.Background(), job.ID, nil))
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)

	_, err = store.GetJob(context.Background(), "r-0")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
	_, err = store.GetJob(context.Background(), "r-4")
	assert.NoError(t, err)
}
