package jobqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/jobqueue"
	"github.com/dmitrymomot/queuekit/pkg/ratelimit"
)

// MockDispatcherRepository is a mock implementation of DispatcherRepository
type MockDispatcherRepository struct {
	mock.Mock
}

func (m *MockDispatcherRepository) ClaimNextJob(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*jobqueue.Job, error) {
	args := m.Called(ctx, workerID, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobqueue.Job), args.Error(1)
}

func (m *MockDispatcherRepository) Stats(ctx context.Context) (jobqueue.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(jobqueue.Stats), args.Error(1)
}

func TestDispatcher_Next(t *testing.T) {
	t.Parallel()

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		dispatcher, err := jobqueue.NewDispatcher(nil)
		assert.ErrorIs(t, err, jobqueue.ErrStorageNil)
		assert.Nil(t, dispatcher)
	})

	t.Run("claims through the repository", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)
		defer mockRepo.AssertExpectations(t)

		workerID := uuid.New()
		want := &jobqueue.Job{ID: "job-1", Type: "test_job", State: jobqueue.StateActive}
		mockRepo.On("ClaimNextJob", mock.Anything, workerID, mock.Anything).Return(want, nil).Once()

		dispatcher, err := jobqueue.NewDispatcher(mockRepo)
		require.NoError(t, err)

		job, err := dispatcher.Next(context.Background(), workerID)
		require.NoError(t, err)
		assert.Equal(t, "job-1", job.ID)
	})

	t.Run("dispatch conflicts are retried transparently", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)
		defer mockRepo.AssertExpectations(t)

		want := &jobqueue.Job{ID: "job-2", State: jobqueue.StateActive}
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, jobqueue.ErrDispatchConflict).Twice()
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(want, nil).Once()

		dispatcher, err := jobqueue.NewDispatcher(mockRepo)
		require.NoError(t, err)

		job, err := dispatcher.Next(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "job-2", job.ID)
	})

	t.Run("store outage pauses and retries instead of dropping", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)
		defer mockRepo.AssertExpectations(t)

		want := &jobqueue.Job{ID: "job-3", State: jobqueue.StateActive}
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, jobqueue.ErrStoreUnavailable).Twice()
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(want, nil).Once()

		dispatcher, err := jobqueue.NewDispatcher(mockRepo)
		require.NoError(t, err)

		start := time.Now()
		job, err := dispatcher.Next(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "job-3", job.ID)
		// Two reconnect waits: 50ms then 100ms.
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("context cancellation interrupts the outage wait", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)

		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, jobqueue.ErrStoreUnavailable)

		dispatcher, err := jobqueue.NewDispatcher(mockRepo)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err = dispatcher.Next(ctx, uuid.New())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rate limiter denial defers dispatch", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)
		defer mockRepo.AssertExpectations(t)

		want := &jobqueue.Job{ID: "job-4", State: jobqueue.StateActive}
		// Exactly one claim despite two Next calls: the second is rate limited.
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(want, nil).Once()

		limiter, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		dispatcher, err := jobqueue.NewDispatcher(mockRepo, jobqueue.WithRateLimiter(limiter))
		require.NoError(t, err)

		_, err = dispatcher.Next(context.Background(), uuid.New())
		require.NoError(t, err)

		_, err = dispatcher.Next(context.Background(), uuid.New())
		assert.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)
	})

	t.Run("idle polls do not drain the dispatch budget", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockDispatcherRepository)
		defer mockRepo.AssertExpectations(t)

		// A long stretch of idle polls, then work arrives.
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, jobqueue.ErrNoJobToClaim).Times(10)
		want := &jobqueue.Job{ID: "job-5", State: jobqueue.StateActive}
		mockRepo.On("ClaimNextJob", mock.Anything, mock.Anything, mock.Anything).
			Return(want, nil).Once()

		limiter, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       3,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		dispatcher, err := jobqueue.NewDispatcher(mockRepo, jobqueue.WithRateLimiter(limiter))
		require.NoError(t, err)

		// Each idle poll reaches the repository: its token is returned, so
		// polling never exhausts the three-token budget.
		for range_i := 0; range_i < 10; range_i++ {
			_, err := dispatcher.Next(context.Background(), uuid.New())
			require.ErrorIs(t, err, jobqueue.ErrNoJobToClaim)
		}

		job, err := dispatcher.Next(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "job-5", job.ID)
	})
}

func TestDispatcher_ReapLoop(t *testing.T) {
	t.Parallel()

	store := jobqueue.NewMemoryStorage()
	defer store.Close()

	require.NoError(t, store.CreateJob(context.Background(), newQueuedJob("stall", jobqueue.PriorityDefault)))

	dispatcher, err := jobqueue.NewDispatcher(store,
		jobqueue.WithLease(10*time.Millisecond),
		jobqueue.WithReapInterval(20*time.Millisecond),
	)
	require.NoError(t, err)

	// Claim and never report an outcome, simulating a crashed worker.
	_, err = dispatcher.Next(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start(context.Background()))
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		stats, err := store.Stats(context.Background())
		return err == nil && stats.Waiting == 1 && stats.Active == 0
	}, time.Second, 10*time.Millisecond, "stalled job should return to the queue")
}

func TestDispatcher_Stats(t *testing.T) {
	t.Parallel()

	mockRepo := new(MockDispatcherRepository)
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("Stats", mock.Anything).Return(jobqueue.Stats{Waiting: 7, Total: 7}, nil).Once()

	dispatcher, err := jobqueue.NewDispatcher(mockRepo)
	require.NoError(t, err)

	stats, err := dispatcher.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Waiting)
}
