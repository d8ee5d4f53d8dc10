package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage on Redis. Each job lives in a hash keyed by
// id; the queue structure is three sorted sets:
//
//   - pending: score encodes (priority, sequence) so ZPOPMIN yields the
//     dispatch order directly
//   - delayed: score is the eligibility time in unix milliseconds
//   - active:  score is the lease expiry in unix milliseconds
//
// All state transitions run as Lua scripts so concurrent claimers and the
// reaper never observe a half-moved job.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string

	completedRetention RetentionPolicy
	failedRetention    RetentionPolicy
}

// sequenceStride separates priority from sequence in the pending score.
// Priority occupies the high bits; sequences up to 2^40 stay exact in the
// float64 score.
const sequenceStride = 1 << 40

var (
	// enqueueScript creates the job hash and places the id on the pending or
	// delayed set, refusing duplicates.
	//
	// KEYS: jobKey, seqKey, pending, delayed
	// ARGV: id, priority, nextEligibleAt(ms, 0 for none), field/value pairs...
	enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return -1
end
local seq = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'sequence', seq)
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
local eligible = tonumber(ARGV[3])
if eligible > 0 then
	redis.call('ZADD', KEYS[4], eligible, ARGV[1])
else
	local score = tonumber(ARGV[2]) * 1099511627776 + seq
	redis.call('ZADD', KEYS[3], score, ARGV[1])
end
return seq
`)

	// claimScript promotes due delayed jobs, then pops the front of the
	// pending set and marks it active under a lease. Returns the claimed
	// job's fields, or false when the queue is idle.
	//
	// KEYS: pending, delayed, active, jobPrefix
	// ARGV: now(ms), lease(ms), workerID
	claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	local key = KEYS[4] .. id
	redis.call('ZREM', KEYS[2], id)
	if redis.call('EXISTS', key) == 1 then
		local prio = tonumber(redis.call('HGET', key, 'priority')) or 5
		local seq = tonumber(redis.call('HGET', key, 'sequence')) or 0
		redis.call('HSET', key, 'state', 'queued')
		redis.call('HDEL', key, 'next_eligible_at')
		redis.call('ZADD', KEYS[1], prio * 1099511627776 + seq, id)
	end
end
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
	return false
end
local id = popped[1]
local key = KEYS[4] .. id
if redis.call('EXISTS', key) == 0 then
	return false
end
local expiry = tonumber(ARGV[1]) + tonumber(ARGV[2])
redis.call('HSET', key,
	'state', 'active',
	'progress', 0,
	'processed_at', ARGV[1],
	'lease_expires_at', expiry,
	'locked_by', ARGV[3])
redis.call('ZADD', KEYS[3], expiry, id)
return redis.call('HGETALL', key)
`)

	// completeScript records a successful outcome for an active job.
	//
	// KEYS: jobKey, active, completed
	// ARGV: id, now(ms), result
	completeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'not_found'
end
if state ~= 'active' then
	return 'bad_state'
end
if redis.call('HEXISTS', KEYS[1], 'result') == 1 then
	return 'result_set'
end
redis.call('HSET', KEYS[1], 'state', 'completed', 'progress', 100, 'finished_at', ARGV[2])
if ARGV[3] ~= '' then
	redis.call('HSET', KEYS[1], 'result', ARGV[3])
end
redis.call('HDEL', KEYS[1], 'lease_expires_at', 'locked_by')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)

	// failScript records a permanent failure, incrementing the attempt
	// counter.
	//
	// KEYS: jobKey, active, failed
	// ARGV: id, now(ms), reason
	failScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'not_found'
end
if state ~= 'active' then
	return 'bad_state'
end
redis.call('HINCRBY', KEYS[1], 'attempts_made', 1)
redis.call('HSET', KEYS[1], 'state', 'failed', 'failure_reason', ARGV[3], 'finished_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_expires_at', 'locked_by')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)

	// delayScript schedules a retry, incrementing the attempt counter and
	// parking the job on the delayed set.
	//
	// KEYS: jobKey, active, delayed
	// ARGV: id, nextEligibleAt(ms), reason
	delayScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'not_found'
end
if state ~= 'active' then
	return 'bad_state'
end
redis.call('HINCRBY', KEYS[1], 'attempts_made', 1)
redis.call('HSET', KEYS[1], 'state', 'delayed', 'failure_reason', ARGV[3], 'next_eligible_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'lease_expires_at', 'locked_by')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)

	// progressScript applies a monotonic progress update to an active job.
	//
	// KEYS: jobKey
	// ARGV: progress
	progressScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'not_found'
end
if state ~= 'active' then
	return 'bad_state'
end
local current = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
local next = tonumber(ARGV[1])
if next > current then
	redis.call('HSET', KEYS[1], 'progress', next)
end
return 'ok'
`)

	// extendScript pushes out the lease of an active job.
	//
	// KEYS: jobKey, active
	// ARGV: id, expiry(ms)
	extendScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'not_found'
end
if state ~= 'active' then
	return 'bad_state'
end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[2])
redis.call('ZADD', KEYS[2], 'XX', tonumber(ARGV[2]), ARGV[1])
return 'ok'
`)

	// reapScript returns jobs with expired leases to the pending set,
	// preserving attempt counters.
	//
	// KEYS: active, pending, jobPrefix
	// ARGV: now(ms)
	reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = 0
for _, id in ipairs(expired) do
	local key = KEYS[3] .. id
	redis.call('ZREM', KEYS[1], id)
	if redis.call('EXISTS', key) == 1 then
		local prio = tonumber(redis.call('HGET', key, 'priority')) or 5
		local seq = tonumber(redis.call('HGET', key, 'sequence')) or 0
		redis.call('HSET', key, 'state', 'queued')
		redis.call('HDEL', key, 'lease_expires_at', 'locked_by', 'processed_at')
		redis.call('ZADD', KEYS[2], prio * 1099511627776 + seq, id)
		count = count + 1
	end
end
return count
`)

	// trimScript prunes a terminal set by age and count, deleting the job
	// hashes of evicted ids.
	//
	// KEYS: terminalSet, jobPrefix
	// ARGV: maxScore(ms, 0 disables), maxCount(0 disables)
	trimScript = redis.NewScript(`
local evicted = {}
if tonumber(ARGV[1]) > 0 then
	local aged = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	for _, id in ipairs(aged) do
		evicted[#evicted+1] = id
	end
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
local max = tonumber(ARGV[2])
if max > 0 then
	local size = redis.call('ZCARD', KEYS[1])
	if size > max then
		local old = redis.call('ZRANGE', KEYS[1], 0, size - max - 1)
		for _, id in ipairs(old) do
			evicted[#evicted+1] = id
		end
		redis.call('ZREMRANGEBYRANK', KEYS[1], 0, size - max - 1)
	end
end
for _, id in ipairs(evicted) do
	redis.call('DEL', KEYS[2] .. id)
end
return #evicted
`)
)

// RedisOption configures RedisStorage.
type RedisOption func(*RedisStorage)

// WithKeyPrefix namespaces all queue keys, allowing several queues to share
// one Redis database.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisCompletedRetention bounds how long completed jobs stay queryable.
func WithRedisCompletedRetention(p RetentionPolicy) RedisOption {
	return func(s *RedisStorage) {
		s.completedRetention = p
	}
}

// WithRedisFailedRetention bounds how long failed jobs stay queryable.
func WithRedisFailedRetention(p RetentionPolicy) RedisOption {
	return func(s *RedisStorage) {
		s.failedRetention = p
	}
}

// NewRedisStorage creates a Redis-backed Storage on an existing client.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) (*RedisStorage, error) {
	if client == nil {
		return nil, ErrStorageNil
	}

	s := &RedisStorage{
		client:             client,
		prefix:             "queuekit",
		completedRetention: RetentionPolicy{MaxAge: 24 * time.Hour, MaxCount: 1000},
		failedRetention:    RetentionPolicy{MaxAge: 7 * 24 * time.Hour, MaxCount: 5000},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *RedisStorage) jobKey(id string) string  { return s.prefix + ":job:" + id }
func (s *RedisStorage) jobPrefix() string        { return s.prefix + ":job:" }
func (s *RedisStorage) seqKey() string           { return s.prefix + ":seq" }
func (s *RedisStorage) pendingKey() string       { return s.prefix + ":pending" }
func (s *RedisStorage) delayedKey() string       { return s.prefix + ":delayed" }
func (s *RedisStorage) activeKey() string        { return s.prefix + ":active" }
func (s *RedisStorage) terminalKey(st State) string {
	return s.prefix + ":" + string(st)
}

// CreateJob persists a new job and makes it claimable (or parks it on the
// delayed set when NextEligibleAt is in the future).
func (s *RedisStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return ErrJobNotFound
	}

	var eligible int64
	if job.State == StateDelayed && job.NextEligibleAt != nil {
		eligible = job.NextEligibleAt.UnixMilli()
	}

	args := []any{job.ID, int(job.Priority), eligible}
	args = append(args,
		"id", job.ID,
		"type", job.Type,
		"payload", string(job.Payload),
		"priority", int(job.Priority),
		"state", string(job.State),
		"attempts_made", job.AttemptsMade,
		"max_attempts", job.MaxAttempts,
		"progress", job.Progress,
		"user_id", job.UserID,
		"created_at", job.CreatedAt.UnixMilli(),
	)
	if eligible > 0 {
		args = append(args, "next_eligible_at", eligible)
	}

	seq, err := enqueueScript.Run(ctx, s.client,
		[]string{s.jobKey(job.ID), s.seqKey(), s.pendingKey(), s.delayedKey()},
		args...).Int64()
	if err != nil {
		return s.wrap("create job", err)
	}
	if seq < 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateJobID, job.ID)
	}

	job.Sequence = uint64(seq)
	return nil
}

// GetJob fetches a job by id.
func (s *RedisStorage) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, s.wrap("get job", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return jobFromFields(fields)
}

// ClaimNextJob atomically claims the next eligible job for the worker.
func (s *RedisStorage) ClaimNextJob(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.pendingKey(), s.delayedKey(), s.activeKey(), s.jobPrefix()},
		time.Now().UnixMilli(), lease.Milliseconds(), workerID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobToClaim
		}
		return nil, s.wrap("claim job", err)
	}

	raw, ok := res.([]any)
	if !ok || len(raw) == 0 {
		return nil, ErrNoJobToClaim
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		fields[k] = v
	}
	return jobFromFields(fields)
}

// Stats returns per-state job counts.
func (s *RedisStorage) Stats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, s.pendingKey())
	active := pipe.ZCard(ctx, s.activeKey())
	delayed := pipe.ZCard(ctx, s.delayedKey())
	completed := pipe.ZCard(ctx, s.terminalKey(StateCompleted))
	failed := pipe.ZCard(ctx, s.terminalKey(StateFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, s.wrap("stats", err)
	}

	st := Stats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Delayed:   int(delayed.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}
	st.Total = st.Waiting + st.Active + st.Delayed + st.Completed + st.Failed
	return st, nil
}

// CompleteJob records a successful outcome and trims completed retention.
func (s *RedisStorage) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	status, err := completeScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey(), s.terminalKey(StateCompleted)},
		id, time.Now().UnixMilli(), string(result)).Text()
	if err != nil {
		return s.wrap("complete job", err)
	}
	if err := s.transitionErr(status, id); err != nil {
		return err
	}

	s.trim(ctx, StateCompleted, s.completedRetention)
	return nil
}

// FailJob records a permanent failure and trims failed retention.
func (s *RedisStorage) FailJob(ctx context.Context, id string, reason string) error {
	status, err := failScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey(), s.terminalKey(StateFailed)},
		id, time.Now().UnixMilli(), reason).Text()
	if err != nil {
		return s.wrap("fail job", err)
	}
	if err := s.transitionErr(status, id); err != nil {
		return err
	}

	s.trim(ctx, StateFailed, s.failedRetention)
	return nil
}

// DelayJob schedules a retry after a failed attempt.
func (s *RedisStorage) DelayJob(ctx context.Context, id string, reason string, nextEligibleAt time.Time) error {
	status, err := delayScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey(), s.delayedKey()},
		id, nextEligibleAt.UnixMilli(), reason).Text()
	if err != nil {
		return s.wrap("delay job", err)
	}
	return s.transitionErr(status, id)
}

// UpdateProgress applies a monotonic progress update.
func (s *RedisStorage) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	status, err := progressScript.Run(ctx, s.client,
		[]string{s.jobKey(id)}, progress).Text()
	if err != nil {
		return s.wrap("update progress", err)
	}
	return s.transitionErr(status, id)
}

// ExtendLease pushes out the lease expiry of an active job.
func (s *RedisStorage) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	status, err := extendScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey()},
		id, time.Now().Add(d).UnixMilli()).Text()
	if err != nil {
		return s.wrap("extend lease", err)
	}
	return s.transitionErr(status, id)
}

// RequeueStalled returns jobs with expired leases to the queue, keeping
// their attempt counters.
func (s *RedisStorage) RequeueStalled(ctx context.Context, now time.Time) (int, error) {
	count, err := reapScript.Run(ctx, s.client,
		[]string{s.activeKey(), s.pendingKey(), s.jobPrefix()},
		now.UnixMilli()).Int()
	if err != nil {
		return 0, s.wrap("requeue stalled", err)
	}
	return count, nil
}

func (s *RedisStorage) trim(ctx context.Context, state State, policy RetentionPolicy) {
	var maxScore int64
	if policy.MaxAge > 0 {
		maxScore = time.Now().Add(-policy.MaxAge).UnixMilli()
	}
	// Best effort; retention failures never fail the transition.
	_ = trimScript.Run(ctx, s.client,
		[]string{s.terminalKey(state), s.jobPrefix()},
		maxScore, policy.MaxCount).Err()
}

func (s *RedisStorage) transitionErr(status, id string) error {
	switch status {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case "bad_state":
		return fmt.Errorf("%w: job %s is not active", ErrInvalidJobState, id)
	case "result_set":
		return fmt.Errorf("%w: %s", ErrResultAlreadySet, id)
	default:
		return fmt.Errorf("unexpected transition status %q for job %s", status, id)
	}
}

func (s *RedisStorage) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// jobFromFields decodes a job hash into a Job.
func jobFromFields(fields map[string]string) (*Job, error) {
	job := &Job{
		ID:     fields["id"],
		Type:   fields["type"],
		State:  State(fields["state"]),
		UserID: fields["user_id"],
	}

	if v := fields["payload"]; v != "" {
		job.Payload = json.RawMessage(v)
	}
	if v := fields["result"]; v != "" {
		job.Result = json.RawMessage(v)
	}
	job.FailureReason = fields["failure_reason"]

	if v, err := strconv.Atoi(fields["priority"]); err == nil {
		job.Priority = Priority(v)
	}
	if v, err := strconv.ParseUint(fields["sequence"], 10, 64); err == nil {
		job.Sequence = v
	}
	if v, err := strconv.Atoi(fields["attempts_made"]); err == nil {
		job.AttemptsMade = v
	}
	if v, err := strconv.Atoi(fields["max_attempts"]); err == nil {
		job.MaxAttempts = v
	}
	if v, err := strconv.Atoi(fields["progress"]); err == nil {
		job.Progress = v
	}

	job.CreatedAt = msTime(fields["created_at"])
	if t := msTimePtr(fields["processed_at"]); t != nil {
		job.ProcessedAt = t
	}
	if t := msTimePtr(fields["finished_at"]); t != nil {
		job.FinishedAt = t
	}
	if t := msTimePtr(fields["next_eligible_at"]); t != nil {
		job.NextEligibleAt = t
	}
	if t := msTimePtr(fields["lease_expires_at"]); t != nil {
		job.LeaseExpiresAt = t
	}
	if v := fields["locked_by"]; v != "" {
		if id, err := uuid.Parse(v); err == nil {
			job.LockedBy = &id
		}
	}

	if job.ID == "" {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func msTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func msTimePtr(v string) *time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
