// internal/scheduler/queue.go
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Handler runs a due job. id is whatever the job was scheduled with.
type Handler func(ctx context.Context, id string) error

// Queue is a delayed job queue shared by every instance through redis. A job is a member
// "kind:id" of a sorted set scored by its due time, so scheduling the same job twice
// moves it rather than duplicating it.
//
// Running a job leases it: its score moves lease into the future and the job is removed
// only once the handler succeeds. A job whose instance dies mid-run becomes due again
// when the lease runs out; a failed job is retried after retry.
type Queue struct {
	rdb    *redis.Client
	key    string
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	sched gocron.Scheduler
	batch int64
	lease time.Duration
	retry time.Duration
}

// claimScript leases a job if it is still due. KEYS[1] jobs, ARGV member, now, lease score.
var claimScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not s or tonumber(s) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// ackScript removes a job unless it was scheduled again while it ran.
var ackScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if s and tonumber(s) == tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// NewQueue creates a queue over the shared store. Call Start to begin polling.
func NewQueue(rdb *redis.Client, logger *logrus.Logger) *Queue {
	return &Queue{
		rdb:      rdb,
		key:      cache.JobsKey,
		logger:   logger,
		handlers: make(map[string]Handler),
		batch:    100,
		lease:    time.Minute,
		retry:    5 * time.Second,
	}
}

// Handle registers the handler for a job kind.
func (q *Queue) Handle(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func member(kind, id string) string {
	return kind + ":" + id
}

// Schedule makes the job due after delay, replacing any earlier schedule of it.
func (q *Queue) Schedule(ctx context.Context, kind, id string, delay time.Duration) error {
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(due), Member: member(kind, id)}).Err(); err != nil {
		return fmt.Errorf("failed to schedule %s job %s: %w", kind, id, err)
	}
	return nil
}

// Cancel removes the job if it has not run yet. Cancelling twice is harmless.
func (q *Queue) Cancel(ctx context.Context, kind, id string) error {
	if err := q.rdb.ZRem(ctx, q.key, member(kind, id)).Err(); err != nil {
		return fmt.Errorf("failed to cancel %s job %s: %w", kind, id, err)
	}
	return nil
}

// RunDue runs every job due at now and returns how many this instance ran. Only the
// instance that leases a job runs it.
func (q *Queue) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs: %w", err)
	}

	ran := 0
	for _, m := range due {
		leased := now.Add(q.lease).UnixMilli()
		claimed, err := claimScript.Run(ctx, q.rdb, []string{q.key}, m, now.UnixMilli(), leased).Int()
		if err != nil {
			return ran, fmt.Errorf("failed to claim job %s: %w", m, err)
		}
		if claimed == 0 {
			continue
		}

		kind, id, ok := strings.Cut(m, ":")
		if !ok {
			q.logger.Warnf("scheduler: dropping malformed job %q", m)
			q.ack(ctx, m, leased)
			continue
		}
		q.mu.RLock()
		h := q.handlers[kind]
		q.mu.RUnlock()
		if h == nil {
			q.logger.Warnf("scheduler: no handler for job kind %q, dropping %s", kind, id)
			q.ack(ctx, m, leased)
			continue
		}

		ran++
		entry := q.logger.WithFields(logrus.Fields{"kind": kind, "id": id})
		if err := h(ctx, id); err != nil {
			entry.Errorf("scheduler: job failed, retrying in %s: %v", q.retry, err)
			if serr := q.Schedule(context.WithoutCancel(ctx), kind, id, q.retry); serr != nil {
				entry.Errorf("scheduler: %v", serr)
			}
			continue
		}
		q.ack(ctx, m, leased)
	}
	return ran, nil
}

// ack removes a finished job. A failed ack leaves the job to run again after its lease.
func (q *Queue) ack(ctx context.Context, m string, leased int64) {
	if err := ackScript.Run(ctx, q.rdb, []string{q.key}, m, leased).Err(); err != nil {
		q.logger.Errorf("scheduler: failed to remove finished job %s: %v", m, err)
	}
}

// Start polls for due jobs every interval until Stop.
func (q *Queue) Start(interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval+30*time.Second)
			defer cancel()
			if _, err := q.RunDue(ctx, time.Now()); err != nil {
				q.logger.Errorf("scheduler: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register poll job: %w", err)
	}
	sched.Start()
	q.sched = sched
	return nil
}

// Stop shuts the poller down, waiting for a running poll to finish.
func (q *Queue) Stop() error {
	if q.sched == nil {
		return nil
	}
	return q.sched.Shutdown()
}
