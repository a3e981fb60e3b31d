package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"showtix/utils"
)

// Job is the unit of work moved between machines. At-least-once delivery:
// a popped job sits on a processing list until acked, and a consumer crash
// gets it reclaimed on the next worker start, so every handler must
// tolerate redelivery of an already applied event.
type Job struct {
	ID          string         `json:"id"`
	Queue       string         `json:"queue"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`

	// raw is the exact processing-list entry this job was popped as; Ack
	// needs it to remove the right copy.
	raw string
}

// promoteScript atomically moves due jobs from the delayed zset onto the
// wait list. Runs on a fixed tick; batch capped to bound script runtime.
const promoteScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, job in ipairs(due) do
	redis.call('LPUSH', KEYS[2], job)
	redis.call('ZREM', KEYS[1], job)
end
return #due
`

// retryBackoffBase doubles per attempt: 2s, 4s, 8s, ...
const retryBackoffBase = 2 * time.Second

// Enqueuer is the producer side of the queue, what the services and
// workers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
}

// Queue is a Redis-backed delayed job queue. Immediate jobs live on a
// list, delayed jobs on a sorted set scored by ready time, exhausted jobs
// on a dead-letter list.
type Queue struct {
	Redis *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{Redis: redisClient}
}

func waitKey(queue string) string {
	return fmt.Sprintf("jobs:%s:wait", queue)
}

func delayedKey(queue string) string {
	return fmt.Sprintf("jobs:%s:delayed", queue)
}

func deadKey(queue string) string {
	return fmt.Sprintf("jobs:%s:dead", queue)
}

func processingKey(queue string) string {
	return fmt.Sprintf("jobs:%s:processing", queue)
}

// Enqueue schedules the job, delayed by the given duration when positive.
func (q *Queue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if job.ID == "" {
		id, err := utils.GenerateCode(8)
		if err != nil {
			return err
		}
		job.ID = id
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	return q.enqueueAt(ctx, job, job.EnqueuedAt.Add(delay))
}

func (q *Queue) enqueueAt(ctx context.Context, job *Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if readyAt.After(time.Now()) {
		return q.Redis.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: data,
		}).Err()
	}
	return q.Redis.LPush(ctx, waitKey(job.Queue), data).Err()
}

// Dequeue blocks up to timeout for the next job, moving it onto the
// processing list in the same step so a crashed consumer cannot lose it.
// Returns nil without error when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	data, err := q.Redis.BLMove(ctx, waitKey(queue), processingKey(queue), "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job from %s: %w", queue, err)
	}
	job.raw = data
	return &job, nil
}

// Ack drops the job's processing-list copy once it has been handled,
// retried or buried. Acking a job that was never dequeued is a no-op.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return q.Redis.LRem(ctx, processingKey(job.Queue), 1, job.raw).Err()
}

// Reclaim pushes jobs stranded on the processing list by a dead consumer
// back onto the wait list. Run before consuming; a reclaimed job that was
// in fact completed is a redelivery the handlers already tolerate.
func (q *Queue) Reclaim(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		err := q.Redis.LMove(ctx, processingKey(queue), waitKey(queue), "RIGHT", "LEFT").Err()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Promote moves due delayed jobs onto the wait list and reports how many.
func (q *Queue) Promote(ctx context.Context, queue string) (int, error) {
	return q.promote(ctx, queue, time.Now())
}

func (q *Queue) promote(ctx context.Context, queue string, now time.Time) (int, error) {
	keys := []string{delayedKey(queue), waitKey(queue)}
	moved, err := q.Redis.Eval(ctx, promoteScript, keys, now.UnixMilli()).Int()
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Retry reschedules a failed job with exponential backoff, or moves it to
// the dead-letter list once its attempts are exhausted.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	return q.retry(ctx, job, time.Now())
}

func (q *Queue) retry(ctx context.Context, job *Job, now time.Time) error {
	job.Attempts++
	if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
		return q.bury(ctx, job)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	backoff := retryBackoffBase * (1 << (job.Attempts - 1))
	return q.Redis.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(now.Add(backoff).UnixMilli()),
		Member: data,
	}).Err()
}

func (q *Queue) bury(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.Redis.LPush(ctx, deadKey(job.Queue), data).Err()
}

// Depth reports the waiting, delayed and dead counts for a queue.
func (q *Queue) Depth(ctx context.Context, queue string) (waiting, delayed, dead int64, err error) {
	waiting, err = q.Redis.LLen(ctx, waitKey(queue)).Result()
	if err != nil {
		return
	}
	delayed, err = q.Redis.ZCard(ctx, delayedKey(queue)).Result()
	if err != nil {
		return
	}
	dead, err = q.Redis.LLen(ctx, deadKey(queue)).Result()
	return
}
