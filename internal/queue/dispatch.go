package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchQueue carries job ids from the producer to the workers. Delivery is
// at-least-once: a dequeued id is tracked in an in-flight sorted set with a
// visibility deadline, and ids whose lease expires are put back on the ready
// list. Deduplication is the consumer's problem (it claims the job row), not
// the queue's.
type DispatchQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	dlqKey        string
	visibilityTTL time.Duration
}

// New builds a dispatch queue on the given Redis client.
func New(client *redis.Client, visibility time.Duration, dlqKey string) *DispatchQueue {
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	if dlqKey == "" {
		dlqKey = "reports:dlq"
	}
	return &DispatchQueue{
		client:        client,
		readyKey:      "reports:ready",
		inflightKey:   "reports:inflight",
		dlqKey:        dlqKey,
		visibilityTTL: visibility,
	}
}

// Enqueue places a job id on the ready list. The payload is exactly the id.
func (q *DispatchQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// DequeueWithLease pops the next ready id and records it in-flight with a
// visibility deadline, atomically. Returns "" when the queue is empty.
func (q *DispatchQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight id,
// for generations that outrun the default lease.
func (q *DispatchQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes an id from in-flight tracking.
func (q *DispatchQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims leases that timed out, putting the ids back on the
// ready list. This is where redelivery comes from.
func (q *DispatchQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired leases: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	return ids, nil
}

// DLQPush appends an id to the dead-letter list for operational inspection.
func (q *DispatchQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered ids without removing them.
func (q *DispatchQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the current ready list length.
func (q *DispatchQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
