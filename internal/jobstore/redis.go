package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over a Redis list per queue plus a sorted set
// of delayed jobs promoted by due time. Job ids are recorded with SET NX so
// duplicate enqueues of the same attempt are dropped at the store.
type RedisQueue struct {
	client *redis.Client
}

var _ Queue = (*RedisQueue)(nil)

// dedupTTL bounds how long an enqueued job id suppresses duplicates.
const dedupTTL = 24 * time.Hour

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Connect parses a redis URL and verifies the connection.
func Connect(ctx context.Context, kvURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(kvURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KV url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func delayedKey(queue string) string {
	return queue + ":delayed"
}

func dedupKey(queue, jobID string) string {
	return queue + ":seen:" + jobID
}

func (q *RedisQueue) Enqueue(ctx context.Context, queue string, job *Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ok, err := q.client.SetNX(ctx, dedupKey(queue, job.ID), 1, dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("enqueue dedup check: %w", err)
	}
	if !ok {
		return nil
	}

	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		return q.client.ZAdd(ctx, delayedKey(queue), redis.Z{Score: due, Member: raw}).Err()
	}
	return q.client.RPush(ctx, queue, raw).Err()
}

// promoteDue moves jobs whose delay has elapsed onto the ready list. The
// Lua script keeps pop-and-push atomic across competing workers.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for i, item in ipairs(due) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('RPUSH', KEYS[2], item)
end
return #due
`)

func (q *RedisQueue) promoteDue(ctx context.Context, queue string) error {
	now := time.Now().UnixMilli()
	return promoteScript.Run(ctx, q.client, []string{delayedKey(queue), queue}, now).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	if err := q.promoteDue(ctx, queue); err != nil {
		return nil, err
	}

	// cap the block so delayed jobs keep being promoted while idle
	block := timeout
	if block <= 0 || block > time.Second {
		block = time.Second
	}

	res, err := q.client.BLPop(ctx, block, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
