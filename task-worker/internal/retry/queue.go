package retry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/cache"
)

// claimScript 原子地把到期成员从延迟队列移入处理中集合，score 记为取出时间
//
// KEYS[1] 延迟队列键
// KEYS[2] 处理中集合键
// ARGV[1] 当前时间 (unix 毫秒)
// ARGV[2] 本次最多取出的数量
const claimScript = `
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(items) do
    redis.call('ZREM', KEYS[1], m)
    redis.call('ZADD', KEYS[2], ARGV[1], m)
end
return items
`

// requeueScript 把处理中的成员放回延迟队列
//
// KEYS[1] 处理中集合键
// KEYS[2] 延迟队列键
// ARGV[1] 成员
// ARGV[2] 新的到期时间 (unix 毫秒)
const requeueScript = `
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`

// reclaimScript 把取出时间早于截止时间的处理中成员放回延迟队列并立即到期
//
// KEYS[1] 处理中集合键
// KEYS[2] 延迟队列键
// ARGV[1] 截止时间 (unix 毫秒)
// ARGV[2] 当前时间 (unix 毫秒)
const reclaimScript = `
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, m in ipairs(items) do
    redis.call('ZREM', KEYS[1], m)
    redis.call('ZADD', KEYS[2], ARGV[2], m)
end
return #items
`

// QueueStore 延迟队列所需的 Redis 能力
type QueueStore interface {
	cache.ZSetOperations
	cache.ScriptingOperations
}

// Queue 基于 Redis 有序集合的延迟队列，score 为到期时间的 unix 毫秒，member 为编码后的信封。
// 取出的成员先进入 {key}:inflight 集合，确认投递后才删除；
// 进程在投递前退出时，成员由 Reclaim 放回延迟队列。
type Queue struct {
	store       QueueStore
	key         string
	inflightKey string
}

// NewQueue 创建延迟队列
func NewQueue(store QueueStore, key string) *Queue {
	return &Queue{store: store, key: key, inflightKey: key + ":inflight"}
}

// Add 将信封加入延迟队列，到期时间为 due
func (q *Queue) Add(ctx context.Context, env *task.Envelope, due time.Time) error {
	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return q.AddRaw(ctx, string(body), due)
}

// AddRaw 直接写入已编码的成员
func (q *Queue) AddRaw(ctx context.Context, member string, due time.Time) error {
	return q.store.ZAdd(ctx, q.key, &cache.ZMember{Member: member, Score: float64(due.UnixMilli())})
}

// Claim 取出至多 limit 条到期成员并移入处理中集合，投递成功后需调用 Ack
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int) ([]string, error) {
	res, err := q.store.RunScript(ctx, claimScript, []string{q.key, q.inflightKey},
		millis(now), limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected claim result type %T", res)
	}
	members := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected claim member type %T", item)
		}
		members = append(members, s)
	}
	return members, nil
}

// Ack 确认成员已投递，从处理中集合删除
func (q *Queue) Ack(ctx context.Context, member string) error {
	return q.store.ZRem(ctx, q.inflightKey, member)
}

// Requeue 将处理中的成员放回延迟队列，到期时间为 due
func (q *Queue) Requeue(ctx context.Context, member string, due time.Time) error {
	_, err := q.store.RunScript(ctx, requeueScript, []string{q.inflightKey, q.key},
		member, millis(due))
	return err
}

// Reclaim 将取出时间不晚于 now-timeout 的处理中成员放回延迟队列，返回放回的数量
func (q *Queue) Reclaim(ctx context.Context, now time.Time, timeout time.Duration) (int, error) {
	res, err := q.store.RunScript(ctx, reclaimScript, []string{q.inflightKey, q.key},
		millis(now.Add(-timeout)), millis(now))
	if err != nil {
		return 0, err
	}
	n, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected reclaim result type %T", res)
	}
	return int(n), nil
}

// Len 返回队列中等待的任务数
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, q.key)
}

// InFlightLen 返回已取出但尚未确认的任务数
func (q *Queue) InFlightLen(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, q.inflightKey)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
