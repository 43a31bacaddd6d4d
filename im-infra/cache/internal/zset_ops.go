package internal

import (
	"context"
	"fmt"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/redis/go-redis/v9"
)

// ZMember 有序集合成员
type ZMember struct {
	Member interface{}
	Score  float64
}

// zsetOperations 是 ZSetOperations 接口的实现
type zsetOperations struct {
	client    *redis.Client
	logger    clog.Logger
	keyPrefix string
}

func newZSetOperations(client *redis.Client, logger clog.Logger, keyPrefix string) *zsetOperations {
	return &zsetOperations{client: client, logger: logger, keyPrefix: keyPrefix}
}

// ZAdd 添加一个或多个成员到有序集合
func (z *zsetOperations) ZAdd(ctx context.Context, key string, members ...*ZMember) error {
	formattedKey := formatKey(z.keyPrefix, key)

	zMembers := make([]redis.Z, len(members))
	for i, member := range members {
		zMembers[i] = redis.Z{Score: member.Score, Member: member.Member}
	}

	if err := z.client.ZAdd(ctx, formattedKey, zMembers...).Err(); err != nil {
		z.logger.Error("ZADD 失败", clog.String("key", formattedKey), clog.Err(err))
		return fmt.Errorf("zadd failed: %w", err)
	}

	z.logger.Debug("ZADD 成功", clog.String("key", formattedKey), clog.Int("count", len(members)))
	return nil
}

// ZRem 从有序集合中移除成员
func (z *zsetOperations) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if err := z.client.ZRem(ctx, formatKey(z.keyPrefix, key), members...).Err(); err != nil {
		z.logger.Error("ZREM 失败", clog.String("key", key), clog.Err(err))
		return fmt.Errorf("zrem failed: %w", err)
	}
	return nil
}

// ZCard 获取有序集合的成员数
func (z *zsetOperations) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := z.client.ZCard(ctx, formatKey(z.keyPrefix, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// ZRangeByScore 按分数区间查询成员及其分数
func (z *zsetOperations) ZRangeByScore(ctx context.Context, key, min, max string, count int64) ([]*ZMember, error) {
	opt := &redis.ZRangeBy{Min: min, Max: max}
	if count > 0 {
		opt.Count = count
	}

	result, err := z.client.ZRangeByScoreWithScores(ctx, formatKey(z.keyPrefix, key), opt).Result()
	if err != nil {
		z.logger.Error("ZRANGEBYSCORE 失败", clog.String("key", key), clog.Err(err))
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	members := make([]*ZMember, len(result))
	for i, r := range result {
		members[i] = &ZMember{Member: r.Member, Score: r.Score}
	}
	return members, nil
}
