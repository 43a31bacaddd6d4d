// Package dedup 记录已成功处理的任务，用于在至少一次投递下跳过重复消息。
package dedup

import (
	"context"
	"time"

	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/idempotent"
)

// MarkerValue 是写入去重记录的值
const MarkerValue = "processed"

// Store 基于 idempotent 组件的去重存储
type Store struct {
	idem idempotent.Idempotent
	ttl  time.Duration
}

// New 创建去重存储，键格式为 {keyPrefix}:{task_id}
func New(store cache.StringOperations, keyPrefix string, ttl time.Duration) (*Store, error) {
	idem, err := idempotent.New(store, idempotent.Config{
		KeyPrefix:   keyPrefix,
		DefaultTTL:  ttl,
		MarkerValue: MarkerValue,
	}, idempotent.WithLogger(clog.Module("dedup")))
	if err != nil {
		return nil, err
	}
	return &Store{idem: idem, ttl: ttl}, nil
}

// Exists 判断任务是否已经成功处理过
func (s *Store) Exists(ctx context.Context, taskID string) (bool, error) {
	return s.idem.Check(ctx, taskID)
}

// MarkProcessed 标记任务已处理。
// 标记已存在时不会改写原值或延长过期时间；ttl 为 0 时使用默认值。
func (s *Store) MarkProcessed(ctx context.Context, taskID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	_, err := s.idem.Set(ctx, taskID, ttl)
	return err
}

