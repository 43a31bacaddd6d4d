package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ceyewan/taskflow/im-infra/breaker"
	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/im-infra/ratelimit"
	"github.com/ceyewan/taskflow/im-infra/startup"
	"github.com/ceyewan/taskflow/task-producer/internal/config"
	"github.com/ceyewan/taskflow/task-producer/internal/publisher"
)

// Server 组装并运行 producer 的所有组件
type Server struct {
	config  *config.Config
	logger  clog.Logger
	metrics metrics.Provider

	producer kafka.Producer
	topics   *kafka.TopicManager
	cache    cache.Cache

	http  *HTTPServer
	errCh chan error
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) (*Server, error) {
	mp, err := metrics.New(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return &Server{
		config:  cfg,
		logger:  clog.Module("task-producer"),
		metrics: mp,
		errCh:   make(chan error, 1),
	}, nil
}

// Start 声明 topic、连接 Kafka（以及启用限流时的 Redis），然后启动 HTTP 服务
func (s *Server) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	published, err := metrics.NewCounter("taskflow.tasks.published", "Tasks published by the producer")
	if err != nil {
		return err
	}

	opts := []publisher.Option{publisher.WithCounter(published)}
	if s.config.Breaker.Enabled {
		provider := breaker.New(s.config.Breaker.Policy)
		opts = append(opts, publisher.WithBreaker(provider.GetBreaker("kafka:"+s.config.Topics.Tasks.Name)))
	}
	pub := publisher.New(s.producer, s.config.Topics.Tasks.Name, opts...)

	var httpOpts []HTTPOption
	if s.cache != nil {
		limiter, err := ratelimit.New(s.cache, ratelimit.Config{
			Rules: map[string]ratelimit.Rule{config.RuleTaskSubmit: s.config.RateLimit.Rule},
		})
		if err != nil {
			return err
		}
		httpOpts = append(httpOpts, WithRateLimiter(limiter))
	}

	s.http = NewHTTPServer(s.config, pub, s.metrics, httpOpts...)
	go func() {
		if err := s.http.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP 服务异常退出", clog.Err(err))
			s.errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	s.logger.Info("producer 已就绪",
		clog.String("addr", s.config.Server.HTTPAddr),
		clog.String("topic", s.config.Topics.Tasks.Name),
		clog.Bool("breaker", s.config.Breaker.Enabled),
		clog.Bool("rate_limit", s.config.RateLimit.Enabled),
	)
	return nil
}

// Errors 返回运行期的致命错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

func (s *Server) connect(ctx context.Context) error {
	policy := startup.Policy{Attempts: s.config.Startup.Attempts, Delay: s.config.Startup.Delay}
	kcfg := s.config.Kafka

	err := startup.Retry(ctx, "kafka", policy, func(ctx context.Context) error {
		if s.topics == nil {
			tm, err := kafka.NewTopicManager(kcfg)
			if err != nil {
				return err
			}
			s.topics = tm
		}
		if err := s.topics.Ping(ctx); err != nil {
			return err
		}
		return s.topics.EnsureTopics(ctx, s.config.Topics.Tasks, s.config.Topics.DeadLetter)
	})
	if err != nil {
		return err
	}

	if s.producer, err = kafka.NewProducer(ctx, kcfg); err != nil {
		return err
	}

	if !s.config.RateLimit.Enabled {
		return nil
	}
	return startup.Retry(ctx, "redis", policy, func(ctx context.Context) error {
		c, err := cache.New(ctx, s.config.Redis)
		if err != nil {
			return err
		}
		s.cache = c
		return nil
	})
}

// Stop 先停止接收请求，再关闭客户端
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("正在关闭 task-producer...")

	var errs []error
	if s.http != nil {
		errs = append(errs, s.http.Shutdown(ctx))
	}
	if s.producer != nil {
		s.producer.Close()
	}
	if s.topics != nil {
		s.topics.Close()
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	errs = append(errs, s.metrics.Shutdown(ctx))

	s.logger.Info("task-producer 已关闭")
	return errors.Join(errs...)
}
