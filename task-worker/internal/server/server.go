package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ceyewan/taskflow/im-infra/cache"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/kafka"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/im-infra/startup"
	"github.com/ceyewan/taskflow/task-worker/internal/config"
	"github.com/ceyewan/taskflow/task-worker/internal/deadletter"
	"github.com/ceyewan/taskflow/task-worker/internal/dedup"
	"github.com/ceyewan/taskflow/task-worker/internal/dispatcher"
	"github.com/ceyewan/taskflow/task-worker/internal/handler"
	"github.com/ceyewan/taskflow/task-worker/internal/registry"
	"github.com/ceyewan/taskflow/task-worker/internal/retry"
)

// Server 组装并运行 worker 的所有组件
type Server struct {
	config    *config.Config
	logger    clog.Logger
	metrics   metrics.Provider
	telemetry *telemetry
	registry  *registry.Registry

	cache    cache.Cache
	producer kafka.Producer
	consumer kafka.Consumer
	topics   *kafka.TopicManager

	dispatcher *dispatcher.Dispatcher
	pump       *retry.Pump
	http       *HTTPServer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// NewServer 创建服务器实例，此时还不会连接任何外部依赖
func NewServer(cfg *config.Config) (*Server, error) {
	mp, err := metrics.New(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tel, err := newTelemetry()
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := registry.New()
	if err := handler.RegisterBuiltins(reg); err != nil {
		return nil, err
	}

	return &Server{
		config:    cfg,
		logger:    clog.Module("task-worker"),
		metrics:   mp,
		telemetry: tel,
		registry:  reg,
		errCh:     make(chan error, 2),
	}, nil
}

// Registry 返回处理器注册表，可在 Start 之前注册自定义处理器
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Start 连接依赖、声明 topic 并启动消费循环、延迟队列搬运和 HTTP 服务
func (s *Server) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.build(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.http = NewHTTPServer(s.config, s.metrics)
	go func() {
		if err := s.http.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP 服务异常退出", clog.Err(err))
		}
	}()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.pump.Run(runCtx); err != nil {
			s.errCh <- fmt.Errorf("retry pump: %w", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.dispatcher.Run(runCtx); err != nil {
			s.logger.Error("消费循环异常退出", clog.Bool("alert", true), clog.Err(err))
			s.errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	s.logger.Info("worker 已就绪，等待任务",
		clog.String("topic", s.config.Topics.Tasks.Name),
		clog.String("group", s.config.Topics.ConsumerGroup),
		clog.Int("max_retries", s.config.Retry.MaxRetries),
		clog.Float64("retry_base_delay", s.config.Retry.BaseDelay),
		clog.Strings("task_types", s.registry.Types()),
	)
	return nil
}

// Errors 返回运行期的致命错误，例如死信投递失败
func (s *Server) Errors() <-chan error {
	return s.errCh
}

func (s *Server) connect(ctx context.Context) error {
	policy := startup.Policy{Attempts: s.config.Startup.Attempts, Delay: s.config.Startup.Delay}
	kcfg := s.config.Kafka

	err := startup.Retry(ctx, "redis", policy, func(ctx context.Context) error {
		c, err := cache.New(ctx, s.config.Redis)
		if err != nil {
			return err
		}
		s.cache = c
		return nil
	})
	if err != nil {
		return err
	}

	err = startup.Retry(ctx, "kafka", policy, func(ctx context.Context) error {
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
	s.consumer, err = kafka.NewConsumer(ctx, kcfg, s.config.Topics.ConsumerGroup, []string{s.config.Topics.Tasks.Name})
	return err
}

func (s *Server) build() error {
	cfg := s.config
	tel := s.telemetry

	router := deadletter.NewRouter(s.producer, cfg.Topics.DeadLetter.Name,
		deadletter.WithCounters(tel.deadLetters, tel.deadLetterFailures),
	)

	queue := retry.NewQueue(s.cache, cfg.Retry.QueueKey)
	scheduler := retry.NewScheduler(queue, router, retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}, retry.WithSource(cfg.Topics.Tasks.Name), retry.WithScheduledCounter(tel.retries))

	s.pump = retry.NewPump(queue, s.producer, router, retry.PumpConfig{
		Topic:            cfg.Topics.Tasks.Name,
		PollInterval:     cfg.Retry.PollInterval,
		BatchSize:        cfg.Retry.BatchSize,
		RepublishBackoff: cfg.Retry.RepublishBackoff,
		ClaimTimeout:     cfg.Retry.ClaimTimeout,
	})
	if err := tel.observeRetryQueue(queue); err != nil {
		return fmt.Errorf("observe retry queue: %w", err)
	}

	store, err := dedup.New(s.cache, cfg.Dedup.KeyPrefix, cfg.Dedup.TTL)
	if err != nil {
		return err
	}

	s.dispatcher = dispatcher.New(s.consumer, store, s.registry, scheduler, router, dispatcher.Config{
		Topic:    cfg.Topics.Tasks.Name,
		DedupTTL: cfg.Dedup.TTL,
	}, dispatcher.Instruments{
		Messages:        tel.messages,
		HandlerDuration: tel.handlerDuration,
	})
	return nil
}

// Stop 优雅关闭：停止拉取新消息，等待当前消息与批次完成，再关闭客户端
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("正在关闭 task-worker...")
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("等待消费循环与延迟队列搬运超时，未确认的任务将在超时后被回收",
			clog.Duration("claim_timeout", s.config.Retry.ClaimTimeout))
		errs = append(errs, fmt.Errorf("wait for workers: %w", ctx.Err()))
	}

	if s.http != nil {
		errs = append(errs, s.http.Shutdown(ctx))
	}
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
	if s.topics != nil {
		s.topics.Close()
	}
	if s.cache != nil {
		errs = append(errs, s.telemetry.stopObserving())
		errs = append(errs, s.cache.Close())
	}
	errs = append(errs, s.metrics.Shutdown(ctx))

	s.logger.Info("task-worker 已关闭")
	return errors.Join(errs...)
}
