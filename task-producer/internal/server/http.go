package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/taskflow/api/task"
	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/im-infra/ratelimit"
	"github.com/ceyewan/taskflow/task-producer/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// 固定的失败任务类型，worker 端对应的处理器总是返回错误
const failTaskType = "fail_task"

const (
	msgQueued          = "Task successfully published to the queue."
	msgFailureQueued   = "Failure-simulation task queued. Watch worker logs for retries and DLQ."
	errPublishFailed   = "Failed to publish task"
	errInvalidRequest  = "Invalid request body"
	errTooManyRequests = "Too many requests"
)

// Publisher 发布任务信封
type Publisher interface {
	Publish(ctx context.Context, env *task.Envelope) error
}

// submitRequest 提交任务的请求体
type submitRequest struct {
	TaskID     string         `json:"task_id"`
	TaskType   string         `json:"task_type"`
	Payload    map[string]any `json:"payload"`
	MaxRetries *int           `json:"max_retries" binding:"omitempty,min=0"`
}

// submitResponse 提交成功的响应
type submitResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// HTTPServer 任务提交入口
type HTTPServer struct {
	config    *config.Config
	engine    *gin.Engine
	server    *http.Server
	publisher Publisher
	limiter   ratelimit.RateLimiter
	logger    clog.Logger
}

// HTTPOption 定制 HTTPServer
type HTTPOption func(*HTTPServer)

// WithRateLimiter 为提交接口启用按客户端 IP 的限流
func WithRateLimiter(l ratelimit.RateLimiter) HTTPOption {
	return func(h *HTTPServer) { h.limiter = l }
}

// NewHTTPServer 创建 HTTP 服务器并注册路由
func NewHTTPServer(cfg *config.Config, pub Publisher, mp metrics.Provider, opts ...HTTPOption) *HTTPServer {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	// payload 中的数字按原文透传，不经过 float64
	binding.EnableDecoderUseNumber = true

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware())
	if mp != nil {
		engine.Use(mp.HTTPMiddleware())
	}

	h := &HTTPServer{
		config:    cfg,
		engine:    engine,
		server:    &http.Server{Addr: cfg.Server.HTTPAddr, Handler: engine},
		publisher: pub,
		logger:    clog.Module("http-server"),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes(mp)
	return h
}

func (h *HTTPServer) registerRoutes(mp metrics.Provider) {
	v1 := h.engine.Group("/api/v1")
	{
		v1.GET("/health", h.healthCheck)

		tasks := v1.Group("/tasks")
		tasks.Use(h.rateLimitMiddleware())
		{
			tasks.POST("", h.submitTask)
			tasks.POST("/simulate-failure", h.simulateFailure)
		}
	}

	if mp != nil {
		h.engine.GET("/metrics", gin.WrapH(mp.Handler()))
	}
}

// Engine 返回 gin 引擎实例
func (h *HTTPServer) Engine() *gin.Engine {
	return h.engine
}

// Start 阻塞监听
func (h *HTTPServer) Start() error {
	h.logger.Info("HTTP 服务启动", clog.String("addr", h.config.Server.HTTPAddr))
	return h.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "producer",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// submitTask 接收任务并发布到主 topic
func (h *HTTPServer) submitTask(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	req.TaskType = strings.TrimSpace(req.TaskType)
	if req.TaskType == "" {
		h.errorResponse(c, http.StatusBadRequest, errInvalidRequest, "task_type is required")
		return
	}
	h.publish(c, req, msgQueued)
}

// simulateFailure 强制 task_type 为 fail_task，用于观察重试与死信流程
func (h *HTTPServer) simulateFailure(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.errorResponse(c, http.StatusBadRequest, errInvalidRequest, err.Error())
			return
		}
	}
	req.TaskType = failTaskType
	h.publish(c, req, msgFailureQueued)
}

func (h *HTTPServer) publish(c *gin.Context, req submitRequest, message string) {
	var env *task.Envelope
	if req.TaskID != "" {
		env = task.NewWithID(req.TaskID, req.TaskType, req.Payload)
	} else {
		env = task.New(req.TaskType, req.Payload)
	}
	env.MaxRetries = req.MaxRetries

	if err := h.publisher.Publish(c.Request.Context(), env); err != nil {
		h.errorResponse(c, http.StatusServiceUnavailable, errPublishFailed, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, submitResponse{
		TaskID:    env.TaskID,
		Status:    "queued",
		Message:   message,
		CreatedAt: env.CreatedAtText(),
	})
}

// rateLimitMiddleware 未配置限流器时直接放行；限流组件故障时放行
func (h *HTTPServer) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}
		allowed, err := h.limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP(), config.RuleTaskSubmit)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("限流检查失败，放行请求", clog.Err(err))
		}
		if !allowed {
			h.errorResponse(c, http.StatusTooManyRequests, errTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// errorResponse 错误响应
func (h *HTTPServer) errorResponse(c *gin.Context, statusCode int, message, detail string) {
	c.JSON(statusCode, gin.H{
		"error":  message,
		"detail": detail,
	})
}

// loggingMiddleware 日志中间件
func loggingMiddleware() gin.HandlerFunc {
	logger := clog.Module("http-request")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP请求",
			clog.String("method", method),
			clog.String("path", path),
			clog.Int("status", c.Writer.Status()),
			clog.Duration("latency", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		)
	}
}
