package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/im-infra/metrics"
	"github.com/ceyewan/taskflow/task-worker/internal/config"
	"github.com/gin-gonic/gin"
)

// HTTPServer 健康检查与指标暴露
type HTTPServer struct {
	config *config.Config
	engine *gin.Engine
	server *http.Server
	logger clog.Logger
}

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(cfg *config.Config, mp metrics.Provider) *HTTPServer {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if mp != nil {
		engine.Use(mp.HTTPMiddleware())
	}

	h := &HTTPServer{
		config: cfg,
		engine: engine,
		server: &http.Server{Addr: cfg.Server.HTTPAddr, Handler: engine},
		logger: clog.Module("http-server"),
	}

	engine.GET("/health", h.healthCheck)
	if mp != nil {
		engine.GET("/metrics", gin.WrapH(mp.Handler()))
	}
	return h
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
		"service":   "worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
