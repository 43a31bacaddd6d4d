package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/taskflow/im-infra/clog"
	"github.com/ceyewan/taskflow/task-worker/internal/config"
	"github.com/ceyewan/taskflow/task-worker/internal/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		version    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *version {
		fmt.Println("task-worker v1.0.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := clog.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer clog.Sync()

	logger := clog.Module("main")
	logger.Info("启动 task-worker 服务",
		clog.String("version", cfg.Server.Version),
		clog.String("config", *configPath),
	)

	srv, err := server.NewServer(cfg)
	if err != nil {
		logger.Error("创建服务器失败", clog.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("启动服务器失败", clog.Err(err))
		os.Exit(1)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("收到退出信号，正在关闭...")
	case err := <-srv.Errors():
		logger.Error("运行期致命错误，正在关闭", clog.Err(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("关闭服务器出错", clog.Err(err))
		exitCode = 1
	}

	logger.Info("服务器已关闭")
	_ = clog.Sync()
	os.Exit(exitCode)
}
