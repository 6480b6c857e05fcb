package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"backend/api"
	"backend/internal/audit"
	"backend/internal/broker"
	"backend/internal/config"
	"backend/internal/directory"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/usage"
	"backend/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	// 获取环境变量
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("data_root", cfg.Storage.DataRoot),
	)

	// 3. 构建核心服务（审计 / 用量 / 队列各用独立子目录）
	auditStore := audit.NewStore(filepath.Join(cfg.Storage.DataRoot, "audit"), audit.RotatePolicy{
		CompressAfterDays: cfg.Audit.CompressAfterDays,
		DeleteAfterDays:   cfg.Audit.DeleteAfterDays,
	})

	ledger := usage.NewLedger(filepath.Join(cfg.Storage.DataRoot, "usage"))
	gate := usage.NewGate(
		ledger,
		usage.NewConfigPlanRegistry(cfg.Quota),
		usage.NewPricingTable(cfg.Pricing),
		workspace.NewSizer(cfg.Storage.WorkspaceRoot),
		auditStore,
	)

	queueStore := broker.NewStore(filepath.Join(cfg.Storage.DataRoot, "queues"))
	if err := queueStore.Replay(); err != nil {
		logger.Fatal("队列重放失败", zap.Error(err))
	}

	dir := directory.NewConfigDirectory(cfg.Tenants)
	messageBroker := broker.New(queueStore, dir, auditStore)

	// 4. 设置 Gin 模式并创建路由
	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(api.Services{
		Broker:    messageBroker,
		Gate:      gate,
		Estimator: usage.NewEstimator(),
		Audit:     auditStore,
	})

	// 5. 创建 HTTP 服务器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 6. 启动后台日志轮转
	rotateStop := make(chan struct{})
	go rotateLoop(auditStore, cfg.Audit, rotateStop)

	// 7. 启动服务器（goroutine）
	go func() {
		logger.Info("HTTP 服务器启动",
			zap.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 8. 优雅关闭
	gracefulShutdown(server, rotateStop)
}

// rotateLoop 按配置间隔执行审计日志轮转
func rotateLoop(store *audit.Store, cfg config.AuditConfig, stop <-chan struct{}) {
	interval := time.Duration(cfg.RotateIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result := store.Rotate()
			metrics.AuditFilesCompressedTotal.Add(float64(result.Compressed))
			metrics.AuditFilesDeletedTotal.Add(float64(result.Deleted))
			metrics.AuditRotateErrorsTotal.Add(float64(result.Errors))
			logger.Info("审计日志轮转完成",
				zap.Int("compressed", result.Compressed),
				zap.Int("deleted", result.Deleted),
				zap.Int("errors", result.Errors),
			)
		case <-stop:
			return
		}
	}
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
func resolveEnvPath() string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, rotateStop chan<- struct{}) {
	// 监听中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	close(rotateStop)

	// 设置超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
