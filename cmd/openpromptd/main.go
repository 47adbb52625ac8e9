package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OpenPrompt-Chain/internal/api"
	"OpenPrompt-Chain/internal/cache"
	"OpenPrompt-Chain/internal/config"
	"OpenPrompt-Chain/internal/llm"
	"OpenPrompt-Chain/internal/llm/provider"
	"OpenPrompt-Chain/internal/observability/alerting"
	"OpenPrompt-Chain/internal/prompt"
	"OpenPrompt-Chain/internal/registry"
	"OpenPrompt-Chain/internal/run"
	"OpenPrompt-Chain/internal/tool"
	"OpenPrompt-Chain/internal/tool/web3"
	"OpenPrompt-Chain/pkg/logger"
)

// main 是 OpenPrompt 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("openpromptd 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("OPENPROMPT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openprompt.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Trace: logger.TraceConfig{
			Enabled: cfg.Logging.TracePath != "",
			Path:    cfg.Logging.TracePath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 初始化模型客户端，并按需叠加补全缓存。
	models, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return err
	}
	defer models.Close()

	if err := wireCompletionCache(models, cfg.Cache); err != nil {
		return err
	}

	library, err := prompt.LoadLibrary(cfg.Library.PromptsConfig)
	if err != nil {
		return err
	}

	tools := make(map[string]tool.Tool)
	if cfg.Tools.Web3.Enabled {
		snapshot, err := web3.New(ctx, web3.Config{RPCURL: cfg.Tools.Web3.RPCURL})
		if err != nil {
			return err
		}
		defer snapshot.Close()
		tools[snapshot.Name()] = snapshot
	}

	chains, err := registry.Load(cfg.Library.ChainsConfig, library, models, tools)
	if err != nil {
		return err
	}

	var store run.Store
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		store = run.NewMemoryStore()
	case "mysql":
		mysqlStore, err := run.NewMySQLStore(cfg.Storage.RunStore.DSN)
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
	defer func() {
		_ = store.Close()
	}()

	var queue run.Queue
	switch cfg.RunQueue.Driver {
	case "", "memory":
		queue = run.NewMemoryQueue(1024)
	case "redis":
		redisQueue, err := run.NewRedisQueue(cfg.RunQueue.Redis)
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := run.NewRabbitMQQueue(cfg.RunQueue.RabbitMQ)
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.RunQueue.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭运行队列失败", "error", err)
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	service := run.NewService(store, queue, cfg.Storage.RunStore.MaxRetries)
	processor := run.NewProcessor(chains, store, queue, queue,
		run.WithWorkerCount(cfg.RunQueue.Workers),
		run.WithProcessorLogger(logger.Named("processor")),
		run.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, service, chains)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// wireCompletionCache 根据配置为注册表中的所有模型客户端叠加缓存层。
func wireCompletionCache(models *provider.Registry, cfg config.CacheConfig) error {
	var backend cache.Backend
	switch cfg.Driver {
	case "", "none":
		return nil
	case "memory":
		backend = cache.NewMemory(4096)
	case "redis":
		redisBackend, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			return err
		}
		backend = redisBackend
	default:
		return fmt.Errorf("未知的缓存驱动: %s", cfg.Driver)
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	var wireErr error
	models.Decorate(func(name string, client llm.Client) llm.Client {
		cached, err := cache.New(client, backend, ttl)
		if err != nil {
			wireErr = fmt.Errorf("为模型 %s 叠加缓存失败: %w", name, err)
			return client
		}
		return cached
	})
	return wireErr
}
