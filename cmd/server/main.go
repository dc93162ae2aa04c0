package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goldledger/internal/config"
	"goldledger/internal/fallback"
	"goldledger/internal/handler"
	"goldledger/internal/infrastructure/cache"
	"goldledger/internal/infrastructure/database"
	"goldledger/internal/infrastructure/lock"
	"goldledger/internal/infrastructure/mq"
	"goldledger/internal/infrastructure/verification"
	"goldledger/internal/job"
	"goldledger/internal/metrics"
	"goldledger/internal/repository"
	"goldledger/internal/service"
	"goldledger/pkg/idgen"
	"goldledger/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("加载配置失败", "path", configPath, "error", err)
	}

	if err := logger.Init(cfg.Log.Env, cfg.Log.Level); err != nil {
		logger.Fatal("初始化日志失败", "error", err)
	}
	defer logger.Sync()

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logger.Fatal("初始化 ID 生成器失败", "error", err)
	}

	// 主库
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal("初始化 MySQL 失败", "error", err)
	}

	// 本地降级缓存
	fallbackDB, err := database.InitSQLite(cfg.Fallback.Path, cfg.Fallback.LogMode)
	if err != nil {
		logger.Fatal("初始化本地降级缓存失败", "path", cfg.Fallback.Path, "error", err)
	}

	// Redis 不可用时退化为进程内锁
	var redisClient *redis.Client
	locker := lock.Locker(lock.NewLocalLocker())
	if client, err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warn("Redis 不可用，仅使用进程内用户锁", "error", err)
	} else {
		redisClient = client
		defer redisClient.Close()
		locker = lock.NewChainLocker(lock.NewLocalLocker(), lock.NewRedisLocker(redisClient, cfg.Business.LockTTL()))
	}

	rates, err := buildRateProvider(cfg, redisClient)
	if err != nil {
		logger.Fatal("初始化行情失败", "error", err)
	}

	feeRate, err := decimal.NewFromString(cfg.Business.FeeRate)
	if err != nil {
		logger.Fatal("business.fee_rate 格式错误", "value", cfg.Business.FeeRate)
	}
	minInstallment, err := decimal.NewFromString(cfg.Business.MinSipInstallment)
	if err != nil {
		logger.Fatal("business.min_sip_installment 格式错误", "value", cfg.Business.MinSipInstallment)
	}

	m := metrics.New(cfg.Metrics.Namespace)

	store := repository.NewLedgerStore(db, cfg.Kafka.Topic.LedgerEvents, cfg.Business.StoreTimeout())
	profiles := repository.NewProfileRepository(db)
	fallbackCache := fallback.NewCache(fallbackDB)

	engine := service.NewEngine(store, fallbackCache, rates, profiles, locker, m, service.EngineOptions{
		FeeRate:               feeRate,
		MaxRateAge:            cfg.Rate.MaxAge(),
		GiftRequiresRecipient: cfg.Business.GiftRequiresRecipient,
	})
	sipScheduler := service.NewSipScheduler(repository.NewSipPlanRepository(db), engine, m, minInstallment, cfg.Business.SipDuePolicy)
	verifier := verification.NewSandboxClient(cfg.Verification.BaseURL, cfg.Verification.Timeout())

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka 不可用时事件留在 outbox，恢复后重启即可补发
	if producer, err := mq.InitKafka(&cfg.Kafka); err != nil {
		logger.Warn("Kafka 不可用，账本事件暂存 outbox", "error", err)
	} else {
		publisher := mq.NewPublisher(producer)
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), publisher, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	// 启动后台任务
	reconcileJob := job.NewReconcileJob(engine, time.Duration(cfg.Business.ReconcileIntervalSec)*time.Second)
	go reconcileJob.Start(ctx)

	sipDueJob := job.NewSipDueJob(sipScheduler, time.Duration(cfg.Business.SipDueIntervalSec)*time.Second)
	go sipDueJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(handler.Deps{
		Engine:         engine,
		AccountService: service.NewAccountService(store, fallbackCache),
		SipScheduler:   sipScheduler,
		ProfileService: service.NewProfileService(profiles),
		KycService:     service.NewKycService(verifier, profiles),
		Rates:          rates,
		Health:         store,
	}), m)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败", "error", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", "error", err)
	}

	logger.Info("服务已关闭")
}

func buildRateProvider(cfg *config.Config, client *redis.Client) (service.RateProvider, error) {
	if cfg.Rate.Source == "redis" {
		if client == nil {
			return nil, fmt.Errorf("rate.source=redis 但 Redis 不可用")
		}
		return service.NewRedisRateProvider(client, cfg.Rate.RedisKey), nil
	}

	buy, err := decimal.NewFromString(cfg.Rate.StaticBuy)
	if err != nil {
		return nil, fmt.Errorf("rate.static_buy 格式错误: %w", err)
	}
	sell, err := decimal.NewFromString(cfg.Rate.StaticSell)
	if err != nil {
		return nil, fmt.Errorf("rate.static_sell 格式错误: %w", err)
	}
	return service.NewStaticRateProvider(buy, sell), nil
}
