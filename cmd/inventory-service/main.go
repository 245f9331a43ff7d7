package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/hunanlzp/shopx-sub001/internal/lock"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/bootstrap"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/mq"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/redis"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/application"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure/adapter"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/infrastructure/rule"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/interfaces"
)

const (
	serviceName = "inventory-service"
	servicePort = 8086
)

func main() {
	logger.Init(serviceName)
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// 1. Redis：账本 + 默认的分布式锁后端
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// 2. 按配置选择锁实现
	locker, closeLocker, err := buildLocker(cfg, redisClient)
	if err != nil {
		logger.Logger.Fatal().Err(err).Str("backend", cfg.App.LockBackend).Msg("failed to initialize lock backend")
	}

	// 3. 预占单仓储：配了 MySQL 用 GORM，否则退回内存实现
	var repo domain.ReservationRepository
	if cfg.Infra.Mysql.DSN != "" {
		db, err := infrastructure.NewMysqlDB(cfg.Infra.Mysql.DSN)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
		}
		repo = infrastructure.NewGormReservationRepository(db)
	} else {
		logger.Logger.Warn().Msg("MYSQL_DSN not set, using in-memory reservation repository")
		repo = infrastructure.NewMemoryReservationRepository()
	}

	// 4. 到货通知走 Kafka，账本在 0 -> 正数 时触发
	restockWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, adapter.RestockTopic)
	notifier := adapter.NewRestockKafkaAdapter(restockWriter)
	ledger := adapter.NewLedgerRedisAdapter(redisClient, notifier)

	// 5. 预占规则（可选）
	var policy port.ReservePolicy
	if expr := cfg.App.Policy.ReserveRule; expr != "" {
		celPolicy, err := rule.NewCELPolicyAdapter(expr)
		if err != nil {
			logger.Logger.Fatal().Err(err).Str("rule", expr).Msg("failed to compile reserve rule")
		}
		policy = celPolicy
		logger.Logger.Info().Str("rule", expr).Msg("reserve policy enabled")
	}

	metrics := application.NewMetrics(serviceName, prometheus.DefaultRegisterer)
	service := application.NewReservationService(repo, ledger, locker, policy, metrics,
		otel.Tracer(serviceName), application.Config{
			LockWaitTime:     cfg.App.Lock.WaitTime,
			LockLeaseTime:    cfg.App.Lock.LeaseTime,
			SweepBatchSize:   cfg.App.Sweep.BatchSize,
			SweepConcurrency: cfg.App.Sweep.Concurrency,
			DefaultTTL:       cfg.App.Reservation.DefaultTTL,
		})

	// 6. 后台回收到期预占单
	sweepCtx, stopSweep := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	sweeper := application.NewSweeper(service, cfg.App.Sweep.Interval)
	go sweeper.Start(sweepCtx)

	handler := interfaces.NewReservationHandler(service)
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			stopSweep()
			if err := restockWriter.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing kafka writer")
			}
			if closeLocker != nil {
				closeLocker()
			}
			if err := redisClient.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing redis client")
			}
		},
	})
}

// buildLocker 按 LOCK_BACKEND 创建锁实现，返回可选的清理函数
func buildLocker(cfg *bootstrap.Config, redisClient *redis.Client) (lock.Locker, func(), error) {
	switch cfg.App.LockBackend {
	case "zookeeper":
		zkLocker, err := lock.NewZookeeperLocker(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		return zkLocker, zkLocker.Close, nil
	case "local":
		return lock.NewLocalLocker(), nil, nil
	default:
		redisLocker, err := lock.NewRedisLocker(redisClient)
		if err != nil {
			return nil, nil, err
		}
		return redisLocker, nil, nil
	}
}
