package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/alarm"
	"github.com/thepine7/dashboard-sub002/internal/config"
	"github.com/thepine7/dashboard-sub002/internal/consistency"
	"github.com/thepine7/dashboard-sub002/internal/consumer"
	"github.com/thepine7/dashboard-sub002/internal/fanout"
	httpapi "github.com/thepine7/dashboard-sub002/internal/http"
	"github.com/thepine7/dashboard-sub002/internal/notifier"
	"github.com/thepine7/dashboard-sub002/internal/repository"
	"github.com/thepine7/dashboard-sub002/internal/status"
	"github.com/thepine7/dashboard-sub002/internal/transfer"
	"github.com/thepine7/dashboard-sub002/internal/worker"
	"github.com/thepine7/dashboard-sub002/pkg/database"
	mqttpkg "github.com/thepine7/dashboard-sub002/pkg/mqtt"
	"github.com/thepine7/dashboard-sub002/pkg/redisx"
)

// IngestService 传感器接入服务
// 组装 MQTT 消费、一致性协调、持久化、所有权转移与实时推送
type IngestService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttpkg.Client
	pool       *worker.Pool
	hub        *fanout.Hub
	consumer   *consumer.MQTTConsumer
	httpServer *http.Server
}

// NewIngestService 创建接入服务
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttpkg.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// Repository
	devicesRepo := repository.NewDevicesRepository(db, logger, cfg.Ingest.TransferTimeout)
	readingsRepo := repository.NewReadingsRepository(db, logger, cfg.Ingest.WriteTimeout)

	// 组件
	pool := worker.NewPool(cfg.Ingest.Workers, 256, logger)
	hub := fanout.NewHub(logger)
	coord := consistency.NewCoordinator(logger)
	latest := status.NewLatestStore()
	notify := notifier.NewNotifier(cfg.Notify.Endpoint, cfg.Notify.APIKey, logger)
	checker := alarm.NewChecker(devicesRepo, logger)

	transferSvc := transfer.NewService(devicesRepo, readingsRepo, mqttClient, pool, notify, logger)
	transferSvc.SetPurgeBatch(cfg.Ingest.PurgeBatchSize, cfg.Ingest.PurgeBatchPause)
	transferSvc.RegisterReset(coord.Forget, latest.Delete, checker.Forget)

	mqttConsumer := consumer.NewMQTTConsumer(
		mqttClient, coord, readingsRepo, latest, hub, redisClient,
		transferSvc, pool, checker, notify,
		cfg.Ingest.DataTopic, cfg.Ingest.Stream,
		cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, logger,
	)

	// HTTP
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(
		httpapi.NewStreamHandler(hub, logger),
		httpapi.NewStatusHandler(latest, coord, hub, readingsRepo, logger),
		httpapi.NewExportHandler(readingsRepo, logger),
	)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return &IngestService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		pool:       pool,
		hub:        hub,
		consumer:   mqttConsumer,
		httpServer: httpServer,
	}, nil
}

// Start 启动服务
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service components")

	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("Ingest service started successfully")
	return nil
}

// Stop 停止服务
// 顺序：停消费 → 停HTTP → 排空任务池 → 关闭连接
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")

	s.consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	s.pool.Stop()
	s.hub.Close()

	s.mqttClient.Disconnect()
	if err := redisx.Close(s.redis); err != nil {
		s.logger.Warn("Redis close error", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Database close error", zap.Error(err))
	}

	s.logger.Info("Ingest service stopped")
	return nil
}
