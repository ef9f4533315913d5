package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/config"
	"github.com/thepine7/dashboard-sub002/internal/service"
	"github.com/thepine7/dashboard-sub002/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hnt-ingest")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting hnt-ingest service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("data_topic", cfg.Ingest.DataTopic),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 创建服务
	ingestService, err := service.NewIngestService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create ingest service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ingestService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start ingest service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := ingestService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
