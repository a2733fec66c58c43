package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vitalguard-alarm/common/database"
	"vitalguard-alarm/common/logger"
	"vitalguard-alarm/common/mqtt"
	"vitalguard-alarm/common/redis"
	"vitalguard-alarm/internal/config"
	"vitalguard-alarm/internal/consumer"
	"vitalguard-alarm/internal/httpapi"
	"vitalguard-alarm/internal/notifier"
	"vitalguard-alarm/internal/prediction"
	"vitalguard-alarm/internal/repository"
	"vitalguard-alarm/internal/service"

	"go.uber.org/zap"
)

// patientSource 患者信息 + 轮询名册
type patientSource interface {
	service.PatientDirectory
	consumer.PatientRoster
}

func main() {
	// 1. 加载配置（非法配置直接退出）
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "vitalguard-alarm")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 患者名册：数据库未启用时使用内置名册
	var patients patientSource = repository.NewStaticPatientDirectory(repository.DefaultPatients())
	var opts []service.EngineOption
	var alertRepo *repository.AlertEventsRepository

	var db *sql.DB
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(ctx, &cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for vitalguard-alarm")
		} else {
			log.Warn("DB enabled but connection failed, alert log will not be persisted", zap.Error(err))
		}
	}
	if db != nil {
		patientRepo := repository.NewPatientRepository(db, log)
		alertRepo = repository.NewAlertEventsRepository(db, log)
		if err := patientRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare patients table", zap.Error(err))
		}
		if err := alertRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare alert_events table", zap.Error(err))
		}
		if cfg.SeedPatients {
			if _, err := patientRepo.SeedPatients(ctx, repository.DefaultPatients()); err != nil {
				log.Warn("Failed to seed patients", zap.Error(err))
			}
		}
		patients = patientRepo
		opts = append(opts, service.WithSink(alertRepo))
	}

	// 4. Redis（轮询生命体征、活跃报警缓存、Stream 推送）
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewRedisClient(&cfg.Redis)
		if err := redis.Ping(ctx, redisClient); err != nil {
			log.Fatal("Failed to ping redis", zap.Error(err))
		}
	}

	// 5. 报警推送
	var mqttClient *mqtt.Client
	switch cfg.Alarm.Notify.Transport {
	case config.NotifyMQTT:
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		opts = append(opts, service.WithNotifier(
			notifier.NewMQTTNotifier(mqttClient, cfg.Alarm.Notify.TopicPrefix, cfg.MQTT.QoS, log),
		))
	case config.NotifyStream:
		opts = append(opts, service.WithNotifier(
			notifier.NewStreamNotifier(redisClient, cfg.Alarm.Notify.Stream, cfg.Alarm.Notify.StreamMaxLen, log),
		))
	}

	// 6. 报警引擎 + 启动重放
	engine := service.NewAlertEngine(cfg, patients, log, opts...)
	if alertRepo != nil {
		records, err := alertRepo.ListAll(ctx)
		if err != nil {
			log.Fatal("Failed to load alert log", zap.Error(err))
		}
		if err := engine.Replay(records); err != nil {
			log.Fatal("Failed to replay alert log", zap.Error(err))
		}
		counts := engine.Counts()
		log.Info("Alert log replayed",
			zap.Int("records", counts.Triggered),
			zap.Int("active", counts.Active),
		)
	}

	// 7. HTTP 接口
	var cache *consumer.CacheManager
	var handlerOpts []httpapi.HandlerOption
	if redisClient != nil {
		cache = consumer.NewCacheManager(cfg, redisClient, log)
		handlerOpts = append(handlerOpts, httpapi.WithAlertCache(cache))
	}
	router := httpapi.NewRouter(log)
	router.RegisterAlertRoutes(httpapi.NewAlertHandler(engine, log, handlerOpts...))
	srv := service.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, log)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Start()
	}()

	// 8. 轮询评估
	if cfg.Alarm.PollEnabled {
		predictor := prediction.NewClient(
			cfg.Alarm.Predictor.BaseURL,
			cfg.Alarm.Predictor.Timeout,
			cfg.Alarm.Predictor.RetryCount,
			log,
		)
		runner := consumer.NewTickRunner(cfg, patients, cache, predictor, cache, engine, log)
		go func() {
			if err := runner.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	// 9. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if err := redis.Close(redisClient); err != nil {
		log.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		log.Error("Failed to close database", zap.Error(err))
	}

	log.Info("Alarm service stopped")
}
