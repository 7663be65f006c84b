package service

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	commonredis "edufocus-notify/common/redis"
	"edufocus-notify/internal/config"
	"edufocus-notify/internal/consumer"
	"edufocus-notify/internal/dispatcher"
	"edufocus-notify/internal/pickup"
	"edufocus-notify/internal/push"
	"edufocus-notify/internal/repository"
	"edufocus-notify/internal/session"
	"edufocus-notify/internal/store"
	"edufocus-notify/internal/transport"
)

// NotifyService 通知服务（整合各层）
type NotifyService struct {
	config      *config.Config
	logger      *zap.Logger
	router      *store.Router
	redisClient *commonredis.Client

	registry   *session.Registry
	dispatcher *dispatcher.Dispatcher
	pickups    *pickup.Service
	consumer   *consumer.AttendanceConsumer
}

// NewNotifyService 创建通知服务
func NewNotifyService(cfg *config.Config, logger *zap.Logger) (*NotifyService, error) {
	// 1. 多租户存储路由（系统库 + 每校一库，按需建库）
	router := store.NewRouter(cfg.Database, cfg.Store.SchoolDBPrefix, logger)

	// 2. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 系统库可达性与结构初始化
	globalDB, err := router.Global(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to open system database: %w", err)
	}
	credsStore := repository.NewCredentialsRepository(globalDB, logger)

	// 4. 会话注册表（每校一个WhatsApp会话，经MQTT网桥）
	factory := transport.NewFactory(transport.Config{
		Broker:             cfg.MQTT.Broker,
		ClientIDBase:       cfg.MQTT.ClientIDBase,
		Username:           cfg.MQTT.Username,
		Password:           cfg.MQTT.Password,
		QoS:                cfg.MQTT.QoS,
		CommandTopicFormat: cfg.MQTT.CommandTopic,
		EventTopicFormat:   cfg.MQTT.EventTopic,
	}, logger)
	registry := session.NewRegistry(factory, credsStore, session.Timing{
		KeepAliveInterval: cfg.WhatsApp.KeepAliveInterval,
		ConnectTimeout:    cfg.WhatsApp.ConnectTimeout,
		SendTimeout:       cfg.WhatsApp.SendTimeout,
		ProbeTimeout:      cfg.WhatsApp.ProbeTimeout,
	}, logger)
	sender := dispatcher.NewRegistrySender(registry)

	// 5. 监护人App推送（可选通道）
	var pusher dispatcher.Pusher
	if cfg.Push.Enabled {
		pusher = push.NewClient(push.Config{
			Endpoint:  cfg.Push.Endpoint,
			ServerKey: cfg.Push.ServerKey,
			Timeout:   cfg.Push.Timeout,
		}, logger)
	}

	// 6. 分发器与接送队列
	notifyDispatcher := dispatcher.NewDispatcher(router, sender, pusher, cfg.WhatsApp.CountryCode, logger)
	pickupService := pickup.NewService(router, sender, cfg.WhatsApp.CountryCode, logger)

	// 7. 出勤事件消费者
	hostname, _ := os.Hostname()
	attendanceConsumer := consumer.NewAttendanceConsumer(redisClient, consumer.Options{
		Stream:   cfg.Stream.Name,
		Group:    cfg.Stream.Group,
		Consumer: hostname,
		Batch:    cfg.Stream.Batch,
		Block:    cfg.Stream.Block,
	}, notifyDispatcher, logger)

	return &NotifyService{
		config:      cfg,
		logger:      logger,
		router:      router,
		redisClient: redisClient,
		registry:    registry,
		dispatcher:  notifyDispatcher,
		pickups:     pickupService,
		consumer:    attendanceConsumer,
	}, nil
}

// Dispatcher 通知分发器（供嵌入方直接触发通知）
func (s *NotifyService) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Pickups 接送队列服务
func (s *NotifyService) Pickups() *pickup.Service {
	return s.pickups
}

// Sessions 会话注册表（供管理端查询QR、注销会话）
func (s *NotifyService) Sessions() *session.Registry {
	return s.registry
}

// Start 启动服务，阻塞消费出勤事件直到 ctx 取消
func (s *NotifyService) Start(ctx context.Context) error {
	s.logger.Info("starting notify service",
		zap.String("stream", s.config.Stream.Name),
		zap.String("group", s.config.Stream.Group),
	)
	return s.consumer.Start(ctx)
}

// Stop 停止服务并释放资源（保留会话凭据供下次启动恢复）
func (s *NotifyService) Stop() {
	s.registry.Shutdown()

	if err := s.router.Close(); err != nil {
		s.logger.Error("failed to close database router",
			zap.Error(err),
		)
	}
	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Error("failed to close redis client",
			zap.Error(err),
		)
	}

	s.logger.Info("notify service stopped")
}
