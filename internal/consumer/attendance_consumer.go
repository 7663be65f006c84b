package consumer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	commonredis "edufocus-notify/common/redis"
	"edufocus-notify/internal/dispatcher"
)

// Notifier 出勤事件的下游处理（dispatcher.Dispatcher 实现）
type Notifier interface {
	RecordAttendance(ctx context.Context, schoolID, studentID int64, eventType string, ts time.Time) (int64, error)
	NotifyAttendance(ctx context.Context, schoolID, studentID int64, eventType string, eventTime time.Time) (dispatcher.Outcome, error)
}

// Options 消费者参数
type Options struct {
	Stream   string
	Group    string
	Consumer string // 消费者名（通常为主机名）
	Batch    int64
	Block    time.Duration
}

// attendanceEvent 流上的出勤事件
type attendanceEvent struct {
	SchoolID  int64
	StudentID int64
	Type      string
	Timestamp time.Time
}

// AttendanceConsumer 出勤事件消费者。
// 闸机/前台把事件写入 Redis Stream，这里按消费者组读取、落库、
// 触发通知后确认。通知结果由存储层去重标记保证，重复投递是安全的。
type AttendanceConsumer struct {
	client   *commonredis.Client
	opts     Options
	notifier Notifier
	logger   *zap.Logger
}

// NewAttendanceConsumer 创建出勤事件消费者
func NewAttendanceConsumer(client *commonredis.Client, opts Options, notifier Notifier, logger *zap.Logger) *AttendanceConsumer {
	if opts.Batch <= 0 {
		opts.Batch = 10
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Consumer == "" {
		opts.Consumer = "notify-worker"
	}
	return &AttendanceConsumer{
		client:   client,
		opts:     opts,
		notifier: notifier,
		logger:   logger,
	}
}

// Start 启动消费循环，阻塞直到 ctx 取消
func (c *AttendanceConsumer) Start(ctx context.Context) error {
	if err := commonredis.CreateConsumerGroup(ctx, c.client, c.opts.Stream, c.opts.Group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("attendance consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("group", c.opts.Group),
		zap.String("consumer", c.opts.Consumer),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("attendance consumer stopped")
			return nil
		default:
		}

		messages, err := commonredis.ReadFromStream(ctx, c.client, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.Batch, c.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("attendance consumer stopped")
				return nil
			}
			c.logger.Error("failed to read attendance stream",
				zap.Error(err),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage 处理单条消息；解析失败的毒消息直接确认丢弃
func (c *AttendanceConsumer) handleMessage(ctx context.Context, msg commonredis.StreamMessage) {
	event, err := parseAttendanceEvent(msg.Values)
	if err != nil {
		c.logger.Warn("discarding malformed attendance event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		c.ack(ctx, msg.ID)
		return
	}

	if _, err := c.notifier.RecordAttendance(ctx, event.SchoolID, event.StudentID, event.Type, event.Timestamp); err != nil {
		c.logger.Error("failed to record attendance event",
			zap.Int64("school_id", event.SchoolID),
			zap.Int64("student_id", event.StudentID),
			zap.Error(err),
		)
	}

	outcome, err := c.notifier.NotifyAttendance(ctx, event.SchoolID, event.StudentID, event.Type, event.Timestamp)
	if err != nil {
		c.logger.Error("failed to dispatch attendance notification",
			zap.Int64("school_id", event.SchoolID),
			zap.Int64("student_id", event.StudentID),
			zap.Error(err),
		)
	} else {
		c.logger.Info("attendance event processed",
			zap.Int64("school_id", event.SchoolID),
			zap.Int64("student_id", event.StudentID),
			zap.String("type", event.Type),
			zap.String("outcome", outcome.String()),
		)
	}

	// 无论结果如何都确认：重试由去重标记兜底，不会二次打扰家长
	c.ack(ctx, msg.ID)
}

func (c *AttendanceConsumer) ack(ctx context.Context, messageID string) {
	if err := commonredis.AckMessage(ctx, c.client, c.opts.Stream, c.opts.Group, messageID); err != nil {
		c.logger.Error("failed to ack stream message",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

// parseAttendanceEvent 解析流消息字段
func parseAttendanceEvent(values map[string]interface{}) (attendanceEvent, error) {
	var event attendanceEvent

	schoolID, err := int64Field(values, "school_id")
	if err != nil {
		return event, err
	}
	studentID, err := int64Field(values, "student_id")
	if err != nil {
		return event, err
	}

	eventType, _ := values["event_type"].(string)
	if eventType == "" {
		return event, fmt.Errorf("missing event_type")
	}

	ts, err := timeField(values, "timestamp")
	if err != nil {
		return event, err
	}

	event.SchoolID = schoolID
	event.StudentID = studentID
	event.Type = eventType
	event.Timestamp = ts
	return event, nil
}

func int64Field(values map[string]interface{}, key string) (int64, error) {
	raw, ok := values[key].(string)
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

// timeField 时间字段：缺省为当前时间，支持 RFC3339 和 Unix 秒
func timeField(values map[string]interface{}, key string) (time.Time, error) {
	raw, ok := values[key].(string)
	if !ok || raw == "" {
		return time.Now(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid %s: %q", key, raw)
}
