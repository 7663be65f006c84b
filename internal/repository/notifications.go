package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// NotificationsRepository 通知去重标记与投递日志仓库（学校库）
// 去重的唯一仲裁者是存储层 (student_id, notification_type, sent_on)
// 上的唯一索引：可能有多个进程实例共享同一存储，内存锁不可靠。
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{db: db, logger: logger}
}

// InsertMarker 原子插入去重标记。
// 唯一冲突（23505）不是错误，而是"当天已通知"信号，返回 duplicate=true。
func (r *NotificationsRepository) InsertMarker(ctx context.Context, studentID int64, notificationType string, day string, at time.Time) (int64, bool, error) {
	if notificationType != models.NotificationArrival && notificationType != models.NotificationDeparture {
		return 0, false, fmt.Errorf("invalid notification type: %s", notificationType)
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO whatsapp_notifications (student_id, notification_type, sent_on, sent_at, success)
		 VALUES ($1, $2, $3, $4, false) RETURNING id`,
		studentID, notificationType, day, at,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("failed to insert notification marker: %w", err)
	}

	return id, false, nil
}

// MarkSuccess 标记当天通知至少有一个监护人送达成功
func (r *NotificationsRepository) MarkSuccess(ctx context.Context, notificationID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE whatsapp_notifications SET success = true WHERE id = $1`,
		notificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification success: %w", err)
	}
	return nil
}

// RecordDelivery 记录单个监护人的投递结果（审计：区分无收件人与发送失败）
func (r *NotificationsRepository) RecordDelivery(ctx context.Context, notificationID, guardianID int64, phone string, success bool, sendErr error) error {
	var errText *string
	if sendErr != nil {
		msg := sendErr.Error()
		errText = &msg
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_deliveries (notification_id, guardian_id, phone, success, error)
		 VALUES ($1, $2, $3, $4, $5)`,
		notificationID, guardianID, phone, success, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// GetMarker 查询某学生某类型某天的标记（审计/重发路径用）
func (r *NotificationsRepository) GetMarker(ctx context.Context, studentID int64, notificationType string, day string) (*models.NotificationRecord, error) {
	query := `
		SELECT id, student_id, notification_type, sent_on::text, sent_at, success
		FROM whatsapp_notifications
		WHERE student_id = $1 AND notification_type = $2 AND sent_on = $3
	`

	var rec models.NotificationRecord
	err := r.db.QueryRowContext(ctx, query, studentID, notificationType, day).Scan(
		&rec.ID,
		&rec.StudentID,
		&rec.Type,
		&rec.SentOn,
		&rec.SentAt,
		&rec.Success,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification marker: %w", err)
	}

	return &rec, nil
}

// ClearMarker 清除标记（显式重发路径：清除后当天可再次通知）
func (r *NotificationsRepository) ClearMarker(ctx context.Context, studentID int64, notificationType string, day string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM whatsapp_notifications
		 WHERE student_id = $1 AND notification_type = $2 AND sent_on = $3`,
		studentID, notificationType, day,
	)
	if err != nil {
		return fmt.Errorf("failed to clear notification marker: %w", err)
	}
	return nil
}
