package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"edufocus-notify/internal/models"
	"edufocus-notify/internal/repository"
	"edufocus-notify/internal/session"
)

// Outcome 单次通知分发的结果
type Outcome int

const (
	OutcomeDelivered    Outcome = iota // 至少一个监护人送达成功
	OutcomeDuplicate                   // 当天已通知，抑制
	OutcomeNoRecipients                // 无有效监护人关联
	OutcomeFailed                      // 有收件人但全部发送失败
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNoRecipients:
		return "no_recipients"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StoreRouter 多租户存储路由（store.Router 实现）
type StoreRouter interface {
	Global(ctx context.Context) (*sql.DB, error)
	ForSchool(ctx context.Context, schoolID int64) (*sql.DB, error)
}

// Sender 按学校发送WhatsApp消息（会话注册表的门面）
type Sender interface {
	Send(ctx context.Context, schoolID int64, recipient string, payload []byte) error
}

// Pusher 监护人App推送（可选，nil 表示未启用）
type Pusher interface {
	Push(ctx context.Context, token, title, body string) error
}

// registrySender 会话注册表 → Sender 适配
type registrySender struct {
	registry *session.Registry
}

// NewRegistrySender 把会话注册表包装成分发器可用的发送端
func NewRegistrySender(registry *session.Registry) Sender {
	return &registrySender{registry: registry}
}

func (s *registrySender) Send(ctx context.Context, schoolID int64, recipient string, payload []byte) error {
	sess, err := s.registry.Get(ctx, schoolID)
	if err != nil {
		return fmt.Errorf("failed to get session for school %d: %w", schoolID, err)
	}
	return sess.Send(ctx, recipient, payload)
}

// Dispatcher 出勤通知分发器。
// 去重标记先于发送写入：同一事件的并发处理者最多只有一个能插入标记，
// 发送失败保留标记（宁可漏发一天，不打扰家长两次），重发走显式清除路径。
type Dispatcher struct {
	router      StoreRouter
	sender      Sender
	pusher      Pusher
	countryCode string
	logger      *zap.Logger
}

// NewDispatcher 创建分发器；pusher 可为 nil
func NewDispatcher(router StoreRouter, sender Sender, pusher Pusher, countryCode string, logger *zap.Logger) *Dispatcher {
	if countryCode == "" {
		countryCode = "55"
	}
	return &Dispatcher{
		router:      router,
		sender:      sender,
		pusher:      pusher,
		countryCode: countryCode,
		logger:      logger,
	}
}

// RecordAttendance 把出勤事件落入学校库（只追加）
func (d *Dispatcher) RecordAttendance(ctx context.Context, schoolID, studentID int64, eventType string, ts time.Time) (int64, error) {
	schoolDB, err := d.router.ForSchool(ctx, schoolID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve school db: %w", err)
	}
	return repository.NewAttendanceRepository(schoolDB, d.logger).Append(ctx, studentID, eventType, ts)
}

// NotifyAttendance 针对一条出勤事件通知所有有效监护人。
// 事件时间所在的本地日历日为去重键；每个监护人独立发送、独立记录。
func (d *Dispatcher) NotifyAttendance(ctx context.Context, schoolID, studentID int64, eventType string, eventTime time.Time) (Outcome, error) {
	notificationType, err := notificationTypeFor(eventType)
	if err != nil {
		return OutcomeFailed, err
	}

	schoolDB, err := d.router.ForSchool(ctx, schoolID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to resolve school db: %w", err)
	}

	students := repository.NewStudentsRepository(schoolDB, d.logger)
	student, err := students.GetStudent(ctx, studentID)
	if err != nil {
		return OutcomeFailed, err
	}

	links, err := students.ActiveGuardianLinks(ctx, studentID)
	if err != nil {
		return OutcomeFailed, err
	}

	notifications := repository.NewNotificationsRepository(schoolDB, d.logger)
	day := eventTime.Format("2006-01-02")
	notificationID, duplicate, err := notifications.InsertMarker(ctx, studentID, notificationType, day, eventTime)
	if err != nil {
		return OutcomeFailed, err
	}
	if duplicate {
		d.logger.Info("notification suppressed, already sent today",
			zap.Int64("school_id", schoolID),
			zap.Int64("student_id", studentID),
			zap.String("type", notificationType),
			zap.String("day", day),
		)
		return OutcomeDuplicate, nil
	}

	if len(links) == 0 {
		// 标记保留：事件已处理，只是无人可通知
		d.logger.Warn("no active guardians for student",
			zap.Int64("school_id", schoolID),
			zap.Int64("student_id", studentID),
		)
		return OutcomeNoRecipients, nil
	}

	globalDB, err := d.router.Global(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to resolve system db: %w", err)
	}

	schoolName := d.schoolName(ctx, globalDB, schoolID)

	guardianIDs := make([]int64, 0, len(links))
	for _, link := range links {
		guardianIDs = append(guardianIDs, link.GuardianID)
	}
	guardians, err := repository.NewGuardiansRepository(globalDB, d.logger).GetGuardians(ctx, guardianIDs)
	if err != nil {
		return OutcomeFailed, err
	}

	var text string
	if notificationType == models.NotificationArrival {
		text = ArrivalMessage(schoolName, student.Name, student.ClassName, eventTime)
	} else {
		text = DepartureMessage(schoolName, student.Name, student.ClassName, eventTime)
	}

	delivered := 0
	for _, guardian := range guardians {
		recipient := FormatRecipient(guardian.Phone, d.countryCode)
		sendErr := d.sender.Send(ctx, schoolID, recipient, []byte(text))

		if err := notifications.RecordDelivery(ctx, notificationID, guardian.ID, guardian.Phone, sendErr == nil, sendErr); err != nil {
			d.logger.Error("failed to record delivery",
				zap.Int64("notification_id", notificationID),
				zap.Int64("guardian_id", guardian.ID),
				zap.Error(err),
			)
		}

		if sendErr != nil {
			d.logger.Warn("whatsapp delivery failed",
				zap.Int64("school_id", schoolID),
				zap.Int64("guardian_id", guardian.ID),
				zap.Error(sendErr),
			)
			continue
		}
		delivered++

		d.pushToGuardian(ctx, schoolName, student.Name, notificationType, guardian)
	}

	if delivered == 0 {
		return OutcomeFailed, nil
	}

	if err := notifications.MarkSuccess(ctx, notificationID); err != nil {
		d.logger.Error("failed to mark notification success",
			zap.Int64("notification_id", notificationID),
			zap.Error(err),
		)
	}

	d.logger.Info("attendance notification dispatched",
		zap.Int64("school_id", schoolID),
		zap.Int64("student_id", studentID),
		zap.String("type", notificationType),
		zap.Int("delivered", delivered),
		zap.Int("recipients", len(guardians)),
	)
	return OutcomeDelivered, nil
}

// pushToGuardian 尽力而为的App推送，失败只记录
func (d *Dispatcher) pushToGuardian(ctx context.Context, schoolName, studentName, notificationType string, guardian models.Guardian) {
	if d.pusher == nil || guardian.FCMToken == nil || *guardian.FCMToken == "" {
		return
	}
	if err := d.pusher.Push(ctx, *guardian.FCMToken, schoolName, pushBody(studentName, notificationType)); err != nil {
		d.logger.Warn("app push failed",
			zap.Int64("guardian_id", guardian.ID),
			zap.Error(err),
		)
	}
}

// schoolName 从系统库取学校名，失败时回退为通用名
func (d *Dispatcher) schoolName(ctx context.Context, globalDB *sql.DB, schoolID int64) string {
	school, err := repository.NewSchoolsRepository(globalDB, d.logger).GetSchool(ctx, schoolID)
	if err != nil {
		d.logger.Warn("failed to get school name",
			zap.Int64("school_id", schoolID),
			zap.Error(err),
		)
		return "Escola"
	}
	return school.Name
}

func notificationTypeFor(eventType string) (string, error) {
	switch eventType {
	case models.EventEntry:
		return models.NotificationArrival, nil
	case models.EventExit:
		return models.NotificationDeparture, nil
	default:
		return "", fmt.Errorf("invalid attendance type: %s", eventType)
	}
}
