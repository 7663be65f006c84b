package pickup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"edufocus-notify/internal/dispatcher"
	"edufocus-notify/internal/models"
	"edufocus-notify/internal/repository"
)

// ErrUnknownStudent 接送请求指向不存在的学生
var ErrUnknownStudent = errors.New("unknown student")

// ErrPickupCompleted 已完成的接送请求不可再修改
var ErrPickupCompleted = errors.New("pickup request already completed")

// InvalidTransitionError 非法的状态推进（倒退或跳级）
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid pickup transition: %s -> %s", e.Current, e.Requested)
}

// 状态序（单调推进，每次只进一步）
var statusRank = map[string]int{
	models.PickupWaiting:   0,
	models.PickupCalling:   1,
	models.PickupCompleted: 2,
}

// StoreRouter 多租户存储路由（store.Router 实现）
type StoreRouter interface {
	Global(ctx context.Context) (*sql.DB, error)
	ForSchool(ctx context.Context, schoolID int64) (*sql.DB, error)
}

// Sender 按学校发送WhatsApp消息
type Sender interface {
	Send(ctx context.Context, schoolID int64, recipient string, payload []byte) error
}

// Service 接送队列服务。
// 状态只能 waiting → calling → completed 单调推进；完成的请求保留为
// 历史记录，从不删除。并发推进由存储层乐观更新仲裁。
type Service struct {
	router      StoreRouter
	sender      Sender
	countryCode string
	logger      *zap.Logger
}

// NewService 创建接送队列服务；sender 可为 nil（不发叫号提醒）
func NewService(router StoreRouter, sender Sender, countryCode string, logger *zap.Logger) *Service {
	if countryCode == "" {
		countryCode = "55"
	}
	return &Service{
		router:      router,
		sender:      sender,
		countryCode: countryCode,
		logger:      logger,
	}
}

// Create 创建接送请求（初始 waiting）；学生必须存在于该学校库
func (s *Service) Create(ctx context.Context, schoolID, studentID, guardianID int64, remoteAuthorization bool) (*models.PickupRequest, error) {
	schoolDB, err := s.router.ForSchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve school db: %w", err)
	}

	exists, err := repository.NewStudentsRepository(schoolDB, s.logger).Exists(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStudent, studentID)
	}

	pickups := repository.NewPickupsRepository(schoolDB, s.logger)
	id, err := pickups.Create(ctx, studentID, guardianID, remoteAuthorization)
	if err != nil {
		return nil, err
	}

	s.logger.Info("pickup request created",
		zap.Int64("school_id", schoolID),
		zap.Int64("pickup_id", id),
		zap.Int64("student_id", studentID),
	)
	return pickups.Get(ctx, id)
}

// Get 查询单个接送请求
func (s *Service) Get(ctx context.Context, schoolID, requestID int64) (*models.PickupRequest, error) {
	schoolDB, err := s.router.ForSchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve school db: %w", err)
	}
	return repository.NewPickupsRepository(schoolDB, s.logger).Get(ctx, requestID)
}

// Advance 把接送请求推进到 target 状态。
// 重复推进到当前状态是幂等的无操作；倒退和跳级被拒绝。
// 进入 calling 时尽力而为地通知监护人（失败不回滚状态）。
func (s *Service) Advance(ctx context.Context, schoolID, requestID int64, target string) (*models.PickupRequest, error) {
	targetRank, ok := statusRank[target]
	if !ok {
		return nil, fmt.Errorf("unknown pickup status: %s", target)
	}

	schoolDB, err := s.router.ForSchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve school db: %w", err)
	}
	pickups := repository.NewPickupsRepository(schoolDB, s.logger)

	req, err := pickups.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if targetRank == statusRank[req.Status] {
		// 重复请求（界面双击、重试）：无操作
		return req, nil
	}
	if targetRank != statusRank[req.Status]+1 {
		return nil, &InvalidTransitionError{Current: req.Status, Requested: target}
	}

	advanced, err := pickups.AdvanceStatus(ctx, requestID, req.Status, target)
	if err != nil {
		return nil, err
	}
	if !advanced {
		// 输掉并发竞争：重读，赢家已推进到同一目标则视为幂等成功
		current, err := pickups.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if current.Status == target {
			return current, nil
		}
		return nil, &InvalidTransitionError{Current: current.Status, Requested: target}
	}

	s.logger.Info("pickup request advanced",
		zap.Int64("school_id", schoolID),
		zap.Int64("pickup_id", requestID),
		zap.String("from", req.Status),
		zap.String("to", target),
	)

	if target == models.PickupCalling {
		s.notifyCalling(ctx, schoolID, schoolDB, req)
	}

	return pickups.Get(ctx, requestID)
}

// SetRemoteAuthorization 更新远程授权标记；completed 后不可变
func (s *Service) SetRemoteAuthorization(ctx context.Context, schoolID, requestID int64, authorized bool) error {
	schoolDB, err := s.router.ForSchool(ctx, schoolID)
	if err != nil {
		return fmt.Errorf("failed to resolve school db: %w", err)
	}
	pickups := repository.NewPickupsRepository(schoolDB, s.logger)

	req, err := pickups.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status == models.PickupCompleted {
		return fmt.Errorf("%w: %d", ErrPickupCompleted, requestID)
	}

	return pickups.SetRemoteAuthorization(ctx, requestID, authorized)
}

// List 查询接送队列（只读）
func (s *Service) List(ctx context.Context, schoolID int64, filters repository.PickupFilters) ([]models.PickupRequest, error) {
	schoolDB, err := s.router.ForSchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve school db: %w", err)
	}
	return repository.NewPickupsRepository(schoolDB, s.logger).List(ctx, filters)
}

// notifyCalling 叫号提醒：通知监护人学生正在被叫，失败只记录
func (s *Service) notifyCalling(ctx context.Context, schoolID int64, schoolDB *sql.DB, req *models.PickupRequest) {
	if s.sender == nil {
		return
	}

	student, err := repository.NewStudentsRepository(schoolDB, s.logger).GetStudent(ctx, req.StudentID)
	if err != nil {
		s.logger.Warn("pickup alert skipped, student lookup failed",
			zap.Int64("pickup_id", req.ID),
			zap.Error(err),
		)
		return
	}

	globalDB, err := s.router.Global(ctx)
	if err != nil {
		s.logger.Warn("pickup alert skipped, system db unavailable",
			zap.Int64("pickup_id", req.ID),
			zap.Error(err),
		)
		return
	}
	guardian, err := repository.NewGuardiansRepository(globalDB, s.logger).GetGuardian(ctx, req.GuardianID)
	if err != nil {
		s.logger.Warn("pickup alert skipped, guardian lookup failed",
			zap.Int64("pickup_id", req.ID),
			zap.Error(err),
		)
		return
	}

	text := fmt.Sprintf("📢 *%s* está sendo chamado(a) para a saída. Pode vir buscar!", student.Name)
	recipient := dispatcher.FormatRecipient(guardian.Phone, s.countryCode)
	if err := s.sender.Send(ctx, schoolID, recipient, []byte(text)); err != nil {
		s.logger.Warn("pickup alert delivery failed",
			zap.Int64("pickup_id", req.ID),
			zap.Int64("guardian_id", guardian.ID),
			zap.Error(err),
		)
	}
}
