package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// PickupFilters 接送队列查询条件
type PickupFilters struct {
	Status    *string // 按状态过滤
	StudentID *int64  // 按学生过滤
}

// PickupsRepository 接送队列仓库（学校库）
type PickupsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPickupsRepository 创建接送仓库
func NewPickupsRepository(db *sql.DB, logger *zap.Logger) *PickupsRepository {
	return &PickupsRepository{db: db, logger: logger}
}

// Create 插入一条 waiting 状态的接送请求
func (r *PickupsRepository) Create(ctx context.Context, studentID, guardianID int64, remoteAuthorization bool) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO pickups (student_id, guardian_id, status, remote_authorization)
		 VALUES ($1, $2, 'waiting', $3) RETURNING id`,
		studentID, guardianID, remoteAuthorization,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create pickup request: %w", err)
	}

	return id, nil
}

// Get 根据ID获取接送请求
func (r *PickupsRepository) Get(ctx context.Context, requestID int64) (*models.PickupRequest, error) {
	query := `
		SELECT id, student_id, guardian_id, status, remote_authorization, created_at
		FROM pickups
		WHERE id = $1
	`

	var p models.PickupRequest
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&p.ID,
		&p.StudentID,
		&p.GuardianID,
		&p.Status,
		&p.RemoteAuthorization,
		&p.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("pickup request not found: %d", requestID)
		}
		return nil, fmt.Errorf("failed to get pickup request: %w", err)
	}

	return &p, nil
}

// AdvanceStatus 乐观推进状态：仅当当前状态仍为 from 时更新为 to。
// 返回是否真正更新了行；并发推进时输掉的一方拿到 false。
func (r *PickupsRepository) AdvanceStatus(ctx context.Context, requestID int64, from, to string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pickups SET status = $3 WHERE id = $1 AND status = $2`,
		requestID, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance pickup status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// SetRemoteAuthorization 更新远程授权标记（completed 后不可变，由服务层校验）
func (r *PickupsRepository) SetRemoteAuthorization(ctx context.Context, requestID int64, authorized bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pickups SET remote_authorization = $2 WHERE id = $1`,
		requestID, authorized,
	)
	if err != nil {
		return fmt.Errorf("failed to set remote authorization: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("pickup request not found: %d", requestID)
	}
	return nil
}

// List 查询接送队列（只读投影，无副作用）
func (r *PickupsRepository) List(ctx context.Context, filters PickupFilters) ([]models.PickupRequest, error) {
	query := `
		SELECT id, student_id, guardian_id, status, remote_authorization, created_at
		FROM pickups
		WHERE 1=1
	`
	args := []interface{}{}
	argPos := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *filters.Status)
		argPos++
	}
	if filters.StudentID != nil {
		query += fmt.Sprintf(" AND student_id = $%d", argPos)
		args = append(args, *filters.StudentID)
		argPos++
	}

	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pickup requests: %w", err)
	}
	defer rows.Close()

	var pickups []models.PickupRequest
	for rows.Next() {
		var p models.PickupRequest
		if err := rows.Scan(&p.ID, &p.StudentID, &p.GuardianID, &p.Status, &p.RemoteAuthorization, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pickup request: %w", err)
		}
		pickups = append(pickups, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pickup requests: %w", err)
	}

	return pickups, nil
}
