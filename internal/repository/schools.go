package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// SchoolsRepository 学校目录仓库（系统库）
type SchoolsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSchoolsRepository 创建学校仓库
func NewSchoolsRepository(db *sql.DB, logger *zap.Logger) *SchoolsRepository {
	return &SchoolsRepository{db: db, logger: logger}
}

// GetSchool 根据ID获取学校
func (r *SchoolsRepository) GetSchool(ctx context.Context, schoolID int64) (*models.School, error) {
	query := `
		SELECT id, name, status, created_at
		FROM schools
		WHERE id = $1
	`

	var school models.School
	err := r.db.QueryRowContext(ctx, query, schoolID).Scan(
		&school.ID,
		&school.Name,
		&school.Status,
		&school.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("school not found: %d", schoolID)
		}
		return nil, fmt.Errorf("failed to get school: %w", err)
	}

	return &school, nil
}

// CreateSchool 创建学校（外部管理端动作；本核心从不物理删除学校）
func (r *SchoolsRepository) CreateSchool(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("school name is required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO schools (name, status) VALUES ($1, 'active') RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create school: %w", err)
	}

	return id, nil
}

// SetStatus 更新学校软状态（active / suspended）
func (r *SchoolsRepository) SetStatus(ctx context.Context, schoolID int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE schools SET status = $2 WHERE id = $1`,
		schoolID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update school status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("school not found: %d", schoolID)
	}
	return nil
}

// GetSetting 读取系统设置
func (r *SchoolsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM system_settings WHERE key = $1`,
		key,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}
