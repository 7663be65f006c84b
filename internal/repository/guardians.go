package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// GuardiansRepository 监护人目录仓库（系统库，全局共享）
type GuardiansRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGuardiansRepository 创建监护人仓库
func NewGuardiansRepository(db *sql.DB, logger *zap.Logger) *GuardiansRepository {
	return &GuardiansRepository{db: db, logger: logger}
}

// GetGuardian 根据ID获取监护人
func (r *GuardiansRepository) GetGuardian(ctx context.Context, guardianID int64) (*models.Guardian, error) {
	query := `
		SELECT id, name, phone, fcm_token
		FROM guardians
		WHERE id = $1
	`

	var g models.Guardian
	err := r.db.QueryRowContext(ctx, query, guardianID).Scan(
		&g.ID,
		&g.Name,
		&g.Phone,
		&g.FCMToken,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("guardian not found: %d", guardianID)
		}
		return nil, fmt.Errorf("failed to get guardian: %w", err)
	}

	return &g, nil
}

// GetGuardians 批量获取监护人（通知分发按关联一次取出）
func (r *GuardiansRepository) GetGuardians(ctx context.Context, guardianIDs []int64) ([]models.Guardian, error) {
	if len(guardianIDs) == 0 {
		return []models.Guardian{}, nil
	}

	query := `
		SELECT id, name, phone, fcm_token
		FROM guardians
		WHERE id = ANY($1)
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(guardianIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list guardians: %w", err)
	}
	defer rows.Close()

	var guardians []models.Guardian
	for rows.Next() {
		var g models.Guardian
		if err := rows.Scan(&g.ID, &g.Name, &g.Phone, &g.FCMToken); err != nil {
			return nil, fmt.Errorf("failed to scan guardian: %w", err)
		}
		guardians = append(guardians, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guardians: %w", err)
	}

	return guardians, nil
}

// CreateGuardian 创建监护人
func (r *GuardiansRepository) CreateGuardian(ctx context.Context, name, phone string) (int64, error) {
	if name == "" || phone == "" {
		return 0, fmt.Errorf("guardian name and phone are required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO guardians (name, phone) VALUES ($1, $2) RETURNING id`,
		name, phone,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create guardian: %w", err)
	}

	return id, nil
}

// SetFCMToken 更新监护人App推送令牌
func (r *GuardiansRepository) SetFCMToken(ctx context.Context, guardianID int64, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE guardians SET fcm_token = $2 WHERE id = $1`,
		guardianID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to set fcm token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("guardian not found: %d", guardianID)
	}
	return nil
}
