package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// CredentialsRepository WhatsApp会话凭据仓库（系统库）。
// 凭据是外部传输层生成的不透明二进制，这里只负责持久化和销毁。
type CredentialsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCredentialsRepository 创建凭据仓库
func NewCredentialsRepository(db *sql.DB, logger *zap.Logger) *CredentialsRepository {
	return &CredentialsRepository{db: db, logger: logger}
}

// Load 读取某学校的凭据；不存在返回 nil（首次配对前的正常情况）
func (r *CredentialsRepository) Load(ctx context.Context, schoolID int64) ([]byte, error) {
	var creds []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT credentials FROM whatsapp_credentials WHERE school_id = $1`,
		schoolID,
	).Scan(&creds)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load whatsapp credentials: %w", err)
	}
	return creds, nil
}

// Save 保存/覆盖某学校的凭据
func (r *CredentialsRepository) Save(ctx context.Context, schoolID int64, creds []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO whatsapp_credentials (school_id, credentials, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (school_id) DO UPDATE SET credentials = $2, updated_at = now()`,
		schoolID, creds,
	)
	if err != nil {
		return fmt.Errorf("failed to save whatsapp credentials: %w", err)
	}
	return nil
}

// Delete 销毁某学校的凭据（显式注销时调用）
func (r *CredentialsRepository) Delete(ctx context.Context, schoolID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM whatsapp_credentials WHERE school_id = $1`,
		schoolID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete whatsapp credentials: %w", err)
	}
	return nil
}
