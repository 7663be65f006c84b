package store

import (
	"context"
	"database/sql"
	"fmt"
)

// 系统库结构（全局目录：学校、监护人、设置、WhatsApp凭据）
// 所有语句均为 "create if absent"，每次进程启动都可安全重放。
const systemSchema = `
	-- 学校（租户目录）
	CREATE TABLE IF NOT EXISTS schools (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- 监护人（全局共享目录）
	CREATE TABLE IF NOT EXISTS guardians (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		fcm_token TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- 系统设置
	CREATE TABLE IF NOT EXISTS system_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- 每个学校的WhatsApp会话凭据（不透明二进制，由外部传输层生成）
	CREATE TABLE IF NOT EXISTS whatsapp_credentials (
		school_id BIGINT PRIMARY KEY,
		credentials BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// 学校库结构（每个租户独立一个数据库）
const schoolSchema = `
	-- 学生
	CREATE TABLE IF NOT EXISTS students (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		class_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- 学生-监护人关联（监护人本体在系统库）
	CREATE TABLE IF NOT EXISTS student_guardians (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		guardian_id BIGINT NOT NULL,
		relationship TEXT NOT NULL DEFAULT 'responsável',
		status TEXT NOT NULL DEFAULT 'active',
		linked_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_student_guardians_student
	ON student_guardians(student_id);

	-- 出勤事件（只追加）
	CREATE TABLE IF NOT EXISTS attendance (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id),
		type TEXT NOT NULL CHECK (type IN ('entry', 'exit')),
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- WhatsApp通知去重标记：同一学生、同一类型、同一天最多一条
	CREATE TABLE IF NOT EXISTS whatsapp_notifications (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id),
		notification_type TEXT NOT NULL CHECK (notification_type IN ('arrival', 'departure')),
		sent_on DATE NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		success BOOLEAN NOT NULL DEFAULT false
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_whatsapp_notifications_day
	ON whatsapp_notifications(student_id, notification_type, sent_on);

	-- 单个监护人的投递结果（审计：区分"无收件人"与"发送失败"）
	CREATE TABLE IF NOT EXISTS notification_deliveries (
		id BIGSERIAL PRIMARY KEY,
		notification_id BIGINT NOT NULL REFERENCES whatsapp_notifications(id) ON DELETE CASCADE,
		guardian_id BIGINT NOT NULL,
		phone TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT,
		attempted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- 接送队列（完成后保留为历史）
	CREATE TABLE IF NOT EXISTS pickups (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id),
		guardian_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'waiting' CHECK (status IN ('waiting', 'calling', 'completed')),
		remote_authorization BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_pickups_status
	ON pickups(status);
`

// InitSystemSchema 初始化系统库结构（幂等，可在每次启动时调用）
func InitSystemSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, systemSchema); err != nil {
		return fmt.Errorf("failed to init system schema: %w", err)
	}
	return nil
}

// InitSchoolSchema 初始化学校库结构（幂等）
func InitSchoolSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schoolSchema); err != nil {
		return fmt.Errorf("failed to init school schema: %w", err)
	}
	return nil
}
