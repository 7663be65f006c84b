package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// AttendanceRepository 出勤事件仓库（学校库，只追加）
type AttendanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttendanceRepository 创建出勤仓库
func NewAttendanceRepository(db *sql.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{db: db, logger: logger}
}

// Append 追加一条出勤事件（写入后不可变）
func (r *AttendanceRepository) Append(ctx context.Context, studentID int64, eventType string, ts time.Time) (int64, error) {
	if eventType != models.EventEntry && eventType != models.EventExit {
		return 0, fmt.Errorf("invalid attendance type: %s", eventType)
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO attendance (student_id, type, timestamp) VALUES ($1, $2, $3) RETURNING id`,
		studentID, eventType, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append attendance event: %w", err)
	}

	return id, nil
}

// ListForStudent 按时间段查询某学生的出勤事件
func (r *AttendanceRepository) ListForStudent(ctx context.Context, studentID int64, from, to time.Time) ([]models.AttendanceEvent, error) {
	query := `
		SELECT id, student_id, type, timestamp
		FROM attendance
		WHERE student_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp
	`

	rows, err := r.db.QueryContext(ctx, query, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance events: %w", err)
	}
	defer rows.Close()

	var events []models.AttendanceEvent
	for rows.Next() {
		var e models.AttendanceEvent
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Type, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan attendance event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance events: %w", err)
	}

	return events, nil
}
