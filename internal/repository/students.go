package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

// ErrStudentNotFound 学生不存在于该学校库
var ErrStudentNotFound = errors.New("student not found")

// StudentsRepository 学生仓库（学校库）
type StudentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStudentsRepository 创建学生仓库
func NewStudentsRepository(db *sql.DB, logger *zap.Logger) *StudentsRepository {
	return &StudentsRepository{db: db, logger: logger}
}

// GetStudent 根据ID获取学生
func (r *StudentsRepository) GetStudent(ctx context.Context, studentID int64) (*models.Student, error) {
	query := `
		SELECT id, name, class_name, created_at
		FROM students
		WHERE id = $1
	`

	var s models.Student
	err := r.db.QueryRowContext(ctx, query, studentID).Scan(
		&s.ID,
		&s.Name,
		&s.ClassName,
		&s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", ErrStudentNotFound, studentID)
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	return &s, nil
}

// ActiveGuardianLinks 获取学生的有效监护人关联（仅 status = 'active'）
func (r *StudentsRepository) ActiveGuardianLinks(ctx context.Context, studentID int64) ([]models.GuardianLink, error) {
	query := `
		SELECT id, student_id, guardian_id, relationship, status
		FROM student_guardians
		WHERE student_id = $1 AND status = 'active'
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardian links: %w", err)
	}
	defer rows.Close()

	var links []models.GuardianLink
	for rows.Next() {
		var l models.GuardianLink
		if err := rows.Scan(&l.ID, &l.StudentID, &l.GuardianID, &l.Relationship, &l.Status); err != nil {
			return nil, fmt.Errorf("failed to scan guardian link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guardian links: %w", err)
	}

	return links, nil
}

// CreateStudent 创建学生
func (r *StudentsRepository) CreateStudent(ctx context.Context, name, className string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("student name is required")
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO students (name, class_name) VALUES ($1, $2) RETURNING id`,
		name, className,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create student: %w", err)
	}

	return id, nil
}

// LinkGuardian 建立学生-监护人关联
func (r *StudentsRepository) LinkGuardian(ctx context.Context, studentID, guardianID int64, relationship string) (int64, error) {
	if relationship == "" {
		relationship = "responsável"
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO student_guardians (student_id, guardian_id, relationship, status)
		 VALUES ($1, $2, $3, 'active') RETURNING id`,
		studentID, guardianID, relationship,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to link guardian: %w", err)
	}

	return id, nil
}

// RevokeGuardianLink 撤销关联（软状态，不删除历史）
func (r *StudentsRepository) RevokeGuardianLink(ctx context.Context, linkID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE student_guardians SET status = 'revoked' WHERE id = $1`,
		linkID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke guardian link: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("guardian link not found: %d", linkID)
	}
	return nil
}

// Exists 学生是否存在（接送队列创建前校验）
func (r *StudentsRepository) Exists(ctx context.Context, studentID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM students WHERE id = $1)`,
		studentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check student existence: %w", err)
	}
	return exists, nil
}
