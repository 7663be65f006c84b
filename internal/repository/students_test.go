package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"edufocus-notify/internal/models"
)

func setupMockStudentsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *StudentsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewStudentsRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestGetStudent_Success(t *testing.T) {
	db, mock, repo := setupMockStudentsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "class_name", "created_at"}).
		AddRow(int64(3), "Maria Silva", "3B", time.Now())

	mock.ExpectQuery(`SELECT .* FROM students`).
		WithArgs(int64(3)).
		WillReturnRows(rows)

	student, err := repo.GetStudent(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", student.Name)
	assert.Equal(t, "3B", student.ClassName)
}

func TestGetStudent_NotFound(t *testing.T) {
	db, mock, repo := setupMockStudentsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM students`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	student, err := repo.GetStudent(context.Background(), 99)

	assert.Nil(t, student)
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func TestActiveGuardianLinks_FiltersRevoked(t *testing.T) {
	db, mock, repo := setupMockStudentsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "student_id", "guardian_id", "relationship", "status"}).
		AddRow(int64(1), int64(3), int64(9), "mãe", models.LinkActive)

	// 查询本身只取 active 关联
	mock.ExpectQuery(`SELECT .* FROM student_guardians WHERE student_id = \$1 AND status = 'active'`).
		WithArgs(int64(3)).
		WillReturnRows(rows)

	links, err := repo.ActiveGuardianLinks(context.Background(), 3)

	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(9), links[0].GuardianID)
	assert.Equal(t, models.LinkActive, links[0].Status)
}

func TestActiveGuardianLinks_Empty(t *testing.T) {
	db, mock, repo := setupMockStudentsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "student_id", "guardian_id", "relationship", "status"})
	mock.ExpectQuery(`SELECT .* FROM student_guardians`).
		WithArgs(int64(3)).
		WillReturnRows(rows)

	links, err := repo.ActiveGuardianLinks(context.Background(), 3)

	require.NoError(t, err)
	assert.Empty(t, links)
}
