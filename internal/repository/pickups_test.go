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

func setupMockPickupsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PickupsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPickupsRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestPickupCreate(t *testing.T) {
	db, mock, repo := setupMockPickupsDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO pickups`).
		WithArgs(int64(3), int64(9), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := repo.Create(context.Background(), 3, 9, false)

	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceStatus_Updated(t *testing.T) {
	db, mock, repo := setupMockPickupsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE pickups SET status`).
		WithArgs(int64(11), models.PickupWaiting, models.PickupCalling).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.AdvanceStatus(context.Background(), 11, models.PickupWaiting, models.PickupCalling)

	require.NoError(t, err)
	assert.True(t, updated)
}

func TestAdvanceStatus_LostRace(t *testing.T) {
	db, mock, repo := setupMockPickupsDB(t)
	defer db.Close()

	// 当前状态已不再是 from：0 行受影响
	mock.ExpectExec(`UPDATE pickups SET status`).
		WithArgs(int64(11), models.PickupWaiting, models.PickupCalling).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.AdvanceStatus(context.Background(), 11, models.PickupWaiting, models.PickupCalling)

	require.NoError(t, err)
	assert.False(t, updated)
}

func TestPickupList_WithFilters(t *testing.T) {
	db, mock, repo := setupMockPickupsDB(t)
	defer db.Close()

	createdAt := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "student_id", "guardian_id", "status", "remote_authorization", "created_at",
	}).AddRow(int64(11), int64(3), int64(9), models.PickupWaiting, false, createdAt)

	status := models.PickupWaiting
	mock.ExpectQuery(`SELECT .* FROM pickups`).
		WithArgs(status).
		WillReturnRows(rows)

	pickups, err := repo.List(context.Background(), PickupFilters{Status: &status})

	require.NoError(t, err)
	require.Len(t, pickups, 1)
	assert.Equal(t, int64(11), pickups[0].ID)
	assert.Equal(t, models.PickupWaiting, pickups[0].Status)
	assert.False(t, pickups[0].RemoteAuthorization)
}
