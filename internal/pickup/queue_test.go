package pickup

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
	"edufocus-notify/internal/repository"
)

type fakeRouter struct {
	global *sql.DB
	school *sql.DB
}

func (r *fakeRouter) Global(_ context.Context) (*sql.DB, error) {
	return r.global, nil
}

func (r *fakeRouter) ForSchool(_ context.Context, _ int64) (*sql.DB, error) {
	return r.school, nil
}

type fakeSender struct {
	recipients []string
	payloads   []string
}

func (s *fakeSender) Send(_ context.Context, _ int64, recipient string, payload []byte) error {
	s.recipients = append(s.recipients, recipient)
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func setupService(t *testing.T, sender Sender) (*Service, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	globalDB, globalMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { globalDB.Close() })

	schoolDB, schoolMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { schoolDB.Close() })

	svc := NewService(&fakeRouter{global: globalDB, school: schoolDB}, sender, "55", zap.NewNop())
	return svc, globalMock, schoolMock
}

func expectPickupRow(mock sqlmock.Sqlmock, id, studentID, guardianID int64, status string, remoteAuth bool) {
	mock.ExpectQuery(`SELECT id, student_id, guardian_id, status, remote_authorization, created_at`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "guardian_id", "status", "remote_authorization", "created_at"}).
			AddRow(id, studentID, guardianID, status, remoteAuth, time.Now()))
}

func TestCreate(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	schoolMock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	schoolMock.ExpectQuery(`INSERT INTO pickups`).
		WithArgs(int64(42), int64(11), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	expectPickupRow(schoolMock, 5, 42, 11, models.PickupWaiting, false)

	req, err := svc.Create(context.Background(), 3, 42, 11, false)

	require.NoError(t, err)
	assert.Equal(t, models.PickupWaiting, req.Status)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}

func TestCreate_UnknownStudent(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	schoolMock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := svc.Create(context.Background(), 3, 99, 11, false)

	assert.ErrorIs(t, err, ErrUnknownStudent)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}

func TestAdvance_WaitingToCallingAlertsGuardian(t *testing.T) {
	sender := &fakeSender{}
	svc, globalMock, schoolMock := setupService(t, sender)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupWaiting, false)
	schoolMock.ExpectExec(`UPDATE pickups SET status`).
		WithArgs(int64(5), models.PickupWaiting, models.PickupCalling).
		WillReturnResult(sqlmock.NewResult(0, 1))
	schoolMock.ExpectQuery(`SELECT id, name, class_name, created_at`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "class_name", "created_at"}).
			AddRow(int64(42), "João Pedro", "3º Ano B", time.Now()))
	globalMock.ExpectQuery(`SELECT id, name, phone, fcm_token`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "fcm_token"}).
			AddRow(int64(11), "Maria", "11988887777", nil))
	expectPickupRow(schoolMock, 5, 42, 11, models.PickupCalling, false)

	req, err := svc.Advance(context.Background(), 3, 5, models.PickupCalling)

	require.NoError(t, err)
	assert.Equal(t, models.PickupCalling, req.Status)

	require.Len(t, sender.recipients, 1)
	assert.Equal(t, "5511988887777@s.whatsapp.net", sender.recipients[0])
	assert.Contains(t, sender.payloads[0], "João Pedro")
	assert.Contains(t, sender.payloads[0], "está sendo chamado")

	require.NoError(t, schoolMock.ExpectationsWereMet())
	require.NoError(t, globalMock.ExpectationsWereMet())
}

func TestAdvance_SameStatusIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	svc, _, schoolMock := setupService(t, sender)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupCalling, false)

	req, err := svc.Advance(context.Background(), 3, 5, models.PickupCalling)

	require.NoError(t, err)
	assert.Equal(t, models.PickupCalling, req.Status)
	assert.Empty(t, sender.recipients)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}

func TestAdvance_SkippingAStepIsRejected(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupWaiting, false)

	_, err := svc.Advance(context.Background(), 3, 5, models.PickupCompleted)

	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.PickupWaiting, transitionErr.Current)
	assert.Equal(t, models.PickupCompleted, transitionErr.Requested)
}

func TestAdvance_BackwardsIsRejected(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupCompleted, false)

	_, err := svc.Advance(context.Background(), 3, 5, models.PickupCalling)

	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestAdvance_LostRaceToSameTargetIsIdempotent(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupWaiting, false)
	schoolMock.ExpectExec(`UPDATE pickups SET status`).
		WithArgs(int64(5), models.PickupWaiting, models.PickupCalling).
		WillReturnResult(sqlmock.NewResult(0, 0)) // 另一个调用者先推进了
	expectPickupRow(schoolMock, 5, 42, 11, models.PickupCalling, false)

	req, err := svc.Advance(context.Background(), 3, 5, models.PickupCalling)

	require.NoError(t, err)
	assert.Equal(t, models.PickupCalling, req.Status)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}

func TestAdvance_UnknownStatus(t *testing.T) {
	svc, _, _ := setupService(t, nil)

	_, err := svc.Advance(context.Background(), 3, 5, "teleported")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pickup status")
}

func TestSetRemoteAuthorization(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupWaiting, false)
	schoolMock.ExpectExec(`UPDATE pickups SET remote_authorization`).
		WithArgs(int64(5), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.SetRemoteAuthorization(context.Background(), 3, 5, true)

	require.NoError(t, err)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}

func TestSetRemoteAuthorization_CompletedIsImmutable(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	expectPickupRow(schoolMock, 5, 42, 11, models.PickupCompleted, true)

	err := svc.SetRemoteAuthorization(context.Background(), 3, 5, false)

	assert.ErrorIs(t, err, ErrPickupCompleted)
}

func TestList_FilterByStatus(t *testing.T) {
	svc, _, schoolMock := setupService(t, nil)

	waiting := models.PickupWaiting
	schoolMock.ExpectQuery(`SELECT id, student_id, guardian_id, status, remote_authorization, created_at`).
		WithArgs(waiting).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "guardian_id", "status", "remote_authorization", "created_at"}).
			AddRow(int64(5), int64(42), int64(11), waiting, false, time.Now()).
			AddRow(int64(6), int64(43), int64(12), waiting, true, time.Now()))

	pickups, err := svc.List(context.Background(), 3, repository.PickupFilters{Status: &waiting})

	require.NoError(t, err)
	require.Len(t, pickups, 2)
	assert.Equal(t, int64(5), pickups[0].ID)
	require.NoError(t, schoolMock.ExpectationsWereMet())
}
