package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aviary-app/entitlement-service/app/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestGetEntitlement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectQuery("SELECT .+ FROM `user_entitlements` WHERE user_id = .+").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "plan", "subscription_status"}).
			AddRow(1, 7, models.PlanPremium, models.SubscriptionStatusActive))

	e, err := repo.GetEntitlement(7)
	require.NoError(t, err)
	assert.Equal(t, uint(7), e.UserID)
	assert.Equal(t, models.PlanPremium, e.Plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntitlement_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectQuery("SELECT .+ FROM `user_entitlements` WHERE user_id = .+").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))

	_, err := repo.GetEntitlement(99)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntitlementAndRecord_BothWritesShareOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `user_entitlements` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `subscription_records` .+ ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := &models.UserEntitlement{ID: 1, UserID: 7, Plan: models.PlanPremium, SubscriptionStatus: models.SubscriptionStatusActive}
	rec := &models.SubscriptionRecord{UserID: 7, Plan: models.PlanPremium, Status: models.SubscriptionStatusActive}
	require.NoError(t, repo.SaveEntitlementAndRecord(e, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntitlementAndRecord_RollsBackWhenRecordFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `user_entitlements` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `subscription_records`").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	e := &models.UserEntitlement{ID: 1, UserID: 7, Plan: models.PlanPremium, SubscriptionStatus: models.SubscriptionStatusActive}
	rec := &models.SubscriptionRecord{UserID: 7, Plan: models.PlanPremium, Status: models.SubscriptionStatusActive}
	err := repo.SaveEntitlementAndRecord(e, rec)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEntitlementAndRecord_NilRecordSkipsProjection(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `user_entitlements` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := &models.UserEntitlement{ID: 1, UserID: 7, Plan: models.PlanFree, SubscriptionStatus: models.SubscriptionStatusCanceled}
	require.NoError(t, repo.SaveEntitlementAndRecord(e, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWebhookEventIfNotExists_New(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `billing_webhook_events`").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT .+ FROM `billing_webhook_events` WHERE provider = .+ AND provider_event_id = .+").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "ingest_id"}).
			AddRow(5, models.BillingProviderRelay, "evt-1", "abc-123"))

	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		IngestID:        "abc-123",
		Provider:        models.BillingProviderRelay,
		ProviderEventID: "evt-1",
		EventType:       "RENEWAL",
		PayloadJSON:     "{}",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint(5), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWebhookEventIfNotExists_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `billing_webhook_events`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT .+ FROM `billing_webhook_events` WHERE provider = .+ AND provider_event_id = .+").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "ingest_id"}).
			AddRow(3, models.BillingProviderRelay, "evt-1", "first-ingest"))

	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		IngestID:        "second-ingest",
		Provider:        models.BillingProviderRelay,
		ProviderEventID: "evt-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	// The originally stored row wins; retries see its ingest id.
	assert.Equal(t, "first-ingest", stored.IngestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkWebhookProcessed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEntitlementRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `billing_webhook_events` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkWebhookProcessed(5, "invalid app_user_id: x"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByAPIKeyHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT .+ FROM `users` WHERE api_key_hash = .+ AND api_key_revoked_at IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "status"}).
			AddRow(7, "subscriber", "sub@example.com", models.STATUS_ACTIVE))

	user, err := repo.GetByAPIKeyHash("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateAddsDefaultEntitlement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO `user_entitlements`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user := &models.User{Name: "subscriber", Email: "sub@example.com", Password: "x"}
	require.NoError(t, repo.Create(user))
	assert.Equal(t, uint(7), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
