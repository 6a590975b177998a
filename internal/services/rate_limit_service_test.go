package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/config"
	"github.com/travelcore/booking-core/internal/database"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Cooldown:              time.Minute,
		MaxIdentifierRequests: 3,
		IdentifierWindow:      time.Hour,
		MaxIPRequests:         10,
		IPWindow:              time.Hour,
	}
}

func setupRateLimitTest(t *testing.T) (*RateLimitService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	postgresDB := &database.PostgresDB{DB: sqlx.NewDb(db, "postgres")}
	return NewRateLimitService(postgresDB, testRateLimitConfig(), clock.NewFixed(testNow)), mock
}

func windowRows(count int, oldest, newest time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count", "oldest", "newest"}).AddRow(count, oldest, newest)
}

func TestRateLimitCheck_NoRequests(t *testing.T) {
	service, mock := setupRateLimitTest(t)

	mock.ExpectQuery("FROM verification_requests").
		WithArgs("+94771234567", "identifier", testNow.Add(-time.Hour)).
		WillReturnRows(windowRows(0, testNow, testNow))
	mock.ExpectQuery("FROM verification_requests").
		WithArgs("203.0.113.7", "ip", testNow.Add(-time.Hour)).
		WillReturnRows(windowRows(0, testNow, testNow))

	err := service.Check(context.Background(), "+94771234567", "203.0.113.7")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitClaimCooldown(t *testing.T) {
	t.Run("first request claims the cooldown", func(t *testing.T) {
		service, mock := setupRateLimitTest(t)

		mock.ExpectQuery("INSERT INTO verification_cooldowns").
			WithArgs("guest@example.com", testNow, testNow.Add(-time.Minute)).
			WillReturnRows(sqlmock.NewRows([]string{"last_requested_at"}).AddRow(testNow))

		assert.NoError(t, service.ClaimCooldown(context.Background(), "guest@example.com"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim inside the cooldown is throttled", func(t *testing.T) {
		service, mock := setupRateLimitTest(t)

		// The conditional upsert leaves the row alone and returns nothing
		mock.ExpectQuery("INSERT INTO verification_cooldowns").
			WithArgs("guest@example.com", testNow, testNow.Add(-time.Minute)).
			WillReturnRows(sqlmock.NewRows([]string{"last_requested_at"}))
		mock.ExpectQuery("SELECT last_requested_at FROM verification_cooldowns").
			WithArgs("guest@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"last_requested_at"}).AddRow(testNow.Add(-20 * time.Second)))

		err := service.ClaimCooldown(context.Background(), "guest@example.com")

		var throttled *ThrottledError
		require.ErrorAs(t, err, &throttled)
		assert.Equal(t, "identifier", throttled.Scope)
		assert.Equal(t, 40*time.Second, throttled.RetryAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("claim lost to a request in the same instant", func(t *testing.T) {
		service, mock := setupRateLimitTest(t)

		mock.ExpectQuery("INSERT INTO verification_cooldowns").
			WillReturnRows(sqlmock.NewRows([]string{"last_requested_at"}))
		mock.ExpectQuery("SELECT last_requested_at FROM verification_cooldowns").
			WillReturnRows(sqlmock.NewRows([]string{"last_requested_at"}).AddRow(testNow))

		err := service.ClaimCooldown(context.Background(), "guest@example.com")

		var throttled *ThrottledError
		require.ErrorAs(t, err, &throttled)
		assert.Equal(t, time.Minute, throttled.RetryAfter)
	})
}

func TestRateLimitCheck_IdentifierWindowExceeded(t *testing.T) {
	service, mock := setupRateLimitTest(t)

	oldest := testNow.Add(-50 * time.Minute)
	mock.ExpectQuery("FROM verification_requests").
		WithArgs("guest@example.com", "identifier", sqlmock.AnyArg()).
		WillReturnRows(windowRows(3, oldest, testNow.Add(-5*time.Minute)))

	err := service.Check(context.Background(), "guest@example.com", "")

	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, "identifier", throttled.Scope)
	assert.Equal(t, 10*time.Minute, throttled.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitCheck_IPExceeded(t *testing.T) {
	service, mock := setupRateLimitTest(t)

	mock.ExpectQuery("FROM verification_requests").
		WithArgs("guest@example.com", "identifier", sqlmock.AnyArg()).
		WillReturnRows(windowRows(0, testNow, testNow))
	mock.ExpectQuery("FROM verification_requests").
		WithArgs("203.0.113.7", "ip", sqlmock.AnyArg()).
		WillReturnRows(windowRows(10, testNow.Add(-30*time.Minute), testNow.Add(-time.Minute)))

	err := service.Check(context.Background(), "guest@example.com", "203.0.113.7")

	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, "ip", throttled.Scope)
	assert.Equal(t, 30*time.Minute, throttled.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitRecord(t *testing.T) {
	service, mock := setupRateLimitTest(t)

	mock.ExpectExec("INSERT INTO verification_requests").
		WithArgs("guest@example.com", "identifier", testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO verification_requests").
		WithArgs("203.0.113.7", "ip", testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := service.Record(context.Background(), "guest@example.com", "203.0.113.7")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitCleanupExpiredRecords(t *testing.T) {
	service, mock := setupRateLimitTest(t)

	mock.ExpectExec("DELETE FROM verification_requests").
		WithArgs(testNow.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("DELETE FROM verification_cooldowns").
		WithArgs(testNow.Add(-time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := service.CleanupExpiredRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(14), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
