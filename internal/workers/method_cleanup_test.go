package workers

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"homevault/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type noopActivityLogger struct{}

func (noopActivityLogger) Send(models.Activity) error { return nil }
func (noopActivityLogger) Search(map[string][]string) ([]map[string]any, error) {
	return nil, nil
}
func (noopActivityLogger) CountByDay(map[string][]string, int) ([]models.TimeSeriesPoint, error) {
	return nil, nil
}
func (noopActivityLogger) Close() error { return nil }

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func methodRows(count int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "enabled", "created_at"})
	cutoff := time.Now().Add(-48 * time.Hour)
	for range count {
		rows.AddRow(uuid.New(), uuid.New(), "totp", false, cutoff)
	}
	return rows
}

func TestCleanupDeletesAbandonedMethods(t *testing.T) {
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	worker := &MethodCleanupWorker{
		DB:             gormDB,
		MaxAge:         24 * time.Hour,
		RunInterval:    time.Hour,
		ActivityLogger: noopActivityLogger{},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(methodRows(2))
	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "mfa_methods"`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	cleaned, err := worker.cleanupAbandonedMethods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cleaned)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A full batch where every delete fails would re-select the same rows over
// and over. The loop must stop after such a pass instead of spinning.
func TestCleanupStopsWhenNothingCanBeDeleted(t *testing.T) {
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	worker := &MethodCleanupWorker{
		DB:             gormDB,
		MaxAge:         24 * time.Hour,
		RunInterval:    time.Hour,
		ActivityLogger: noopActivityLogger{},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(methodRows(MethodBatchSize))
	for range MethodBatchSize {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "mfa_methods"`)).
			WillReturnError(errors.New("row locked"))
		mock.ExpectRollback()
	}
	// no second SELECT: any further statement fails ExpectationsWereMet

	cleaned, err := worker.cleanupAbandonedMethods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
	require.NoError(t, mock.ExpectationsWereMet())
}
