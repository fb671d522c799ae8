package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"homevault/internal/helpers"
	"homevault/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const mfaTestJWTSecret = "test-secret-key-for-mfa-testing"

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return db, mock
}

func expectEnabledMethodCount(mock sqlmock.Sqlmock, count int64) {
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT count(*) FROM "mfa_methods" WHERE user_id = $1 AND enabled = $2`,
	)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func runMFAValidate(t *testing.T, db *gorm.DB, claims *models.UserClaims, method, path string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	recorder := httptest.NewRecorder()

	ctx := req.Context()
	if claims != nil {
		ctx = context.WithValue(ctx, models.UserClaimKey{}, *claims)
	}
	req = req.WithContext(ctx)

	var nextCalled bool
	handler := MFAValidate(db)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(recorder, req)

	return recorder, nextCalled
}

func mfaTestClaims(t *testing.T, mint func() (string, error)) models.UserClaims {
	t.Helper()
	token, err := mint()
	require.NoError(t, err)
	claims, err := helpers.ParseToken(mfaTestJWTSecret, token, false)
	require.NoError(t, err)
	return claims
}

func TestMFAValidate(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "test@example.com", Role: models.RoleUser}

	t.Run("passes tokens carrying the mfa claim", func(t *testing.T) {
		userWithMFA := &models.User{
			ID:    user.ID,
			Email: user.Email,
			MfaMethods: []models.MfaMethod{
				{Type: models.MfaMethodTypeTOTP, Enabled: true},
			},
		}
		claims := mfaTestClaims(t, func() (string, error) {
			return helpers.NewAccessToken(mfaTestJWTSecret, userWithMFA, 15)
		})
		require.True(t, claims.MFA)

		_, nextCalled := runMFAValidate(t, nil, &claims, http.MethodGet, "/api/v1/users/me")
		assert.True(t, nextCalled)
	})

	t.Run("passes non-MFA user when database agrees", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectEnabledMethodCount(mock, 0)

		claims := mfaTestClaims(t, func() (string, error) {
			return helpers.NewAccessToken(mfaTestJWTSecret, user, 15)
		})
		require.False(t, claims.MFA)

		_, nextCalled := runMFAValidate(t, db, &claims, http.MethodGet, "/api/v1/users/me")
		assert.True(t, nextCalled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects stale token once a method is enabled", func(t *testing.T) {
		db, mock := newMockDB(t)
		expectEnabledMethodCount(mock, 1)

		claims := mfaTestClaims(t, func() (string, error) {
			return helpers.NewAccessToken(mfaTestJWTSecret, user, 15)
		})

		recorder, nextCalled := runMFAValidate(t, db, &claims, http.MethodGet, "/api/v1/users/me")
		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale token keeps access to MFA management routes", func(t *testing.T) {
		claims := mfaTestClaims(t, func() (string, error) {
			return helpers.NewAccessToken(mfaTestJWTSecret, user, 15)
		})

		_, nextCalled := runMFAValidate(t, nil, &claims, http.MethodGet, "/api/v1/mfa/methods")
		assert.True(t, nextCalled)
	})

	t.Run("ignores non-access audiences", func(t *testing.T) {
		claims := mfaTestClaims(t, func() (string, error) {
			return helpers.NewElevationToken(mfaTestJWTSecret, user, 5)
		})

		_, nextCalled := runMFAValidate(t, nil, &claims, http.MethodPost, "/api/v1/mfa/verify")
		assert.True(t, nextCalled)
	})

	t.Run("skips excluded requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req = req.WithContext(context.WithValue(req.Context(), AuthExcludedKey{}, true))
		recorder := httptest.NewRecorder()

		var nextCalled bool
		handler := MFAValidate(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			nextCalled = true
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(recorder, req)

		assert.True(t, nextCalled)
	})
}
