package services

import (
	"regexp"
	"testing"
	"time"

	"homevault/internal/activity"
	"homevault/internal/cache"
	"homevault/internal/configuration"
	apierrors "homevault/internal/errors"
	"homevault/internal/helpers"
	"homevault/internal/messaging"
	"homevault/internal/models"
	"homevault/internal/passkeys"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// --- Inline Mocks ---

type MockCache struct {
	store map[string]string
}

func NewMockCache() *MockCache {
	return &MockCache{store: make(map[string]string)}
}

func (m *MockCache) RegisterPlatform(_ string) error           { return nil }
func (m *MockCache) DeleteInactivePlatform() error             { return nil }
func (m *MockCache) StartIdentityTicker(_ string)              {}
func (m *MockCache) GetRateLimit(_ string, _ int) (int, error) { return 0, nil }

func (m *MockCache) SetWithTTL(key string, value string, _ time.Duration) error {
	m.store[key] = value
	return nil
}

func (m *MockCache) Get(key string) (string, bool, error) {
	value, found := m.store[key]
	return value, found, nil
}

func (m *MockCache) ConsumeOnce(key string) (string, bool, error) {
	value, found := m.store[key]
	if found {
		delete(m.store, key)
	}
	return value, found, nil
}

func (m *MockCache) CompareAndDelete(key string, expected string) (bool, error) {
	value, found := m.store[key]
	if !found || value != expected {
		return false, nil
	}
	delete(m.store, key)
	return true, nil
}

func (m *MockCache) Delete(key string) error {
	delete(m.store, key)
	return nil
}

func (m *MockCache) TryAcquireLock(_ string, _ string, _ int) (bool, error) { return true, nil }
func (m *MockCache) RefreshLock(_ string, _ string, _ int) (bool, error)    { return true, nil }
func (m *MockCache) Close() error                                           { return nil }

var _ cache.ICache = (*MockCache)(nil)

type MockActivityLogger struct{}

func (m *MockActivityLogger) Send(_ models.Activity) error { return nil }
func (m *MockActivityLogger) Search(_ map[string][]string) ([]map[string]any, error) {
	return nil, nil
}
func (m *MockActivityLogger) CountByDay(_ map[string][]string, _ int) ([]models.TimeSeriesPoint, error) {
	return nil, nil
}
func (m *MockActivityLogger) Close() error { return nil }

var _ activity.IActivityLogger = (*MockActivityLogger)(nil)

type MockPublisher struct{}

func (m *MockPublisher) Publish(_ ...*message.Message) error { return nil }
func (m *MockPublisher) Close() error                        { return nil }

var _ messaging.IPublisher = (*MockPublisher)(nil)

type MockNotifier struct{}

func (m *MockNotifier) NotifyFromTemplate(_ string, _ string, _ string, _ any) error {
	return nil
}

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func testAuthConfig() models.AuthConfig {
	return models.AuthConfig{
		JWTSecret:          "test-secret-key-for-jwt-signing",
		MFAEnabled:         true,
		MFAKeyMaterial:     "0123456789abcdef0123456789abcdef",
		MFAHashSalt:        "test-hash-salt-0123456789abcdef",
		AccessTokenExpiry:  15,
		RefreshTokenExpiry: 60,
		MFATokenExpiry:     5,
		WebURL:             "http://localhost:3000",
	}
}

func expectUserByEmail(mock sqlmock.Sqlmock, userID uuid.UUID, email string, hash string) {
	userRow := sqlmock.NewRows([]string{"id", "email", "hashed_password", "role"}).
		AddRow(userID, email, hash, "user")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"`)).
		WillReturnRows(userRow)
}

// --- Tests ---

func TestLogin_EnabledMethod_ReturnsElevationToken(t *testing.T) {
	config := testAuthConfig()
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	userID := uuid.New()
	methodID := uuid.New()
	hash, err := helpers.CreateHash("correct horse battery staple")
	require.NoError(t, err)

	expectUserByEmail(mock, userID, "user@example.com", hash)
	methodRow := sqlmock.NewRows([]string{"id", "user_id", "type", "display_name", "enabled"}).
		AddRow(methodID, userID, "totp", "Phone", true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(methodRow)

	response, err := service.Login(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthLoginBody{Email: "user@example.com", Password: "correct horse battery staple"},
	)
	require.NoError(t, err)

	assert.True(t, response.MFARequired)
	assert.Empty(t, response.RefreshToken, "no full session before second factor")
	require.Len(t, response.Methods, 1)
	assert.Equal(t, methodID, response.Methods[0].ID)

	claims, err := helpers.ParseElevationToken(config.JWTSecret, response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, configuration.AudienceMFALogin, claims.Aud)
	assert.False(t, claims.MFA)
}

func TestLogin_NoMethods_ReturnsFullSession(t *testing.T) {
	config := testAuthConfig()
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	userID := uuid.New()
	hash, err := helpers.CreateHash("correct horse battery staple")
	require.NoError(t, err)

	expectUserByEmail(mock, userID, "user@example.com", hash)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	response, err := service.Login(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthLoginBody{Email: "user@example.com", Password: "correct horse battery staple"},
	)
	require.NoError(t, err)

	assert.False(t, response.MFARequired)
	assert.NotEmpty(t, response.RefreshToken)

	claims, err := helpers.ParseAccessToken(config.JWTSecret, "Bearer "+response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, configuration.AudienceAccessToken, claims.Aud)
}

// With the MFA surface switched off, enrollments stay in the database but
// are not enforced at login.
func TestLogin_ServiceDisabled_SkipsSecondFactor(t *testing.T) {
	config := testAuthConfig()
	config.MFAEnabled = false
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	userID := uuid.New()
	hash, err := helpers.CreateHash("correct horse battery staple")
	require.NoError(t, err)

	expectUserByEmail(mock, userID, "user@example.com", hash)
	methodRow := sqlmock.NewRows([]string{"id", "user_id", "type", "display_name", "enabled"}).
		AddRow(uuid.New(), userID, "totp", "Phone", true)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(methodRow)

	response, err := service.Login(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthLoginBody{Email: "user@example.com", Password: "correct horse battery staple"},
	)
	require.NoError(t, err)

	assert.False(t, response.MFARequired)
	assert.NotEmpty(t, response.RefreshToken)
}

func TestLogin_WrongPassword_GenericError(t *testing.T) {
	config := testAuthConfig()
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	hash, err := helpers.CreateHash("the real password")
	require.NoError(t, err)

	expectUserByEmail(mock, uuid.New(), "user@example.com", hash)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = service.Login(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthLoginBody{Email: "user@example.com", Password: "a guess"},
	)
	require.Error(t, err)

	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestLogin_UnknownEmail_SameGenericError(t *testing.T) {
	config := testAuthConfig()
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := service.Login(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthLoginBody{Email: "nobody@example.com", Password: "whatever"},
	)
	require.Error(t, err)

	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestVerify_ValidAndInvalidTokens(t *testing.T) {
	config := testAuthConfig()
	service := AuthService{AuthConfig: config}

	user := &models.User{ID: uuid.New(), Email: "user@example.com"}
	token, err := helpers.NewAccessToken(config.JWTSecret, user, config.AccessTokenExpiry)
	require.NoError(t, err)

	claims, err := service.Verify(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthVerifyBody{AccessToken: token},
	)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = service.Verify(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthVerifyBody{AccessToken: "not-a-token"},
	)
	require.Error(t, err)

	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.Status)
}

func TestRefresh_MintsNewAccessToken(t *testing.T) {
	config := testAuthConfig()
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     config,
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	userID := uuid.New()
	user := &models.User{ID: userID, Email: "user@example.com"}
	refreshToken, err := helpers.NewRefreshToken(config.JWTSecret, user, config.RefreshTokenExpiry)
	require.NoError(t, err)

	expectUserByEmail(mock, userID, "user@example.com", "hash")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mfa_methods"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	response, err := service.Refresh(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthRefreshBody{RefreshToken: refreshToken},
	)
	require.NoError(t, err)

	claims, err := helpers.ParseAccessToken(config.JWTSecret, "Bearer "+response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, configuration.AudienceAccessToken, claims.Aud)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	config := testAuthConfig()
	service := AuthService{AuthConfig: config}

	user := &models.User{ID: uuid.New(), Email: "user@example.com"}
	accessToken, err := helpers.NewAccessToken(config.JWTSecret, user, config.AccessTokenExpiry)
	require.NoError(t, err)

	_, err = service.Refresh(
		zap.NewNop(),
		models.UserClaims{},
		uuid.UUIDs{},
		models.AuthRefreshBody{RefreshToken: accessToken},
	)
	require.Error(t, err)

	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.Status)
}

func TestPasskeyLoginBegin_ServiceDisabled(t *testing.T) {
	config := testAuthConfig()
	config.MFAEnabled = false
	service := AuthService{AuthConfig: config}

	_, err := service.PasskeyLoginBegin(zap.NewNop(), models.UserClaims{}, uuid.UUIDs{})
	require.Error(t, err)

	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, apierrors.ErrServiceDisabled, apiErr.Code)
}

// A regressed sign counter must come back as the generic second-factor
// rejection and must not touch the stored credential row. No sqlmock
// expectations are registered, so any statement would fail the test.
func TestPasskeyAssertionReplayRejectedWithoutPersisting(t *testing.T) {
	gormDB, mock, closeDB := newMockGorm(t)
	defer closeDB()

	service := AuthService{
		DB:             gormDB,
		Cache:          NewMockCache(),
		AuthConfig:     testAuthConfig(),
		Publisher:      &MockPublisher{},
		ActivityLogger: &MockActivityLogger{},
	}

	err := service.mapAssertionError(zap.NewNop(), passkeys.ErrReplayDetected)
	apiErr, ok := apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, apierrors.ErrInvalidSecondFactor, apiErr.Code)

	err = service.mapAssertionError(zap.NewNop(), passkeys.ErrChallengeExpiredOrMismatched)
	apiErr, ok = apierrors.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.ErrChallengeExpired, apiErr.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}
