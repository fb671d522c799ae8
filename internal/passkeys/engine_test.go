package passkeys

import (
	"encoding/json"
	"testing"
	"time"

	"homevault/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-memory stand-in for the real cache. TTLs are honored
// so session expiry can be exercised.
type fakeCache struct {
	entries map[string]fakeEntry
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]fakeEntry{}}
}

func (f *fakeCache) RegisterPlatform(string) error  { return nil }
func (f *fakeCache) DeleteInactivePlatform() error  { return nil }
func (f *fakeCache) StartIdentityTicker(string)     {}
func (f *fakeCache) Close() error                   { return nil }

func (f *fakeCache) GetRateLimit(string, int) (int, error) { return 0, nil }

func (f *fakeCache) SetWithTTL(key string, value string, ttl time.Duration) error {
	f.entries[key] = fakeEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (f *fakeCache) Get(key string) (string, bool, error) {
	entry, ok := f.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (f *fakeCache) ConsumeOnce(key string) (string, bool, error) {
	value, found, err := f.Get(key)
	if err != nil || !found {
		return "", false, err
	}
	delete(f.entries, key)
	return value, true, nil
}

func (f *fakeCache) CompareAndDelete(key string, expected string) (bool, error) {
	value, found, err := f.Get(key)
	if err != nil || !found || value != expected {
		return false, err
	}
	delete(f.entries, key)
	return true, nil
}

func (f *fakeCache) Delete(key string) error {
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) TryAcquireLock(string, string, int) (bool, error) { return true, nil }
func (f *fakeCache) RefreshLock(string, string, int) (bool, error)    { return true, nil }

func newTestUser() *models.User {
	return &models.User{
		ID:          uuid.New(),
		Email:       "owner@example.com",
		DisplayName: "Owner",
	}
}

func TestNewEngineDerivesRPIDFromWebURL(t *testing.T) {
	engine, err := NewEngine("https://vault.example.com", newFakeCache())
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestNewEngineRejectsBadURL(t *testing.T) {
	_, err := NewEngine("://not-a-url", newFakeCache())
	assert.Error(t, err)
}

func TestCeremonyUserAdapter(t *testing.T) {
	user := newTestUser()
	methods := []models.MfaMethod{
		{
			Type:         models.MfaMethodTypePasskey,
			CredentialID: []byte("cred-1"),
			PublicKey:    []byte("pk-1"),
			SignCount:    7,
		},
		{
			// non-passkey methods must never leak into the ceremony
			Type:            models.MfaMethodTypeTOTP,
			EncryptedSecret: "irrelevant",
		},
	}

	adapter := &ceremonyUser{user: user, methods: methods}

	assert.Equal(t, user.ID[:], adapter.WebAuthnID())
	assert.Equal(t, "owner@example.com", adapter.WebAuthnName())
	assert.Equal(t, "Owner", adapter.WebAuthnDisplayName())

	credentials := adapter.WebAuthnCredentials()
	require.Len(t, credentials, 1)
	assert.Equal(t, []byte("cred-1"), credentials[0].ID)
	assert.Equal(t, uint32(7), credentials[0].Authenticator.SignCount)
}

func TestCeremonyUserDisplayNameFallsBackToEmail(t *testing.T) {
	user := newTestUser()
	user.DisplayName = ""
	adapter := &ceremonyUser{user: user}
	assert.Equal(t, "owner@example.com", adapter.WebAuthnDisplayName())
}

func TestBeginRegistrationStoresConsumableSession(t *testing.T) {
	cache := newFakeCache()
	engine, err := NewEngine("https://vault.example.com", cache)
	require.NoError(t, err)

	challengeID, options, err := engine.BeginRegistration(newTestUser(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)

	var creation map[string]any
	require.NoError(t, json.Unmarshal(options, &creation))
	assert.Contains(t, creation, "publicKey")

	// session consumable exactly once
	session, err := engine.consumeSession(challengeID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Challenge)

	_, err = engine.consumeSession(challengeID)
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMismatched)
}

func TestBeginRegistrationExcludesExistingPasskeys(t *testing.T) {
	engine, err := NewEngine("https://vault.example.com", newFakeCache())
	require.NoError(t, err)

	existing := []models.MfaMethod{
		{Type: models.MfaMethodTypePasskey, CredentialID: []byte("already-enrolled")},
	}

	_, options, err := engine.BeginRegistration(newTestUser(), existing)
	require.NoError(t, err)

	var creation struct {
		PublicKey struct {
			ExcludeCredentials []struct {
				ID string `json:"id"`
			} `json:"excludeCredentials"`
		} `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(options, &creation))
	assert.Len(t, creation.PublicKey.ExcludeCredentials, 1)
}

func TestBeginLoginRequiresCredentials(t *testing.T) {
	engine, err := NewEngine("https://vault.example.com", newFakeCache())
	require.NoError(t, err)

	// no enabled passkeys means no allowed credentials; the library refuses
	_, _, err = engine.BeginLogin(newTestUser(), nil)
	assert.Error(t, err)
}

func TestBeginDiscoverableLoginStoresSession(t *testing.T) {
	cache := newFakeCache()
	engine, err := NewEngine("https://vault.example.com", cache)
	require.NoError(t, err)

	challengeID, options, err := engine.BeginDiscoverableLogin()
	require.NoError(t, err)
	require.NotEmpty(t, challengeID)
	assert.NotEmpty(t, options)

	session, err := engine.consumeSession(challengeID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Challenge)
}

func TestFinishRegistrationUnknownChallenge(t *testing.T) {
	engine, err := NewEngine("https://vault.example.com", newFakeCache())
	require.NoError(t, err)

	_, err = engine.FinishRegistration(newTestUser(), uuid.New().String(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMismatched)
}

func TestFinishLoginExpiredSession(t *testing.T) {
	cache := newFakeCache()
	engine, err := NewEngine("https://vault.example.com", cache)
	require.NoError(t, err)

	user := newTestUser()
	methods := []models.MfaMethod{
		{Type: models.MfaMethodTypePasskey, CredentialID: []byte("cred"), PublicKey: []byte("pk")},
	}

	challengeID, _, err := engine.BeginLogin(user, methods)
	require.NoError(t, err)

	// force the session past its TTL
	for key, entry := range cache.entries {
		entry.expiresAt = time.Now().Add(-time.Minute)
		cache.entries[key] = entry
	}

	_, err = engine.FinishLogin(user, methods, challengeID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrChallengeExpiredOrMismatched)
}

// A replayed assertion carries a sign counter at or below the stored one.
// The library marks the regression through UpdateCounter; the engine must
// turn that into a rejection so the stored counter is never overwritten.
func TestSignCounterRegressionRejected(t *testing.T) {
	method := models.MfaMethod{
		Type:         models.MfaMethodTypePasskey,
		CredentialID: []byte("cred"),
		PublicKey:    []byte("pk"),
		SignCount:    10,
	}
	userID := uuid.New()

	t.Run("counter at stored value is a replay", func(t *testing.T) {
		credential := method.ToWebauthnCredential()
		credential.Authenticator.UpdateCounter(10)
		assert.ErrorIs(t, checkSignCounter(&credential, userID), ErrReplayDetected)
	})

	t.Run("counter below stored value is a replay", func(t *testing.T) {
		credential := method.ToWebauthnCredential()
		credential.Authenticator.UpdateCounter(4)
		assert.ErrorIs(t, checkSignCounter(&credential, userID), ErrReplayDetected)
	})

	t.Run("advancing counter passes", func(t *testing.T) {
		credential := method.ToWebauthnCredential()
		credential.Authenticator.UpdateCounter(11)
		require.NoError(t, checkSignCounter(&credential, userID))
		assert.Equal(t, uint32(11), credential.Authenticator.SignCount)
	})
}
