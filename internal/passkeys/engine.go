package passkeys

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	c "homevault/internal/cache"
	"homevault/internal/configuration"
	"homevault/internal/models"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrChallengeExpiredOrMismatched means the ceremony session is unknown,
	// already consumed, or past its TTL.
	ErrChallengeExpiredOrMismatched = errors.New("passkey challenge expired or mismatched")
	// ErrReplayDetected means the authenticator sign counter regressed,
	// which indicates a cloned credential.
	ErrReplayDetected = errors.New("passkey sign counter regressed")
)

// Engine drives WebAuthn registration and assertion ceremonies. Ceremony
// state lives in the cache under a server-generated challenge id and is
// consumed exactly once, so a response can never be replayed against the
// same challenge.
type Engine struct {
	webAuthn *webauthn.WebAuthn
	cache    c.ICache
}

// NewEngine derives the relying party identity from the public web URL.
// The RP ID is the bare hostname; browsers refuse credentials otherwise.
func NewEngine(webURL string, cache c.ICache) (*Engine, error) {
	parsed, err := url.Parse(webURL)
	if err != nil {
		return nil, fmt.Errorf("invalid web URL %q: %w", webURL, err)
	}

	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: configuration.AppName,
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{strings.TrimSuffix(webURL, "/")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &Engine{webAuthn: webAuthn, cache: cache}, nil
}

// ceremonyUser adapts a user and their passkey methods to the shape the
// webauthn library expects.
type ceremonyUser struct {
	user    *models.User
	methods []models.MfaMethod
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.user.ID[:]
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	credentials := make([]webauthn.Credential, 0, len(u.methods))
	for i := range u.methods {
		if u.methods[i].Type != models.MfaMethodTypePasskey {
			continue
		}
		credentials = append(credentials, u.methods[i].ToWebauthnCredential())
	}
	return credentials
}

func (e *Engine) storeSession(session *webauthn.SessionData) (string, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ceremony session: %w", err)
	}

	challengeID := uuid.New().String()
	key := fmt.Sprintf(configuration.CachePasskeySessionKey, challengeID)
	ttl := time.Duration(configuration.PasskeySessionTTLMinutes) * time.Minute

	if err = e.cache.SetWithTTL(key, string(payload), ttl); err != nil {
		return "", fmt.Errorf("failed to store ceremony session: %w", err)
	}

	return challengeID, nil
}

func (e *Engine) consumeSession(challengeID string) (*webauthn.SessionData, error) {
	key := fmt.Sprintf(configuration.CachePasskeySessionKey, challengeID)

	payload, found, err := e.cache.ConsumeOnce(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read ceremony session: %w", err)
	}
	if !found {
		return nil, ErrChallengeExpiredOrMismatched
	}

	var session webauthn.SessionData
	if err = json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ceremony session: %w", err)
	}

	return &session, nil
}

// BeginRegistration starts an attestation ceremony. Every passkey the user
// already has, enabled or not, is excluded so the same authenticator cannot
// be enrolled twice.
func (e *Engine) BeginRegistration(
	user *models.User,
	existingPasskeys []models.MfaMethod,
) (string, json.RawMessage, error) {
	exclusions := make([]protocol.CredentialDescriptor, 0, len(existingPasskeys))
	for i := range existingPasskeys {
		if existingPasskeys[i].Type != models.MfaMethodTypePasskey {
			continue
		}
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: existingPasskeys[i].CredentialID,
		})
	}

	options, session, err := e.webAuthn.BeginRegistration(
		&ceremonyUser{user: user, methods: existingPasskeys},
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	challengeID, err := e.storeSession(session)
	if err != nil {
		return "", nil, err
	}

	rawOptions, err := json.Marshal(options)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal creation options: %w", err)
	}

	return challengeID, rawOptions, nil
}

// FinishRegistration validates the authenticator's attestation response
// against the stored session and returns the verified credential.
func (e *Engine) FinishRegistration(
	user *models.User,
	challengeID string,
	response json.RawMessage,
) (*webauthn.Credential, error) {
	session, err := e.consumeSession(challengeID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation response: %w", err)
	}

	credential, err := e.webAuthn.CreateCredential(&ceremonyUser{user: user}, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to verify attestation: %w", err)
	}

	return credential, nil
}

// BeginLogin starts an assertion ceremony restricted to the user's enabled
// passkeys.
func (e *Engine) BeginLogin(
	user *models.User,
	enabledPasskeys []models.MfaMethod,
) (string, json.RawMessage, error) {
	options, session, err := e.webAuthn.BeginLogin(
		&ceremonyUser{user: user, methods: enabledPasskeys},
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin login: %w", err)
	}

	challengeID, err := e.storeSession(session)
	if err != nil {
		return "", nil, err
	}

	rawOptions, err := json.Marshal(options)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal assertion options: %w", err)
	}

	return challengeID, rawOptions, nil
}

// FinishLogin validates an assertion for a known user. A regressed sign
// counter is reported as ErrReplayDetected and the credential is not
// returned.
func (e *Engine) FinishLogin(
	user *models.User,
	enabledPasskeys []models.MfaMethod,
	challengeID string,
	response json.RawMessage,
) (*webauthn.Credential, error) {
	session, err := e.consumeSession(challengeID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("failed to parse assertion response: %w", err)
	}

	credential, err := e.webAuthn.ValidateLogin(
		&ceremonyUser{user: user, methods: enabledPasskeys},
		*session,
		parsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate assertion: %w", err)
	}

	if err = checkSignCounter(credential, user.ID); err != nil {
		return nil, err
	}

	return credential, nil
}

// checkSignCounter rejects an assertion whose authenticator counter did not
// advance past the stored one. The library flags the regression after
// validation; callers must not persist the credential when this fails.
func checkSignCounter(credential *webauthn.Credential, userID uuid.UUID) error {
	if credential.Authenticator.CloneWarning {
		zap.L().Warn("Passkey sign counter regression",
			zap.String("user_id", userID.String()),
		)
		return ErrReplayDetected
	}
	return nil
}

// BeginDiscoverableLogin starts a passwordless ceremony with no user known
// upfront; the authenticator picks a resident credential.
func (e *Engine) BeginDiscoverableLogin() (string, json.RawMessage, error) {
	options, session, err := e.webAuthn.BeginDiscoverableLogin()
	if err != nil {
		return "", nil, fmt.Errorf("failed to begin discoverable login: %w", err)
	}

	challengeID, err := e.storeSession(session)
	if err != nil {
		return "", nil, err
	}

	rawOptions, err := json.Marshal(options)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal assertion options: %w", err)
	}

	return challengeID, rawOptions, nil
}

// FinishDiscoverableLogin resolves the asserted credential to its owner via
// lookup, then validates the assertion. The credential id is globally unique
// so the lookup alone identifies the account.
func (e *Engine) FinishDiscoverableLogin(
	lookup func(rawID, userHandle []byte) (*models.User, []models.MfaMethod, error),
	challengeID string,
	response json.RawMessage,
) (*models.User, *webauthn.Credential, error) {
	session, err := e.consumeSession(challengeID)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse assertion response: %w", err)
	}

	var owner *models.User
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		user, methods, lookupErr := lookup(rawID, userHandle)
		if lookupErr != nil {
			return nil, lookupErr
		}
		owner = user
		return &ceremonyUser{user: user, methods: methods}, nil
	}

	credential, err := e.webAuthn.ValidateDiscoverableLogin(handler, *session, parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to validate assertion: %w", err)
	}

	if err = checkSignCounter(credential, owner.ID); err != nil {
		return nil, nil, err
	}

	return owner, credential, nil
}
