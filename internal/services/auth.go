package services

import (
	"errors"
	"time"

	"homevault/internal/activity"
	"homevault/internal/cache"
	apierrors "homevault/internal/errors"
	"homevault/internal/handlers"
	h "homevault/internal/helpers"
	"homevault/internal/messaging"
	"homevault/internal/mfa"
	m "homevault/internal/middlewares"
	"homevault/internal/models"
	"homevault/internal/passkeys"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthService struct {
	DB             *gorm.DB
	Cache          cache.ICache
	AuthConfig     models.AuthConfig
	Publisher      messaging.IPublisher
	ActivityLogger activity.IActivityLogger
	Passkeys       *passkeys.Engine
}

func (s AuthService) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(m.Validate[models.AuthLoginBody]).Post("/login", handlers.CreateHandler(s.Login))
	r.With(m.Validate[models.AuthVerifyBody]).Post("/verify", handlers.CreateHandler(s.Verify))
	r.With(m.Validate[models.AuthRefreshBody]).Post("/refresh", handlers.CreateHandler(s.Refresh))

	// Passwordless login. No session of any kind exists yet; the
	// authenticator picks a resident credential and its id resolves the
	// account.
	r.Route("/passkeys", func(r chi.Router) {
		r.Post("/begin", handlers.GetOneHandler(s.PasskeyLoginBegin))
		r.With(m.Validate[models.PasskeyLoginFinishBody]).
			Post("/finish", handlers.CreateHandler(s.PasskeyLoginFinish))
	})
	return r
}

// Login checks the password and decides which state the session enters:
// a full token pair when no second factor stands in the way, or a
// restricted elevation token when one does.
func (s AuthService) Login(
	logger *zap.Logger,
	_ models.UserClaims,
	_ uuid.UUIDs,
	body models.AuthLoginBody,
) (models.AuthLoginResponse, error) {
	var user models.User
	result := s.DB.Preload("MfaMethods", "enabled = ?", true).
		Where("email = ?", body.Email).
		First(&user)
	if result.RowsAffected != 1 {
		return models.AuthLoginResponse{}, apierrors.NewAPIError(401, "INVALID_CREDENTIALS")
	}

	match, err := argon2id.ComparePasswordAndHash(body.Password, user.HashedPassword)
	if err != nil || !match {
		return models.AuthLoginResponse{}, apierrors.NewAPIError(401, "INVALID_CREDENTIALS")
	}

	// When the whole MFA surface is switched off, enrollments stay in the
	// database but are not enforced.
	if s.AuthConfig.MFAEnabled && user.HasMFAEnabled() {
		return mfa.HandleMFARequired(logger, s.AuthConfig, &user)
	}

	tokens, err := mfa.GenerateTokens(s.AuthConfig, &user)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	s.logLoginActivity(logger, &user)

	return tokens, nil
}

func (s AuthService) logLoginActivity(logger *zap.Logger, user *models.User) {
	action := models.Activity{
		Message: activity.UserLoggedIn,
		Object:  user.ToActivity(),
		Filter: activity.NewLogFilter(map[string]string{
			"action":      activity.UserLoggedIn,
			"user_id":     user.ID.String(),
			"email":       user.Email,
			"object_type": "user",
		}),
	}
	if logErr := s.ActivityLogger.Send(action); logErr != nil {
		logger.Error("Failed to log login activity", zap.Error(logErr))
	}
}

func (s AuthService) Verify(
	_ *zap.Logger,
	_ models.UserClaims,
	_ uuid.UUIDs,
	body models.AuthVerifyBody,
) (models.UserClaims, error) {
	claims, err := h.ParseAccessToken(s.AuthConfig.JWTSecret, "Bearer "+body.AccessToken)
	if err != nil {
		return models.UserClaims{}, apierrors.NewAPIError(401, "INVALID_TOKEN")
	}
	return claims, nil
}

func (s AuthService) Refresh(
	logger *zap.Logger,
	_ models.UserClaims,
	_ uuid.UUIDs,
	body models.AuthRefreshBody,
) (models.AuthRefreshResponse, error) {
	refreshClaims, err := h.ParseRefreshToken(s.AuthConfig.JWTSecret, body.RefreshToken)
	if err != nil {
		return models.AuthRefreshResponse{}, apierrors.NewAPIError(401, "INVALID_TOKEN")
	}

	var user models.User
	result := s.DB.Preload("MfaMethods", "enabled = ?", true).
		Where("id = ?", refreshClaims.UserID).
		First(&user)
	if result.RowsAffected == 0 {
		logger.Warn("User not found during token refresh",
			zap.String("user_id", refreshClaims.UserID.String()))
		return models.AuthRefreshResponse{}, apierrors.NewAPIError(401, "USER_NOT_FOUND")
	}

	accessToken, err := h.NewAccessToken(
		s.AuthConfig.JWTSecret,
		&user,
		s.AuthConfig.AccessTokenExpiry,
	)
	if err != nil {
		return models.AuthRefreshResponse{}, apierrors.ErrGenerateAccessTokenFailed
	}

	return models.AuthRefreshResponse{AccessToken: accessToken}, nil
}

// PasskeyLoginBegin opens a discoverable assertion ceremony. The options are
// identical whether or not any account holds a passkey, so the endpoint
// leaks nothing about enrollment.
func (s AuthService) PasskeyLoginBegin(
	logger *zap.Logger,
	_ models.UserClaims,
	_ uuid.UUIDs,
) (models.PasskeyLoginBeginResponse, error) {
	if !s.AuthConfig.MFAEnabled {
		return models.PasskeyLoginBeginResponse{}, apierrors.NewAPIError(403, apierrors.ErrServiceDisabled)
	}

	challengeID, options, err := s.Passkeys.BeginDiscoverableLogin()
	if err != nil {
		logger.Error("Failed to begin passkey login", zap.Error(err))
		return models.PasskeyLoginBeginResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	return models.PasskeyLoginBeginResponse{
		ChallengeID: uuid.MustParse(challengeID),
		Options:     options,
	}, nil
}

// PasskeyLoginFinish validates the assertion, persists the advanced sign
// counter and only then mints a full session. The asserted credential id is
// globally unique, so it alone resolves the account.
func (s AuthService) PasskeyLoginFinish(
	logger *zap.Logger,
	_ models.UserClaims,
	_ uuid.UUIDs,
	body models.PasskeyLoginFinishBody,
) (models.AuthLoginResponse, error) {
	if !s.AuthConfig.MFAEnabled {
		return models.AuthLoginResponse{}, apierrors.NewAPIError(403, apierrors.ErrServiceDisabled)
	}

	lookup := func(rawID, _ []byte) (*models.User, []models.MfaMethod, error) {
		var method models.MfaMethod
		result := s.DB.Where("credential_id = ? AND enabled = ?", rawID, true).First(&method)
		if result.RowsAffected == 0 {
			return nil, nil, errors.New("unknown credential")
		}

		var user models.User
		result = s.DB.Preload("MfaMethods", "enabled = ?", true).
			Where("id = ?", method.UserID).
			First(&user)
		if result.RowsAffected == 0 {
			return nil, nil, errors.New("unknown credential")
		}

		return &user, user.GetEnabledMethods(), nil
	}

	user, credential, err := s.Passkeys.FinishDiscoverableLogin(
		lookup,
		body.ChallengeID.String(),
		body.Response,
	)
	if err != nil {
		return models.AuthLoginResponse{}, s.mapAssertionError(logger, err)
	}

	if err = s.persistAssertion(logger, user, credential); err != nil {
		return models.AuthLoginResponse{}, err
	}

	tokens, err := mfa.GenerateTokens(s.AuthConfig, user)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	s.logLoginActivity(logger, user)

	logger.Info("Passwordless login successful", zap.String("user_id", user.ID.String()))

	return tokens, nil
}

// mapAssertionError collapses every verification failure into the generic
// second-factor error. Replay gets its own log line and audit entry first.
func (s AuthService) mapAssertionError(logger *zap.Logger, err error) error {
	if errors.Is(err, passkeys.ErrChallengeExpiredOrMismatched) {
		return apierrors.NewAPIError(401, apierrors.ErrChallengeExpired)
	}

	if errors.Is(err, passkeys.ErrReplayDetected) {
		logger.Warn("Passkey replay detected during login", zap.Error(err))
		action := models.Activity{
			Message: activity.SecondFactorReplay,
			Filter: activity.NewLogFilter(map[string]string{
				"action":      activity.SecondFactorReplay,
				"object_type": "mfa_method",
			}),
		}
		if logErr := s.ActivityLogger.Send(action); logErr != nil {
			logger.Error("Failed to log replay activity", zap.Error(logErr))
		}
		return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
	}

	logger.Warn("Passkey assertion failed", zap.Error(err))
	return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
}

// persistAssertion writes the updated counter and usage timestamp under a
// row lock. The session is only minted once this commit went through.
func (s AuthService) persistAssertion(
	logger *zap.Logger,
	user *models.User,
	credential *webauthn.Credential,
) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var method models.MfaMethod
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("credential_id = ? AND user_id = ?", credential.ID, user.ID).
			First(&method)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
		}

		return tx.Model(&method).Updates(map[string]any{
			"sign_count":   credential.Authenticator.SignCount,
			"backed_up":    credential.Flags.BackupState,
			"last_used_at": time.Now(),
		}).Error
	})
	if err != nil {
		logger.Error("Failed to persist assertion result", zap.Error(err))
		if _, ok := apierrors.AsAPIError(err); ok {
			return err
		}
		return apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	return nil
}
