package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"homevault/internal/activity"
	"homevault/internal/cache"
	"homevault/internal/configuration"
	apierrors "homevault/internal/errors"
	"homevault/internal/events"
	"homevault/internal/handlers"
	h "homevault/internal/helpers"
	"homevault/internal/messaging"
	"homevault/internal/mfa"
	m "homevault/internal/middlewares"
	"homevault/internal/models"
	"homevault/internal/otp"
	"homevault/internal/passkeys"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MFAService struct {
	DB             *gorm.DB
	Cache          cache.ICache
	AuthConfig     models.AuthConfig
	Publisher      messaging.IPublisher
	ActivityLogger activity.IActivityLogger
	Passkeys       *passkeys.Engine
	EmailOTP       *otp.Engine
}

func (s MFAService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/methods", func(r chi.Router) {
		r.Get("/", handlers.GetOneHandler(s.ListMethods))
		r.With(m.Validate[models.MethodSetupBody]).
			Post("/", handlers.CreateHandler(s.AddMethod))
		r.With(m.Validate[models.MethodRemoveBody]).
			Delete("/", handlers.BodyHandler(s.RemoveAllMethods))

		r.Route("/{id0}", func(r chi.Router) {
			r.With(m.Validate[models.MethodVerifyBody]).
				Post("/verify", handlers.CreateHandler(s.VerifyMethod))
			r.Post("/challenge", handlers.GetOneHandler(s.RequestMethodChallenge))
			r.With(m.Validate[models.MethodRemoveBody]).
				Delete("/", handlers.BodyHandler(s.RemoveMethod))
		})
	})

	r.With(m.Validate[models.SecondFactorVerifyBody]).
		Post("/verify", handlers.CreateHandler(s.VerifySecondFactor))

	// Second-factor passkey assertion while holding an elevation token. The
	// token identifies the user, so the ceremony is scoped to their enabled
	// passkeys rather than running discoverably.
	r.Route("/passkeys", func(r chi.Router) {
		r.Post("/begin", handlers.GetOneHandler(s.PasskeyAssertBegin))
		r.With(m.Validate[models.PasskeyLoginFinishBody]).
			Post("/finish", handlers.CreateHandler(s.PasskeyAssertFinish))
	})

	return r
}

func (s MFAService) guardEnabled() error {
	if !s.AuthConfig.MFAEnabled {
		return apierrors.NewAPIError(403, apierrors.ErrServiceDisabled)
	}
	return nil
}

func (s MFAService) loadUser(userID uuid.UUID) (*models.User, error) {
	var user models.User
	result := s.DB.Preload("MfaMethods").Where("id = ?", userID).First(&user)
	if result.RowsAffected == 0 {
		return nil, apierrors.NewAPIError(404, "USER_NOT_FOUND")
	}
	return &user, nil
}

func (s MFAService) ListMethods(
	_ *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
) (models.MethodListResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.MethodListResponse{}, err
	}

	var methods []models.MfaMethod
	s.DB.Where("user_id = ?", claims.UserID).
		Order("created_at ASC").
		Find(&methods)

	enabled := false
	for i := range methods {
		if methods[i].Enabled {
			enabled = true
			break
		}
	}

	return models.MethodListResponse{
		Methods:    methods,
		MFAEnabled: enabled,
		MaxMethods: configuration.MaxMethodsPerUser,
	}, nil
}

// AddMethod enrolls a new method in the disabled state and returns its
// one-time setup material. The whole operation runs under a lock on the
// user row so two concurrent enrollments serialize instead of both
// slipping past the per-user cap.
func (s MFAService) AddMethod(
	logger *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
	body models.MethodSetupBody,
) (models.MethodSetupResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.MethodSetupResponse{}, err
	}

	var response models.MethodSetupResponse
	var user models.User

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("MfaMethods").
			Where("id = ?", claims.UserID).
			First(&user)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, "USER_NOT_FOUND")
		}

		if err := s.checkSetupPassword(claims, &user, body.Password); err != nil {
			return err
		}

		if len(user.MfaMethods) >= configuration.MaxMethodsPerUser {
			return apierrors.NewAPIError(409, "MAX_METHODS_REACHED")
		}

		for i := range user.MfaMethods {
			if user.MfaMethods[i].DisplayName == body.Name {
				return apierrors.NewAPIError(409, "METHOD_NAME_ALREADY_EXISTS")
			}
		}

		method := models.MfaMethod{
			UserID:      user.ID,
			Type:        body.Type,
			DisplayName: body.Name,
		}

		var setupErr error
		switch body.Type {
		case models.MfaMethodTypeTOTP:
			response, setupErr = s.setupTOTP(tx, &user, &method)
		case models.MfaMethodTypePasskey:
			response, setupErr = s.setupPasskey(tx, &user, &method)
		case models.MfaMethodTypeEmail:
			response, setupErr = s.setupEmail(tx, &user, &method)
		default:
			setupErr = apierrors.NewAPIError(400, "UNSUPPORTED_METHOD_TYPE")
		}
		return setupErr
	})
	if err != nil {
		if _, ok := apierrors.AsAPIError(err); ok {
			return models.MethodSetupResponse{}, err
		}
		if errors.Is(err, otp.ErrNotifierUnavailable) {
			return models.MethodSetupResponse{}, apierrors.NewAPIError(503, apierrors.ErrNotifierUnavailable)
		}
		logger.Error("Failed to enroll method", zap.Error(err))
		return models.MethodSetupResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	s.logMethodActivity(logger, activity.MethodEnrollmentStarted, &user, response.MethodID, string(body.Type))

	return response, nil
}

// checkSetupPassword enforces the password re-proof. It is waived for a
// restricted elevation token holder with no enabled method yet: that user
// just proved the password at login and cannot complete any challenge until
// a first method exists.
func (s MFAService) checkSetupPassword(
	claims models.UserClaims,
	user *models.User,
	password string,
) error {
	if claims.Aud == configuration.AudienceMFALogin && !user.HasMFAEnabled() {
		return nil
	}

	match, err := argon2id.ComparePasswordAndHash(password, user.HashedPassword)
	if err != nil || !match {
		return apierrors.NewAPIError(401, "INVALID_PASSWORD")
	}
	return nil
}

func (s MFAService) setupTOTP(
	tx *gorm.DB,
	user *models.User,
	method *models.MfaMethod,
) (models.MethodSetupResponse, error) {
	key, err := h.GenerateTOTPSecret(user.Email)
	if err != nil {
		return models.MethodSetupResponse{}, fmt.Errorf("failed to generate secret: %w", err)
	}

	encryptionKey := h.DeriveEncryptionKey(s.AuthConfig.MFAKeyMaterial)
	encrypted, err := h.EncryptSecret(key.Secret, encryptionKey)
	if err != nil {
		return models.MethodSetupResponse{}, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	backupCodes, err := h.GenerateBackupCodes(configuration.BackupCodeCount)
	if err != nil {
		return models.MethodSetupResponse{}, fmt.Errorf("failed to generate backup codes: %w", err)
	}

	method.EncryptedSecret = encrypted
	method.HashedBackupCodes = h.HashBackupCodes(backupCodes, s.AuthConfig.MFAHashSalt)

	if err = tx.Create(method).Error; err != nil {
		return models.MethodSetupResponse{}, err
	}

	qrCode, err := h.TOTPQRCode(key.URL)
	if err != nil {
		return models.MethodSetupResponse{}, fmt.Errorf("failed to render QR code: %w", err)
	}

	return models.MethodSetupResponse{
		MethodID:    method.ID,
		Type:        models.MfaMethodTypeTOTP,
		Secret:      key.Secret,
		QRCodeURI:   key.URL,
		QRCodePNG:   qrCode,
		BackupCodes: backupCodes,
	}, nil
}

func (s MFAService) setupPasskey(
	tx *gorm.DB,
	user *models.User,
	method *models.MfaMethod,
) (models.MethodSetupResponse, error) {
	if err := tx.Create(method).Error; err != nil {
		return models.MethodSetupResponse{}, err
	}

	challengeID, options, err := s.Passkeys.BeginRegistration(user, user.MfaMethods)
	if err != nil {
		return models.MethodSetupResponse{}, err
	}

	return models.MethodSetupResponse{
		MethodID:    method.ID,
		Type:        models.MfaMethodTypePasskey,
		ChallengeID: uuid.MustParse(challengeID),
		Options:     options,
	}, nil
}

func (s MFAService) setupEmail(
	tx *gorm.DB,
	user *models.User,
	method *models.MfaMethod,
) (models.MethodSetupResponse, error) {
	method.EmailAddress = user.Email

	if err := tx.Create(method).Error; err != nil {
		return models.MethodSetupResponse{}, err
	}

	if err := s.EmailOTP.Issue(user.ID, method.ID, method.EmailAddress); err != nil {
		return models.MethodSetupResponse{}, err
	}

	return models.MethodSetupResponse{
		MethodID: method.ID,
		Type:     models.MfaMethodTypeEmail,
	}, nil
}

// VerifyMethod completes enrollment with one successful proof-of-possession
// and flips the method to enabled. When called with an elevation token the
// freshly enabled method also completes the pending login, so the response
// carries a full token pair.
func (s MFAService) VerifyMethod(
	logger *zap.Logger,
	claims models.UserClaims,
	ids uuid.UUIDs,
	body models.MethodVerifyBody,
) (models.AuthLoginResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.AuthLoginResponse{}, err
	}

	var method models.MfaMethod
	var user models.User

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", ids[0], claims.UserID).
			First(&method)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
		}

		if method.Enabled {
			return apierrors.NewAPIError(409, apierrors.ErrMethodAlreadyEnabled)
		}

		if result = tx.Where("id = ?", claims.UserID).First(&user); result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, "USER_NOT_FOUND")
		}

		if err := s.verifyEnrollmentProof(tx, &user, &method, body); err != nil {
			return err
		}

		now := time.Now()
		method.Enabled = true
		method.EnabledAt = &now
		method.LastUsedAt = &now
		return tx.Save(&method).Error
	})
	if err != nil {
		return models.AuthLoginResponse{}, s.mapVerifyError(logger, err)
	}

	s.logMethodActivity(logger, activity.MethodEnrolled, &user, method.ID, string(method.Type))
	go events.NewMethodEnrolled(
		s.Publisher,
		user.Email,
		string(method.Type),
		method.DisplayName,
		s.AuthConfig.WebURL,
	).Trigger()

	// Enabling the first method from the elevation state doubles as the
	// second-factor proof for the pending login.
	if claims.Aud == configuration.AudienceMFALogin {
		reloaded, err := s.loadUser(claims.UserID)
		if err != nil {
			return models.AuthLoginResponse{}, err
		}
		return mfa.GenerateTokens(s.AuthConfig, reloaded)
	}

	return models.AuthLoginResponse{MFARequired: false}, nil
}

func (s MFAService) verifyEnrollmentProof(
	tx *gorm.DB,
	user *models.User,
	method *models.MfaMethod,
	body models.MethodVerifyBody,
) error {
	switch method.Type {
	case models.MfaMethodTypeTOTP:
		encryptionKey := h.DeriveEncryptionKey(s.AuthConfig.MFAKeyMaterial)
		secret, err := h.DecryptSecret(method.EncryptedSecret, encryptionKey)
		if err != nil {
			return apierrors.NewAPIError(500, apierrors.ErrDecryptionFailed)
		}
		if !h.ValidateTOTPCode(secret, body.Code) {
			return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
		}
		return nil

	case models.MfaMethodTypeEmail:
		ok, err := s.EmailOTP.Verify(user.ID, method.ID, body.Code)
		if err != nil {
			return err
		}
		if !ok {
			return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
		}
		return nil

	case models.MfaMethodTypePasskey:
		if body.ChallengeID == uuid.Nil || len(body.Response) == 0 {
			return apierrors.NewAPIError(400, apierrors.ErrInvalidCodeFormat)
		}
		credential, err := s.Passkeys.FinishRegistration(
			user,
			body.ChallengeID.String(),
			body.Response,
		)
		if err != nil {
			return err
		}
		method.ApplyWebauthnCredential(credential)
		return nil
	}

	return apierrors.NewAPIError(400, "UNSUPPORTED_METHOD_TYPE")
}

func (s MFAService) mapVerifyError(logger *zap.Logger, err error) error {
	if _, ok := apierrors.AsAPIError(err); ok {
		return err
	}
	if errors.Is(err, passkeys.ErrChallengeExpiredOrMismatched) {
		return apierrors.NewAPIError(401, apierrors.ErrChallengeExpired)
	}
	if errors.Is(err, passkeys.ErrReplayDetected) {
		logger.Warn("Passkey replay detected during enrollment", zap.Error(err))
		return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
	}
	// A second passkey row with the same credential id trips the unique
	// index; the caller should restart the ceremony.
	if strings.Contains(err.Error(), "credential_id") {
		return apierrors.NewAPIError(409, apierrors.ErrConflictRetry)
	}
	logger.Error("Failed to verify method", zap.Error(err))
	return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
}

// RequestMethodChallenge issues (or re-issues) the emailed code for an email
// method. Re-issuing invalidates whatever code was sent before.
func (s MFAService) RequestMethodChallenge(
	logger *zap.Logger,
	claims models.UserClaims,
	ids uuid.UUIDs,
) (models.MethodSummary, error) {
	if err := s.guardEnabled(); err != nil {
		return models.MethodSummary{}, err
	}

	var method models.MfaMethod
	result := s.DB.Where("id = ? AND user_id = ?", ids[0], claims.UserID).First(&method)
	if result.RowsAffected == 0 {
		return models.MethodSummary{}, apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
	}

	if method.Type != models.MfaMethodTypeEmail {
		return models.MethodSummary{}, apierrors.NewAPIError(400, "CHALLENGE_NOT_SUPPORTED")
	}

	if err := s.EmailOTP.Issue(claims.UserID, method.ID, method.EmailAddress); err != nil {
		if errors.Is(err, otp.ErrNotifierUnavailable) {
			return models.MethodSummary{}, apierrors.NewAPIError(503, apierrors.ErrNotifierUnavailable)
		}
		logger.Error("Failed to issue email code", zap.Error(err))
		return models.MethodSummary{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	action := models.Activity{
		Message: activity.EmailCodeIssued,
		Object:  method.ToActivity(),
		Filter: activity.NewLogFilter(map[string]string{
			"action":      activity.EmailCodeIssued,
			"user_id":     claims.UserID.String(),
			"method_id":   method.ID.String(),
			"method_type": string(method.Type),
			"object_type": "mfa_method",
		}),
	}
	if logErr := s.ActivityLogger.Send(action); logErr != nil {
		logger.Error("Failed to log activity", zap.Error(logErr))
	}

	return method.ToSummary(), nil
}

// RemoveMethod hard-deletes a method after a password re-proof. Removing the
// last enabled method drops the account back to password-only login, which
// gets its own notification.
func (s MFAService) RemoveMethod(
	logger *zap.Logger,
	claims models.UserClaims,
	ids uuid.UUIDs,
	body models.MethodRemoveBody,
) error {
	if err := s.guardEnabled(); err != nil {
		return err
	}

	var method models.MfaMethod
	var user models.User
	var lastEnabledRemoved bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("MfaMethods").
			Where("id = ?", claims.UserID).
			First(&user)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, "USER_NOT_FOUND")
		}

		match, err := argon2id.ComparePasswordAndHash(body.Password, user.HashedPassword)
		if err != nil || !match {
			return apierrors.NewAPIError(401, "INVALID_PASSWORD")
		}

		result = tx.Where("id = ? AND user_id = ?", ids[0], claims.UserID).First(&method)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
		}

		if err = tx.Delete(&method).Error; err != nil {
			return err
		}

		if method.Enabled {
			var remaining int64
			tx.Model(&models.MfaMethod{}).
				Where("user_id = ? AND enabled = ? AND id <> ?", claims.UserID, true, method.ID).
				Count(&remaining)
			lastEnabledRemoved = remaining == 0
		}
		return nil
	})
	if err != nil {
		if _, ok := apierrors.AsAPIError(err); ok {
			return err
		}
		logger.Error("Failed to remove method", zap.Error(err))
		return apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	s.logMethodActivity(logger, activity.MethodRemoved, &user, method.ID, string(method.Type))
	go events.NewMethodRemoved(
		s.Publisher,
		user.Email,
		string(method.Type),
		method.DisplayName,
		s.AuthConfig.WebURL,
	).Trigger()

	if lastEnabledRemoved {
		s.logMethodActivity(logger, activity.MFADisabled, &user, method.ID, string(method.Type))
		go events.NewMFADisabled(s.Publisher, user.Email, s.AuthConfig.WebURL).Trigger()
	}

	return nil
}

// RemoveAllMethods wipes every configured method at once, re-proving the
// account password first. Used when a user wants to start over or turn the
// second factor off entirely.
func (s MFAService) RemoveAllMethods(
	logger *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
	body models.MethodRemoveBody,
) error {
	if err := s.guardEnabled(); err != nil {
		return err
	}

	var user models.User
	var hadEnabled bool

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("MfaMethods").
			Where("id = ?", claims.UserID).
			First(&user)
		if result.RowsAffected == 0 {
			return apierrors.NewAPIError(404, "USER_NOT_FOUND")
		}

		match, err := argon2id.ComparePasswordAndHash(body.Password, user.HashedPassword)
		if err != nil || !match {
			return apierrors.NewAPIError(401, "INVALID_PASSWORD")
		}

		hadEnabled = user.HasMFAEnabled()

		return tx.Where("user_id = ?", claims.UserID).
			Delete(&models.MfaMethod{}).Error
	})
	if err != nil {
		if _, ok := apierrors.AsAPIError(err); ok {
			return err
		}
		logger.Error("Failed to remove all methods", zap.Error(err))
		return apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	for i := range user.MfaMethods {
		method := user.MfaMethods[i]
		s.logMethodActivity(logger, activity.MethodRemoved, &user, method.ID, string(method.Type))
		go events.NewMethodRemoved(
			s.Publisher,
			user.Email,
			string(method.Type),
			method.DisplayName,
			s.AuthConfig.WebURL,
		).Trigger()
	}

	if hadEnabled {
		s.logMethodActivity(logger, activity.MFADisabled, &user, uuid.Nil, "")
		go events.NewMFADisabled(s.Publisher, user.Email, s.AuthConfig.WebURL).Trigger()
	}

	return nil
}

// VerifySecondFactor completes a pending login with a typed code. The code
// shape picks the verification path: 6 digits try every enabled totp and
// email method in enrollment order, 8 hex chars try backup codes. All
// failures collapse into one generic error.
func (s MFAService) VerifySecondFactor(
	logger *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
	body models.SecondFactorVerifyBody,
) (models.AuthLoginResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.AuthLoginResponse{}, err
	}

	kind := h.ClassifyCode(body.Code)
	if kind == h.CodeKindInvalid {
		return models.AuthLoginResponse{}, apierrors.NewAPIError(400, apierrors.ErrInvalidCodeFormat)
	}

	user, err := s.loadUser(claims.UserID)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	var matched *models.MfaMethod
	if kind == h.CodeKindOTP {
		matched, err = s.matchOTPCode(logger, user, body.Code)
	} else {
		matched, err = s.matchBackupCode(logger, user, body.Code)
	}
	if err != nil {
		return models.AuthLoginResponse{}, err
	}
	if matched == nil {
		return models.AuthLoginResponse{}, apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
	}

	if err = s.DB.Model(matched).Update("last_used_at", time.Now()).Error; err != nil {
		logger.Error("Failed to persist method usage", zap.Error(err))
		return models.AuthLoginResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	tokens, err := mfa.GenerateTokens(s.AuthConfig, user)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	s.logMethodActivity(logger, activity.UserLoginElevated, user, matched.ID, string(matched.Type))

	return tokens, nil
}

// matchOTPCode tries each enabled totp and email method in enrollment
// order. An accepted TOTP code is remembered in the cache for its validity
// window so presenting the same code twice fails the second time.
func (s MFAService) matchOTPCode(
	logger *zap.Logger,
	user *models.User,
	code string,
) (*models.MfaMethod, error) {
	encryptionKey := h.DeriveEncryptionKey(s.AuthConfig.MFAKeyMaterial)

	for _, method := range user.GetEnabledMethods() {
		switch method.Type {
		case models.MfaMethodTypeTOTP:
			secret, err := h.DecryptSecret(method.EncryptedSecret, encryptionKey)
			if err != nil {
				logger.Error("Failed to decrypt method secret",
					zap.String("method_id", method.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if !h.ValidateTOTPCode(secret, code) {
				continue
			}

			usedKey := fmt.Sprintf(configuration.CacheTOTPUsedKey, user.ID, method.ID)
			if _, seen, _ := s.Cache.Get(usedKey); seen {
				logger.Warn("TOTP code replay rejected",
					zap.String("user_id", user.ID.String()),
					zap.String("method_id", method.ID.String()),
				)
				return nil, apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
			}
			if err = s.Cache.SetWithTTL(
				usedKey,
				h.HashCode(code, s.AuthConfig.MFAHashSalt),
				configuration.CacheTOTPUsedTTLSeconds*time.Second,
			); err != nil {
				logger.Error("Failed to record used code", zap.Error(err))
			}
			return &method, nil

		case models.MfaMethodTypeEmail:
			ok, err := s.EmailOTP.Verify(user.ID, method.ID, code)
			if err != nil {
				return nil, err
			}
			if ok {
				return &method, nil
			}
		}
	}

	return nil, nil
}

// matchBackupCode tries the backup lists of enabled totp methods. A hit
// removes the code from its list under a row lock before any token is
// minted, so the same code cannot win twice.
func (s MFAService) matchBackupCode(
	logger *zap.Logger,
	user *models.User,
	code string,
) (*models.MfaMethod, error) {
	for _, method := range user.GetEnabledMethods() {
		if method.Type != models.MfaMethodTypeTOTP {
			continue
		}

		consumed, remaining := h.ConsumeBackupCode(
			method.HashedBackupCodes,
			code,
			s.AuthConfig.MFAHashSalt,
		)
		if !consumed {
			continue
		}

		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var locked models.MfaMethod
			result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", method.ID).
				First(&locked)
			if result.RowsAffected == 0 {
				return apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
			}

			// The list may have changed since the preload; consume against
			// the locked row so a concurrent attempt cannot reuse the code.
			consumedNow, lockedRemaining := h.ConsumeBackupCode(
				locked.HashedBackupCodes,
				code,
				s.AuthConfig.MFAHashSalt,
			)
			if !consumedNow {
				return apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
			}
			remaining = lockedRemaining

			return tx.Model(&locked).
				Update("hashed_backup_codes", models.StringList(remaining)).Error
		})
		if err != nil {
			if _, ok := apierrors.AsAPIError(err); ok {
				return nil, err
			}
			logger.Error("Failed to consume backup code", zap.Error(err))
			return nil, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
		}

		return &method, nil
	}

	return nil, nil
}

// PasskeyAssertBegin opens an assertion ceremony for the elevation token
// holder, scoped to their enabled passkeys.
func (s MFAService) PasskeyAssertBegin(
	logger *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
) (models.PasskeyLoginBeginResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.PasskeyLoginBeginResponse{}, err
	}

	user, err := s.loadUser(claims.UserID)
	if err != nil {
		return models.PasskeyLoginBeginResponse{}, err
	}

	enabledPasskeys := enabledPasskeyMethods(user)
	if len(enabledPasskeys) == 0 {
		return models.PasskeyLoginBeginResponse{}, apierrors.NewAPIError(404, apierrors.ErrMethodNotFound)
	}

	challengeID, options, err := s.Passkeys.BeginLogin(user, enabledPasskeys)
	if err != nil {
		logger.Error("Failed to begin passkey assertion", zap.Error(err))
		return models.PasskeyLoginBeginResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	return models.PasskeyLoginBeginResponse{
		ChallengeID: uuid.MustParse(challengeID),
		Options:     options,
	}, nil
}

// PasskeyAssertFinish validates the assertion, persists the advanced sign
// counter under a row lock and only then mints the full session.
func (s MFAService) PasskeyAssertFinish(
	logger *zap.Logger,
	claims models.UserClaims,
	_ uuid.UUIDs,
	body models.PasskeyLoginFinishBody,
) (models.AuthLoginResponse, error) {
	if err := s.guardEnabled(); err != nil {
		return models.AuthLoginResponse{}, err
	}

	user, err := s.loadUser(claims.UserID)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	credential, err := s.Passkeys.FinishLogin(
		user,
		enabledPasskeyMethods(user),
		body.ChallengeID.String(),
		body.Response,
	)
	if err != nil {
		if errors.Is(err, passkeys.ErrChallengeExpiredOrMismatched) {
			return models.AuthLoginResponse{}, apierrors.NewAPIError(401, apierrors.ErrChallengeExpired)
		}
		if errors.Is(err, passkeys.ErrReplayDetected) {
			logger.Warn("Passkey replay detected", zap.String("user_id", user.ID.String()))
			s.logMethodActivity(logger, activity.SecondFactorReplay, user, uuid.Nil, string(models.MfaMethodTypePasskey))
			return models.AuthLoginResponse{}, apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
		}
		logger.Warn("Passkey assertion failed", zap.Error(err))
		return models.AuthLoginResponse{}, apierrors.NewAPIError(401, apierrors.ErrInvalidSecondFactor)
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
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
		if _, ok := apierrors.AsAPIError(err); ok {
			return models.AuthLoginResponse{}, err
		}
		logger.Error("Failed to persist assertion result", zap.Error(err))
		return models.AuthLoginResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	tokens, err := mfa.GenerateTokens(s.AuthConfig, user)
	if err != nil {
		return models.AuthLoginResponse{}, err
	}

	s.logMethodActivity(logger, activity.UserLoginElevated, user, uuid.Nil, string(models.MfaMethodTypePasskey))

	return tokens, nil
}

func enabledPasskeyMethods(user *models.User) []models.MfaMethod {
	passkeyMethods := make([]models.MfaMethod, 0)
	for _, method := range user.GetEnabledMethods() {
		if method.Type == models.MfaMethodTypePasskey {
			passkeyMethods = append(passkeyMethods, method)
		}
	}
	return passkeyMethods
}

func (s MFAService) logMethodActivity(
	logger *zap.Logger,
	message string,
	user *models.User,
	methodID uuid.UUID,
	methodType string,
) {
	fields := map[string]string{
		"action":      message,
		"user_id":     user.ID.String(),
		"email":       user.Email,
		"method_type": methodType,
		"object_type": "mfa_method",
	}
	if methodID != uuid.Nil {
		fields["method_id"] = methodID.String()
	}
	action := models.Activity{
		Message: message,
		Object:  user.ToActivity(),
		Filter:  activity.NewLogFilter(fields),
	}
	if logErr := s.ActivityLogger.Send(action); logErr != nil {
		logger.Error("Failed to log activity", zap.Error(logErr))
	}
}
