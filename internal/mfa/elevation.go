package mfa

import (
	apierrors "homevault/internal/errors"
	h "homevault/internal/helpers"
	"homevault/internal/models"

	"go.uber.org/zap"
)

// HandleMFARequired moves a password-verified login into the awaiting
// second factor state. The returned token is restricted to the MFA
// endpoints; it opens no application surface. The enabled method summaries
// let the client present a factor picker without another round trip.
func HandleMFARequired(
	logger *zap.Logger,
	authConfig models.AuthConfig,
	user *models.User,
) (models.AuthLoginResponse, error) {
	elevationToken, err := h.NewElevationToken(
		authConfig.JWTSecret,
		user,
		authConfig.MFATokenExpiry,
	)
	if err != nil {
		logger.Error("Failed to generate elevation token", zap.Error(err))
		return models.AuthLoginResponse{}, apierrors.NewAPIError(500, "INTERNAL_SERVER_ERROR")
	}

	enabled := user.GetEnabledMethods()
	methods := make([]models.MethodSummary, 0, len(enabled))
	for i := range enabled {
		methods = append(methods, enabled[i].ToSummary())
	}

	return models.AuthLoginResponse{
		AccessToken: elevationToken,
		MFARequired: true,
		Methods:     methods,
	}, nil
}

// GenerateTokens mints the full session pair. Used for users without MFA
// and after a second factor has been verified and persisted.
func GenerateTokens(
	authConfig models.AuthConfig,
	user *models.User,
) (models.AuthLoginResponse, error) {
	accessToken, err := h.NewAccessToken(
		authConfig.JWTSecret,
		user,
		authConfig.AccessTokenExpiry,
	)
	if err != nil {
		return models.AuthLoginResponse{}, apierrors.ErrGenerateAccessTokenFailed
	}

	refreshToken, err := h.NewRefreshToken(
		authConfig.JWTSecret,
		user,
		authConfig.RefreshTokenExpiry,
	)
	if err != nil {
		return models.AuthLoginResponse{}, apierrors.ErrGenerateRefreshTokenFailed
	}

	return models.AuthLoginResponse{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
