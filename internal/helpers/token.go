package helpers

import (
	"context"
	"errors"
	"strings"
	"time"

	"homevault/internal/configuration"
	"homevault/internal/models"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
)

// tokenConfig holds configuration for creating a specific token type.
type tokenConfig struct {
	audience      string
	mfa           bool
	expiryMinutes int
}

// createToken is the single signing point for every JWT this server mints.
func createToken(jwtSecret string, user *models.User, config tokenConfig) (string, error) {
	claims := models.UserClaims{
		Email:  user.Email,
		UserID: user.ID,
		Role:   user.Role,
		Aud:    config.audience,
		Issuer: configuration.AppName,
		MFA:    config.mfa,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  &jwt.NumericDate{Time: time.Now()},
			ExpiresAt: &jwt.NumericDate{Time: time.Now().Add(time.Minute * time.Duration(config.expiryMinutes))},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// ParseToken parses and validates a JWT without audience validation.
// Audience checks are route-specific and live in the AudienceValidate
// middleware. requireBearer controls whether the "Bearer " prefix is expected.
func ParseToken(jwtSecret string, tokenString string, requireBearer bool) (models.UserClaims, error) {
	if requireBearer {
		if !strings.HasPrefix(tokenString, "Bearer ") {
			return models.UserClaims{}, errors.New("invalid token")
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	}

	claims := &models.UserClaims{}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		},
	)
	if err != nil {
		return models.UserClaims{}, errors.New("invalid token")
	}

	return *claims, nil
}

func CreateHash(password string) (string, error) {
	argonParams := argon2id.Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  32,
		KeyLength:   32,
	}
	hash, err := argon2id.CreateHash(password, &argonParams)
	if err != nil {
		return "", errors.New("can not create hash password")
	}

	return hash, nil
}

func NewAccessToken(jwtSecret string, user *models.User, expiryMinutes int) (string, error) {
	return createToken(jwtSecret, user, tokenConfig{
		audience:      configuration.AudienceAccessToken,
		mfa:           user.HasMFAEnabled(),
		expiryMinutes: expiryMinutes,
	})
}

func NewRefreshToken(jwtSecret string, user *models.User, expiryMinutes int) (string, error) {
	return createToken(jwtSecret, user, tokenConfig{
		audience:      configuration.AudienceRefreshToken,
		mfa:           user.HasMFAEnabled(),
		expiryMinutes: expiryMinutes,
	})
}

// NewElevationToken creates the restricted token representing the
// password-verified, awaiting-second-factor state. It grants access only to
// the MFA routes; a full session exists only after the proof succeeds.
func NewElevationToken(jwtSecret string, user *models.User, expiryMinutes int) (string, error) {
	return createToken(jwtSecret, user, tokenConfig{
		audience:      configuration.AudienceMFALogin,
		mfa:           false,
		expiryMinutes: expiryMinutes,
	})
}

func ParseAccessToken(jwtSecret string, accessToken string) (models.UserClaims, error) {
	return ParseToken(jwtSecret, accessToken, true)
}

// ParseRefreshToken validates and parses a refresh token.
func ParseRefreshToken(jwtSecret string, refreshToken string) (models.UserClaims, error) {
	claims, err := ParseToken(jwtSecret, refreshToken, false)
	if err != nil {
		return models.UserClaims{}, errors.New("invalid refresh token")
	}

	if claims.Aud != configuration.AudienceRefreshToken {
		return models.UserClaims{}, errors.New("invalid refresh token audience")
	}

	return claims, nil
}

// ParseElevationToken validates the restricted second-factor token.
func ParseElevationToken(jwtSecret string, token string) (models.UserClaims, error) {
	claims, err := ParseToken(jwtSecret, token, false)
	if err != nil {
		return models.UserClaims{}, errors.New("invalid elevation token")
	}

	if claims.Aud != configuration.AudienceMFALogin {
		return models.UserClaims{}, errors.New("invalid elevation token audience")
	}

	return claims, nil
}

func GetUserClaims(c context.Context) (models.UserClaims, error) {
	value, ok := c.Value(models.UserClaimKey{}).(models.UserClaims)
	if !ok {
		return models.UserClaims{}, errors.New("invalid user claims")
	}
	return value, nil
}
