package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

type AuthLoginBody struct {
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// AuthLoginResponse carries either a full session (access + refresh) or, when
// second-factor proof is still pending, a restricted elevation token plus the
// methods the client may use.
type AuthLoginResponse struct {
	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	MFARequired  bool            `json:"mfa_required"`
	Methods      []MethodSummary `json:"methods,omitempty"`
}

type AuthVerifyBody struct {
	AccessToken string `json:"access_token" validate:"required,max=2048"`
}

type AuthRefreshBody struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=2048"`
}

type AuthRefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// SecondFactorVerifyBody submits a typed code (TOTP, email or backup) while
// in the elevation state. Passkey assertions go through the ceremony routes.
type SecondFactorVerifyBody struct {
	Code string `json:"code" validate:"required,min=6,max=8"`
}

type PasskeyLoginBeginResponse struct {
	ChallengeID uuid.UUID       `json:"challenge_id"`
	Options     json.RawMessage `json:"options"`
}

// PasskeyLoginFinishBody completes an assertion ceremony. Response is the raw
// authenticator payload as produced by the browser credential API.
type PasskeyLoginFinishBody struct {
	ChallengeID uuid.UUID       `json:"challenge_id" validate:"required"`
	Response    json.RawMessage `json:"response"     validate:"required"`
}
