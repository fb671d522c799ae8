package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MethodSetupBody initiates enrollment of a new second-factor method.
// Password is the account password re-proof; it is waived only when the
// caller holds a restricted elevation token and owns no enabled method yet.
type MethodSetupBody struct {
	Type     MfaMethodType `json:"type"     validate:"required,oneof=totp passkey email"`
	Name     string        `json:"name"     validate:"required,min=1,max=50"`
	Password string        `json:"password" validate:"omitempty,max=72"`
}

// MethodSetupResponse returns the one-time plaintext setup material. None of
// it is persisted in this form and none of it is retrievable again.
type MethodSetupResponse struct {
	MethodID    uuid.UUID       `json:"method_id"`
	Type        MfaMethodType   `json:"type"`
	Secret      string          `json:"secret,omitempty"`
	QRCodeURI   string          `json:"qr_code_uri,omitempty"`
	QRCodePNG   []byte          `json:"qr_code_png,omitempty"`
	BackupCodes []string        `json:"backup_codes,omitempty"`
	ChallengeID uuid.UUID       `json:"challenge_id,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
}

// MethodVerifyBody carries the proof-of-possession that enables a method:
// a code for totp/email methods, or the attestation response (plus the
// challenge reference) for passkeys.
type MethodVerifyBody struct {
	Code        string          `json:"code"         validate:"omitempty,min=6,max=8"`
	ChallengeID uuid.UUID       `json:"challenge_id" validate:"omitempty"`
	Response    json.RawMessage `json:"response"     validate:"omitempty"`
}

type MethodRemoveBody struct {
	Password string `json:"password" validate:"required,min=1,max=72"`
}

type MethodListResponse struct {
	Methods    []MfaMethod `json:"methods"`
	MFAEnabled bool        `json:"mfa_enabled"`
	MaxMethods int         `json:"max_methods"`
}
