package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// MfaMethodType tags the metadata variant of an enrolled method.
type MfaMethodType string

const (
	MfaMethodTypeTOTP    MfaMethodType = "totp"
	MfaMethodTypePasskey MfaMethodType = "passkey"
	MfaMethodTypeEmail   MfaMethodType = "email"
)

// StringList stores a JSON-encoded list of strings in a single column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return errors.New("unsupported type for StringList")
	}
}

// MfaMethod is one enrolled second factor. One row carries exactly one of the
// three metadata variants; Type selects which columns are meaningful and
// which engine handles verification. Newly created methods start disabled and
// flip to enabled only after one successful proof-of-possession.
type MfaMethod struct {
	ID          uuid.UUID     `gorm:"type:uuid;primarykey;default:gen_random_uuid()" json:"id"`
	UserID      uuid.UUID     `gorm:"type:uuid;not null;index"                       json:"user_id"`
	Type        MfaMethodType `gorm:"type:varchar(16);not null"                      json:"type"`
	DisplayName string        `gorm:"type:varchar(100);not null"                     json:"display_name"`
	Enabled     bool          `gorm:"not null;default:false"                         json:"enabled"`
	CreatedAt   time.Time     `                                                      json:"created_at"`
	UpdatedAt   time.Time     `                                                      json:"updated_at"`
	EnabledAt   *time.Time    `                                                      json:"enabled_at,omitempty"`
	LastUsedAt  *time.Time    `                                                      json:"last_used_at,omitempty"`

	// totp variant
	EncryptedSecret   string     `gorm:"column:encrypted_secret"     json:"-"`
	HashedBackupCodes StringList `gorm:"column:hashed_backup_codes"  json:"-"`

	// passkey variant; CredentialID is unique across all users so a bare
	// assertion can be resolved to its owner during passwordless login.
	CredentialID []byte     `gorm:"column:credential_id;uniqueIndex" json:"-"`
	PublicKey    []byte     `gorm:"column:public_key"                json:"-"`
	SignCount    uint32     `gorm:"column:sign_count;default:0"      json:"-"`
	DeviceType   string     `gorm:"column:device_type"               json:"device_type,omitempty"`
	BackedUp     bool       `gorm:"column:backed_up;default:false"   json:"backed_up,omitempty"`
	Transports   StringList `gorm:"column:transports"                json:"-"`

	// email variant
	EmailAddress string `gorm:"column:email_address" json:"email_address,omitempty"`
}

// ToWebauthnCredential rebuilds the library credential from stored columns.
// Only meaningful for passkey methods.
func (m *MfaMethod) ToWebauthnCredential() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(m.Transports))
	for _, t := range m.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        m.CredentialID,
		PublicKey: m.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupState: m.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount:  m.SignCount,
			Attachment: protocol.AuthenticatorAttachment(m.DeviceType),
		},
	}
}

// ApplyWebauthnCredential copies a freshly verified credential into the
// passkey columns.
func (m *MfaMethod) ApplyWebauthnCredential(cred *webauthn.Credential) {
	transports := make(StringList, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	m.CredentialID = cred.ID
	m.PublicKey = cred.PublicKey
	m.SignCount = cred.Authenticator.SignCount
	m.DeviceType = string(cred.Authenticator.Attachment)
	m.BackedUp = cred.Flags.BackupState
	m.Transports = transports
}

func (m *MfaMethod) ToActivity() MfaMethodActivity {
	return MfaMethodActivity{ID: m.ID, Type: m.Type, DisplayName: m.DisplayName}
}

type MfaMethodActivity struct {
	ID          uuid.UUID     `json:"id"`
	Type        MfaMethodType `json:"type"`
	DisplayName string        `json:"display_name"`
}

// MethodSummary is the client-facing view used when presenting second-factor
// choices; it never exposes secrets or credential material.
type MethodSummary struct {
	ID          uuid.UUID     `json:"id"`
	Type        MfaMethodType `json:"type"`
	DisplayName string        `json:"display_name"`
}

func (m *MfaMethod) ToSummary() MethodSummary {
	return MethodSummary{ID: m.ID, Type: m.Type, DisplayName: m.DisplayName}
}
