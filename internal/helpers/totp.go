package helpers

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image/png"
	"regexp"
	"time"

	"homevault/internal/configuration"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPKey holds the generated TOTP key information.
type TOTPKey struct {
	Secret string // Base32-encoded secret
	URL    string // otpauth:// URL for QR code generation
}

// GenerateTOTPSecret creates a new TOTP secret for the given email.
// 20 random bytes (160 bits) before base32 encoding.
func GenerateTOTPSecret(email string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      configuration.AppName,
		AccountName: email,
		SecretSize:  20,
	})
	if err != nil {
		return nil, err
	}

	return &TOTPKey{
		Secret: key.Secret(),
		URL:    key.URL(),
	}, nil
}

// BuildProvisioningURI creates a TOTP URL using an existing secret and email.
func BuildProvisioningURI(email string, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		configuration.AppName, email, secret, configuration.AppName)
}

// TOTPQRCode renders the provisioning URI as a PNG for enrollment screens.
// Used only at setup time; never persisted.
func TOTPQRCode(url string) ([]byte, error) {
	key, err := otp.NewKeyFromURL(url)
	if err != nil {
		return nil, err
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err = png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ValidateTOTPCode validates a 6-digit TOTP code against the given secret.
// The ±1 step skew absorbs clock drift only; the engine holds no state
// across calls, so replay within the window is inherent to TOTP.
func ValidateTOTPCode(secret string, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// GenerateBackupCodes returns count independent single-use codes, 8 hex
// characters each. They are never derivable from the TOTP secret.
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, 4)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		codes[i] = hex.EncodeToString(raw)
	}
	return codes, nil
}

// HashBackupCodes converts freshly generated plaintext codes into the
// storable digest list.
func HashBackupCodes(codes []string, salt string) []string {
	hashed := make([]string, len(codes))
	for i, code := range codes {
		hashed[i] = HashCode(code, salt)
	}
	return hashed
}

// ConsumeBackupCode looks the submitted code up in the hashed list. On a
// match it returns true and the list with that single entry removed; the
// caller persists the reduced list, which is the consumption point. On a
// miss the list is returned unchanged.
func ConsumeBackupCode(hashedList []string, code string, salt string) (bool, []string) {
	for i, digest := range hashedList {
		if VerifyCodeHash(code, salt, digest) {
			remaining := make([]string, 0, len(hashedList)-1)
			remaining = append(remaining, hashedList[:i]...)
			remaining = append(remaining, hashedList[i+1:]...)
			return true, remaining
		}
	}
	return false, hashedList
}

// CodeKind is the verification path a submitted code is routed to.
type CodeKind int

const (
	CodeKindInvalid CodeKind = iota
	CodeKindOTP              // 6-digit numeric: TOTP or email code
	CodeKindBackup           // 8-char hex: backup code
)

var (
	otpCodePattern    = regexp.MustCompile(`^[0-9]{6}$`)
	backupCodePattern = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
)

// ClassifyCode picks the verification path by shape. Anything else is
// rejected before any engine state is touched.
func ClassifyCode(code string) CodeKind {
	switch {
	case otpCodePattern.MatchString(code):
		return CodeKindOTP
	case backupCodePattern.MatchString(code):
		return CodeKindBackup
	default:
		return CodeKindInvalid
	}
}
