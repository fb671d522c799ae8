package helpers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"homevault/internal/configuration"

	"golang.org/x/crypto/pbkdf2"
)

// keyDerivationSalt is a fixed application salt. Combined with the server key
// material it yields the at-rest encryption key; rotating either invalidates
// every stored secret.
var keyDerivationSalt = []byte("homevault/mfa/secret-codec/v1")

// ErrDecryptionFailed covers every decrypt failure mode: wrong key, truncated
// input, tampered ciphertext. Callers never learn which.
var ErrDecryptionFailed = errors.New("decryption failed")

// DeriveEncryptionKey stretches the configured key material into a 32-byte
// AES key. PBKDF2 with a high round count so a leaked database dump cannot be
// brute-forced cheaply against a weak configured key.
func DeriveEncryptionKey(keyMaterial string) []byte {
	return pbkdf2.Key(
		[]byte(keyMaterial),
		keyDerivationSalt,
		configuration.KeyDerivationIterations,
		32,
		sha256.New,
	)
}

// EncryptSecret seals plaintext with AES-256-GCM under a fresh random nonce
// and returns base64(nonce || ciphertext).
func EncryptSecret(plaintext string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", errors.New("encryption key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret. Any malformed or unauthenticated
// input fails closed with ErrDecryptionFailed.
func DecryptSecret(encoded string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", errors.New("encryption key must be 32 bytes for AES-256")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// HashCode one-way hashes a consumable code with the server salt. Backup and
// email codes are stored only in this form; verification is hash-and-compare.
func HashCode(code string, salt string) string {
	digest := sha256.Sum256([]byte(code + salt))
	return hex.EncodeToString(digest[:])
}

// VerifyCodeHash compares a submitted code against a stored digest in
// constant time.
func VerifyCodeHash(code string, salt string, storedDigest string) bool {
	submitted := HashCode(code, salt)
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(storedDigest)) == 1
}
