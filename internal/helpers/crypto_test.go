package helpers

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncryptSecret tests AES-256-GCM encryption.
func TestEncryptSecret(t *testing.T) {
	validKey := []byte("12345678901234567890123456789012") // 32 bytes

	t.Run("should encrypt and return base64 encoded string", func(t *testing.T) {
		plaintext := "test-secret-value"

		result, err := EncryptSecret(plaintext, validKey)

		require.NoError(t, err)
		assert.NotEmpty(t, result)

		decoded, err := base64.StdEncoding.DecodeString(result)
		require.NoError(t, err)
		assert.Greater(t, len(decoded), len(plaintext), "ciphertext should be longer due to nonce and auth tag")
	})

	t.Run("should produce different ciphertext for same plaintext", func(t *testing.T) {
		plaintext := "same-secret"

		encrypted1, err1 := EncryptSecret(plaintext, validKey)
		encrypted2, err2 := EncryptSecret(plaintext, validKey)

		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.NotEqual(t, encrypted1, encrypted2, "different random nonces should produce different ciphertexts")
	})

	t.Run("should reject key size other than 32 bytes", func(t *testing.T) {
		_, err := EncryptSecret("test", []byte("short-key"))
		assert.Error(t, err)
		assert.Equal(t, "encryption key must be 32 bytes for AES-256", err.Error())

		_, err = EncryptSecret("test", []byte("1234567890123456789012345678901234567890"))
		assert.Error(t, err)
	})
}

// TestDecryptSecret tests the round trip and its failure modes.
func TestDecryptSecret(t *testing.T) {
	validKey := []byte("12345678901234567890123456789012")

	t.Run("should round trip a TOTP secret", func(t *testing.T) {
		plaintext := "JBSWY3DPEHPK3PXP"

		encrypted, err := EncryptSecret(plaintext, validKey)
		require.NoError(t, err)

		decrypted, err := DecryptSecret(encrypted, validKey)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("should fail with the wrong key", func(t *testing.T) {
		encrypted, err := EncryptSecret("secret", validKey)
		require.NoError(t, err)

		otherKey := []byte("99999999999999999999999999999999")
		_, err = DecryptSecret(encrypted, otherKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("should fail on tampered ciphertext", func(t *testing.T) {
		encrypted, err := EncryptSecret("secret", validKey)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(encrypted)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString(raw)

		_, err = DecryptSecret(tampered, validKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("should fail on truncated input", func(t *testing.T) {
		_, err := DecryptSecret(base64.StdEncoding.EncodeToString([]byte("tiny")), validKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("should fail on invalid base64", func(t *testing.T) {
		_, err := DecryptSecret("not-base64!!!", validKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

// TestDeriveEncryptionKey tests key derivation determinism.
func TestDeriveEncryptionKey(t *testing.T) {
	t.Run("should be deterministic for the same material", func(t *testing.T) {
		key1 := DeriveEncryptionKey("server-key-material")
		key2 := DeriveEncryptionKey("server-key-material")

		assert.Equal(t, key1, key2)
		assert.Len(t, key1, 32)
	})

	t.Run("should differ for different material", func(t *testing.T) {
		key1 := DeriveEncryptionKey("material-one")
		key2 := DeriveEncryptionKey("material-two")

		assert.NotEqual(t, key1, key2)
	})

	t.Run("derived key should work for encryption", func(t *testing.T) {
		key := DeriveEncryptionKey("some-configured-material")

		encrypted, err := EncryptSecret("payload", key)
		require.NoError(t, err)

		decrypted, err := DecryptSecret(encrypted, key)
		require.NoError(t, err)
		assert.Equal(t, "payload", decrypted)
	})
}

// TestHashCode tests the salted digest used for backup and email codes.
func TestHashCode(t *testing.T) {
	t.Run("same code and salt should produce the same digest", func(t *testing.T) {
		assert.Equal(t, HashCode("123456", "salt"), HashCode("123456", "salt"))
	})

	t.Run("different salts should produce different digests", func(t *testing.T) {
		assert.NotEqual(t, HashCode("123456", "salt-a"), HashCode("123456", "salt-b"))
	})

	t.Run("VerifyCodeHash matches only the original code", func(t *testing.T) {
		digest := HashCode("a1b2c3d4", "salt")

		assert.True(t, VerifyCodeHash("a1b2c3d4", "salt", digest))
		assert.False(t, VerifyCodeHash("a1b2c3d5", "salt", digest))
		assert.False(t, VerifyCodeHash("a1b2c3d4", "other-salt", digest))
	})
}
