package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	c "homevault/internal/cache"
	"homevault/internal/configuration"
	h "homevault/internal/helpers"
	"homevault/internal/notifier"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotifierUnavailable means the code could not be delivered; nothing was
// issued and the caller should surface a retryable failure.
var ErrNotifierUnavailable = errors.New("notifier unavailable")

const codeDigits = 6

// Engine issues and verifies emailed one-time codes. Only a salted digest of
// the code is ever stored; a matching verification consumes it, a mismatch
// leaves it in place until its TTL.
type Engine struct {
	cache    c.ICache
	notifier notifier.INotifier
	hashSalt string
}

func NewEngine(cache c.ICache, n notifier.INotifier, hashSalt string) *Engine {
	return &Engine{cache: cache, notifier: n, hashSalt: hashSalt}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

func (e *Engine) cacheKey(userID, methodID uuid.UUID) string {
	return fmt.Sprintf(configuration.CacheEmailCodeKey, userID, methodID)
}

// Issue generates a fresh code, stores its digest under a TTL and mails it.
// Storing overwrites any previous digest, so re-issuing always invalidates
// the code sent before. A delivery failure rolls the stored digest back and
// returns ErrNotifierUnavailable.
func (e *Engine) Issue(userID, methodID uuid.UUID, emailAddress string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}

	key := e.cacheKey(userID, methodID)
	digest := h.HashCode(code, e.hashSalt)
	ttl := time.Duration(configuration.EmailCodeTTLMinutes) * time.Minute

	if err = e.cache.SetWithTTL(key, digest, ttl); err != nil {
		return fmt.Errorf("failed to store code digest: %w", err)
	}

	err = e.notifier.NotifyFromTemplate(
		emailAddress,
		"Your verification code",
		"email_code",
		map[string]string{
			"code":           code,
			"expiry_minutes": fmt.Sprintf("%d", configuration.EmailCodeTTLMinutes),
		},
	)
	if err != nil {
		zap.L().Error("Failed to deliver email code",
			zap.String("user_id", userID.String()),
			zap.String("method_id", methodID.String()),
			zap.Error(err),
		)
		if deleteErr := e.cache.Delete(key); deleteErr != nil {
			zap.L().Error("Failed to roll back undelivered code", zap.Error(deleteErr))
		}
		return ErrNotifierUnavailable
	}

	return nil
}

// Verify compares the submitted code's digest against the stored one and
// deletes the stored digest only on a match. A wrong guess leaves the issued
// code intact until its TTL; a correct code survives exactly one
// verification even under concurrent attempts.
func (e *Engine) Verify(userID, methodID uuid.UUID, code string) (bool, error) {
	digest := h.HashCode(code, e.hashSalt)
	matched, err := e.cache.CompareAndDelete(e.cacheKey(userID, methodID), digest)
	if err != nil {
		return false, fmt.Errorf("failed to verify code digest: %w", err)
	}
	return matched, nil
}
