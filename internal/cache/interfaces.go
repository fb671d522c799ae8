package cache

import "time"

// ICache is the ephemeral TTL-backed key-value store. Ceremony sessions and
// emailed one-time codes live here, never in the durable user record.
type ICache interface {
	RegisterPlatform(id string) error
	DeleteInactivePlatform() error
	StartIdentityTicker(id string)

	GetRateLimit(userIdentifier string, requestsPerMinute int) (int, error)

	// SetWithTTL stores value at key, overwriting any previous value. An
	// overwrite invalidates whatever was stored before, which is exactly the
	// re-issue semantics email codes need.
	SetWithTTL(key string, value string, ttl time.Duration) error
	// Get returns ("", false, nil) when the key is absent or expired.
	Get(key string) (string, bool, error)
	// ConsumeOnce atomically reads and deletes key. Of two concurrent
	// consumers at most one observes the value; the other gets found=false.
	ConsumeOnce(key string) (string, bool, error)
	// CompareAndDelete deletes key only when its stored value equals
	// expected, reporting whether it matched. A mismatch leaves the stored
	// value in place. Of two concurrent matching callers at most one
	// observes true.
	CompareAndDelete(key string, expected string) (bool, error)
	Delete(key string) error

	// TryAcquireLock attempts to acquire a distributed lock using SET NX EX.
	TryAcquireLock(key string, instanceID string, ttlSeconds int) (bool, error)
	// RefreshLock extends the TTL of an existing lock if held by this instance.
	RefreshLock(key string, instanceID string, ttlSeconds int) (bool, error)

	Close() error
}
