package configuration

const AppName = "homevault"

// JWT Audience constants for token type separation.
const (
	AudienceAccessToken  = "app:*"
	AudienceRefreshToken = "auth:refresh"
	AudienceMFALogin     = "auth:mfa:login"
)

const (
	CacheMaxAppIdentityLifetime = 60
	CacheAppIdentityKey         = "app:identity"
	CacheAppRateLimitKey        = "app:ratelimit:%s"
	CacheAppWorkerLockKey       = "app:worker:lock:%s" //nolint:gosec // not a credential
	CacheAppWorkerLockTTL       = 60
	CacheAppWorkerLockRefresh   = 55
	CacheEmailCodeKey           = "otp:email:%s:%s"
	CachePasskeySessionKey      = "passkey:session:%s"
	CacheTOTPUsedKey            = "totp:used:%s:%s"
	CacheTOTPUsedTTLSeconds     = 95
)

const (
	// MaxMethodsPerUser is the maximum number of enrolled second-factor methods per user.
	MaxMethodsPerUser = 10
	// EmailCodeTTLMinutes is how long an emailed one-time code stays valid.
	EmailCodeTTLMinutes = 10
	// PasskeySessionTTLMinutes bounds a registration or assertion ceremony.
	PasskeySessionTTLMinutes = 5
	// KeyDerivationIterations is the PBKDF2 round count for the secret codec.
	KeyDerivationIterations = 100_000
	// BackupCodeCount is the number of single-use codes issued at TOTP setup.
	BackupCodeCount = 8
	// UnverifiedMethodMaxAgeHours is how long an abandoned, never-enabled
	// method survives before the cleanup worker removes it.
	UnverifiedMethodMaxAgeHours = 24
)

const EventsNotifications = "notifications"

var ArrayConfigFields = []string{
	"app.trusted_proxies",
	"app.allowed_origins",
	"cache.redis.hosts",
	"cache.valkey.hosts",
}

var ConfigFileSearchPaths = []string{
	"./config.yaml",
	"templates/config.yaml",
}
