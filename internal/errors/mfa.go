package apierrors

// Second-factor error codes. INVALID_SECOND_FACTOR is deliberately generic:
// a wrong code, a bad signature and a near-miss backup code all surface
// identically so enrolled methods cannot be enumerated. Replay detection is
// logged server-side but shares the same outward code.
const (
	ErrServiceDisabled       = "SERVICE_DISABLED"
	ErrMethodNotFound        = "MFA_METHOD_NOT_FOUND"
	ErrMethodAlreadyEnabled  = "METHOD_ALREADY_ENABLED"
	ErrInvalidCodeFormat     = "INVALID_CODE_FORMAT"
	ErrInvalidSecondFactor   = "INVALID_SECOND_FACTOR"
	ErrChallengeExpired      = "CHALLENGE_EXPIRED_OR_MISMATCHED"
	ErrDecryptionFailed      = "DECRYPTION_FAILED"
	ErrNotifierUnavailable   = "NOTIFIER_UNAVAILABLE"
)

// HTTP 409; the losing side of a concurrent mutation on the same user should
// retry the whole operation once.
const ErrConflictRetry = "CONFLICT_RETRY"
