package activity

import (
	"strconv"
	"time"

	"homevault/internal/models"
)

// IActivityLogger defines a common interface for all logs.
type IActivityLogger interface {
	Search(searchCriteria map[string][]string) ([]map[string]interface{}, error)
	Send(message models.Activity) error
	CountByDay(searchCriteria map[string][]string, days int) ([]models.TimeSeriesPoint, error)
	Close() error
}

// Activity messages indexed for the audit trail.
const (
	UserLoggedIn            = "User logged in"
	UserLoginElevated       = "User passed second factor verification"
	SecondFactorReplay      = "Second factor replay detected"
	MethodEnrollmentStarted = "MFA method enrollment started"
	MethodEnrolled          = "MFA method enrolled"
	MethodRemoved           = "MFA method removed"
	MFADisabled             = "MFA disabled for user"
	EmailCodeIssued         = "Email verification code issued"
	UnverifiedMethodCleaned = "Unverified MFA method cleaned up"
)

// objectTypes whose full JSON snapshot may be stored alongside the entry.
// Anything else gets filter fields only.
var authorizedObjectTypes = map[string]bool{
	"user":       true,
	"mfa_method": true,
}

func isAuthorizedObject(objectType string) bool {
	return authorizedObjectTypes[objectType]
}

// NewLogFilter builds a LogFilter stamped with the current time in unix
// nanoseconds, which is the timestamp format the indexers expect.
func NewLogFilter(fields map[string]string) models.LogFilter {
	return models.LogFilter{
		Timestamp: strconv.FormatInt(time.Now().UnixNano(), 10),
		Fields:    fields,
	}
}
