package middlewares

import (
	"net/http"

	"homevault/internal/configuration"
	"homevault/internal/helpers"
	"homevault/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MFAValidate catches stale full-session tokens. A token minted before the
// user enrolled their first method still carries mfa=false; once an enabled
// method exists in the database that token must not open the application
// surface anymore. The MFA routes stay reachable so the session can be
// re-proven.
//
// Applied after Authenticate and AudienceValidate; the elevation token never
// reaches here with an application route because its audience already failed.
func MFAValidate(db *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if excluded, _ := r.Context().Value(AuthExcludedKey{}).(bool); excluded {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := r.Context().Value(models.UserClaimKey{}).(models.UserClaims)
			if !ok {
				helpers.RespondWithError(w, 403, []string{"FORBIDDEN"})
				return
			}

			if claims.Aud != configuration.AudienceAccessToken {
				next.ServeHTTP(w, r)
				return
			}

			if claims.MFA {
				next.ServeHTTP(w, r)
				return
			}

			if isMFABypassPath(r.URL.Path, r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if db != nil && userHasMFAEnabled(db, claims.UserID) {
				helpers.RespondWithError(w, 403, []string{"FORBIDDEN"})
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func userHasMFAEnabled(db *gorm.DB, userID uuid.UUID) bool {
	var count int64
	db.Model(&models.MfaMethod{}).
		Where("user_id = ? AND enabled = ?", userID, true).
		Count(&count)
	return count > 0
}

func isMFABypassPath(path, method string) bool {
	for _, rule := range configuration.MFABypassRules {
		if rule.Method != "*" && rule.Method != method {
			continue
		}

		if (rule.ExactPath != "" && rule.ExactPath == path) || (rule.Pattern != nil && rule.Pattern.MatchString(path)) {
			return true
		}
	}
	return false
}
