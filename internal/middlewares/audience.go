package middlewares

import (
	"net/http"

	"homevault/internal/configuration"
	"homevault/internal/helpers"
	"homevault/internal/models"
)

// AudienceValidate checks that the token's audience claim fits the route.
// Applied after Authenticate.
//
// Routes with an explicit entry in AuthAudienceRules accept the audiences
// the entry lists; every other authenticated route demands the full access
// token. This is what scopes the elevation token down to the MFA surface.
func AudienceValidate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if excluded, _ := r.Context().Value(AuthExcludedKey{}).(bool); excluded {
			next.ServeHTTP(w, r)
			return
		}

		claims, ok := r.Context().Value(models.UserClaimKey{}).(models.UserClaims)
		if !ok {
			helpers.RespondWithError(w, 403, []string{"FORBIDDEN"})
			return
		}

		allowedAudiences := getRouteAllowedAudiences(r.URL.Path, r.Method)

		if allowedAudiences != nil {
			if !isAudienceInList(claims.Aud, allowedAudiences) {
				helpers.RespondWithError(w, 403, []string{"FORBIDDEN"})
				return
			}
		} else {
			if claims.Aud != configuration.AudienceAccessToken {
				helpers.RespondWithError(w, 403, []string{"FORBIDDEN"})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func getRouteAllowedAudiences(path, method string) []string {
	for _, rule := range configuration.AuthAudienceRules {
		if rule.Method != "*" && rule.Method != method {
			continue
		}

		if (rule.ExactPath != "" && rule.ExactPath == path) || (rule.Pattern != nil && rule.Pattern.MatchString(path)) {
			return rule.AllowedAudiences
		}
	}
	return nil
}

func isAudienceInList(audience string, allowedAudiences []string) bool {
	for _, allowed := range allowedAudiences {
		if audience == allowed {
			return true
		}
	}
	return false
}
