package configuration

import "regexp"

type AuthRule struct {
	Path        string
	Method      string // empty means all methods
	RequireAuth bool   // true means require auth, false means exclude from auth
}

var AuthRulePrefixMatchPath = []AuthRule{
	{Path: "/api/v1/auth", Method: "*", RequireAuth: false},
	{Path: "/api/v1/mfa", Method: "*", RequireAuth: true},
	{Path: "/api/v1/users", Method: "*", RequireAuth: true},
}

var AuthRuleExactMatchPath = map[string][]AuthRule{}

// AudienceRule lists the token audiences a route accepts beyond the default
// full access token.
type AudienceRule struct {
	ExactPath        string
	Pattern          *regexp.Regexp
	Method           string
	AllowedAudiences []string
}

// Routes reachable while still in the elevation state (restricted token).
// The restricted audience can list, enroll and verify methods so a user who
// is forced into MFA setup at login can complete it, and can submit the
// second-factor proof itself.
// BypassRule marks routes a full access token may reach even when its mfa
// claim has gone stale (the user enrolled a method after the token was
// minted).
type BypassRule struct {
	ExactPath string
	Pattern   *regexp.Regexp
	Method    string
}

var MFABypassRules = []BypassRule{
	{Pattern: regexp.MustCompile(`^/api/v1/mfa(/.*)?$`), Method: "*"},
}

var AuthAudienceRules = []AudienceRule{
	{
		ExactPath:        "/api/v1/mfa/methods",
		Method:           "GET",
		AllowedAudiences: []string{AudienceAccessToken, AudienceMFALogin},
	},
	{
		ExactPath:        "/api/v1/mfa/methods",
		Method:           "POST",
		AllowedAudiences: []string{AudienceAccessToken, AudienceMFALogin},
	},
	{
		Pattern:          regexp.MustCompile(`^/api/v1/mfa/methods/[^/]+/(verify|challenge)$`),
		Method:           "POST",
		AllowedAudiences: []string{AudienceAccessToken, AudienceMFALogin},
	},
	{
		ExactPath:        "/api/v1/mfa/verify",
		Method:           "POST",
		AllowedAudiences: []string{AudienceMFALogin},
	},
	{
		Pattern:          regexp.MustCompile(`^/api/v1/mfa/passkeys/(begin|finish)$`),
		Method:           "POST",
		AllowedAudiences: []string{AudienceMFALogin},
	},
}
