package bridge

import (
	"net/http"
	"strings"
)

// The portal's login and result endpoints are undocumented; outcome
// classification is best-effort text sniffing of their HTML responses.
// Keeping the checks as an ordered rule list makes the policy explicit:
// rules are evaluated top to bottom and the first match wins, falling
// through to a generic outcome rather than failing on unexpected bodies.

// LoginOutcome is the classified result of a login submission.
type LoginOutcome int

const (
	// LoginSuccess: the portal redirected (or pointed) to student home.
	LoginSuccess LoginOutcome = iota
	// LoginInvalidCaptcha: the captcha answer was rejected.
	LoginInvalidCaptcha
	// LoginInvalidCredentials: username/password rejected.
	LoginInvalidCredentials
	// LoginFailed: upstream behavior not recognized.
	LoginFailed
)

// loginResponse is the subset of an upstream login response the rules see.
type loginResponse struct {
	status   int
	location string
	body     string
}

type loginRule struct {
	outcome LoginOutcome
	match   func(loginResponse) bool
}

const studentHomeMarker = "studenthome"

var loginRules = []loginRule{
	{
		outcome: LoginSuccess,
		match: func(r loginResponse) bool {
			return strings.Contains(r.location, studentHomeMarker) ||
				r.status == http.StatusFound ||
				strings.Contains(r.body, studentHomeMarker)
		},
	},
	{
		outcome: LoginInvalidCaptcha,
		match: func(r loginResponse) bool {
			return strings.Contains(r.body, "Captcha validation fails")
		},
	},
	{
		outcome: LoginInvalidCredentials,
		match: func(r loginResponse) bool {
			return strings.Contains(r.body, "Invalid") || strings.Contains(r.body, "incorrect")
		},
	},
}

// classifyLogin evaluates the login rules in priority order.
func classifyLogin(r loginResponse) LoginOutcome {
	for _, rule := range loginRules {
		if rule.match(r) {
			return rule.outcome
		}
	}
	return LoginFailed
}

// isLoginPage reports whether a results response is actually the portal's
// login page. The portal sometimes returns HTTP 200 with a login page body
// instead of an auth-failure status, so the body markers apply regardless of
// the declared status code.
func isLoginPage(status int, body string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	if strings.Contains(body, "StudentLogin.jsp") || strings.Contains(body, "login.jsp") {
		return true
	}
	return strings.Contains(body, "<form") && strings.Contains(body, "password")
}
