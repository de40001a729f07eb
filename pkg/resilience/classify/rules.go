package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule maps a class of raw failures to a classification. Rules are
// evaluated in descending priority; the first match wins outright and
// is never blended with lower-priority matches.
type Rule struct {
	// Name identifies the rule in logs and metrics.
	Name string

	// Priority orders evaluation. Higher runs first.
	Priority int

	// MessagePattern matches against the failure message, if set.
	MessagePattern *regexp.Regexp

	// CodePattern matches against an extracted error code, if set.
	CodePattern *regexp.Regexp

	// StatusCode matches an exact HTTP status, if nonzero.
	StatusCode int

	// Predicate is an optional custom matcher. When set it must pass
	// in addition to any configured patterns.
	Predicate func(err error, ectx *Context) bool

	// Classification output.
	Type           Type
	Severity       Severity
	Recoverability Recoverability
	Confidence     float64
	Category       string
}

// matches reports whether every configured matcher on the rule passes.
// A rule with no matchers never matches.
func (r *Rule) matches(err error, msg, code string, status int, ectx *Context) bool {
	matched := false

	if r.MessagePattern != nil {
		if !r.MessagePattern.MatchString(msg) {
			return false
		}
		matched = true
	}
	if r.CodePattern != nil {
		if !r.CodePattern.MatchString(code) {
			return false
		}
		matched = true
	}
	if r.StatusCode != 0 {
		if status != r.StatusCode {
			return false
		}
		matched = true
	}
	if r.Predicate != nil {
		if !r.Predicate(err, ectx) {
			return false
		}
		matched = true
	}

	return matched
}

// defaultRules is the built-in prioritized rule set. Hosts can extend
// it via Classifier.AddRule.
func defaultRules() []Rule {
	return []Rule{
		{
			Name:           "connection-refused",
			Priority:       100,
			CodePattern:    regexp.MustCompile(`^ECONN(REFUSED|RESET|ABORTED)$`),
			Type:           TypeNetwork,
			Severity:       SeverityMedium,
			Recoverability: RecoverabilityTransient,
			Confidence:     0.95,
			Category:       "connectivity",
		},
		{
			Name:           "dns-failure",
			Priority:       95,
			MessagePattern: regexp.MustCompile(`(?i)(no such host|dns|name resolution)`),
			Type:           TypeNetwork,
			Severity:       SeverityMedium,
			Recoverability: RecoverabilityTransient,
			Confidence:     0.9,
			Category:       "connectivity",
		},
		{
			Name:           "rate-limited",
			Priority:       90,
			MessagePattern: regexp.MustCompile(`(?i)(rate limit|too many requests|quota exceeded)`),
			Type:           TypeRateLimit,
			Severity:       SeverityMedium,
			Recoverability: RecoverabilityTransient,
			Confidence:     0.9,
			Category:       "throttling",
		},
		{
			Name:           "auth-expired",
			Priority:       85,
			MessagePattern: regexp.MustCompile(`(?i)(token expired|session expired|unauthenticated|invalid credentials)`),
			Type:           TypeAuthentication,
			Severity:       SeverityHigh,
			Recoverability: RecoverabilityRecoverable,
			Confidence:     0.9,
			Category:       "auth",
		},
		{
			Name:           "forbidden",
			Priority:       80,
			MessagePattern: regexp.MustCompile(`(?i)(forbidden|access denied|not authorized|permission denied)`),
			Type:           TypeAuthorization,
			Severity:       SeverityHigh,
			Recoverability: RecoverabilityPermanent,
			Confidence:     0.85,
			Category:       "auth",
		},
		{
			Name:           "malformed-payload",
			Priority:       70,
			MessagePattern: regexp.MustCompile(`(?i)(unmarshal|invalid json|unexpected token|malformed|parse error)`),
			Type:           TypeData,
			Severity:       SeverityMedium,
			Recoverability: RecoverabilityPermanent,
			Confidence:     0.8,
			Category:       "payload",
		},
		{
			Name:           "validation-failed",
			Priority:       65,
			MessagePattern: regexp.MustCompile(`(?i)(validation failed|invalid (query|argument|parameter)|missing required)`),
			Type:           TypeValidation,
			Severity:       SeverityLow,
			Recoverability: RecoverabilityPermanent,
			Confidence:     0.85,
			Category:       "input",
		},
		{
			Name:           "security-violation",
			Priority:       60,
			MessagePattern: regexp.MustCompile(`(?i)(csp violation|blocked by security|xss|injection)`),
			Type:           TypeSecurity,
			Severity:       SeverityCritical,
			Recoverability: RecoverabilityPermanent,
			Confidence:     0.9,
			Category:       "security",
		},
		{
			Name:           "misconfiguration",
			Priority:       55,
			MessagePattern: regexp.MustCompile(`(?i)(misconfigur|invalid config|missing config|no adapter registered)`),
			Type:           TypeConfiguration,
			Severity:       SeverityHigh,
			Recoverability: RecoverabilityPermanent,
			Confidence:     0.85,
			Category:       "config",
		},
	}
}

// extractStatusCode pulls an HTTP status code out of an error message.
// Returns 0 when no plausible code is present. Handles forms like
// "HTTP 503", "status: 429" and "status code 404".
func extractStatusCode(msg string) int {
	lower := strings.ToLower(msg)
	for _, prefix := range []string{"http ", "http: ", "status code ", "status ", "status: "} {
		idx := strings.Index(lower, prefix)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(lower[idx+len(prefix):])
		if sp := strings.IndexByte(rest, ' '); sp > 0 {
			rest = rest[:sp]
		}
		rest = strings.TrimRight(rest, ".,:;)")
		if code, err := strconv.Atoi(rest); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}

// extractCode pulls a symbolic error code (ECONNREFUSED, ETIMEDOUT, ...)
// out of an error message.
var codePattern = regexp.MustCompile(`\bE[A-Z]{2,}\b`)

func extractCode(msg string) string {
	return codePattern.FindString(msg)
}
