package logagg

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// Replacement rewrites matches of Pattern to Text.
type Replacement struct {
	Pattern *regexp.Regexp
	Text    string
}

// Sensitive-value patterns removed outright. Key-value forms catch
// the secret next to its label; the bare forms catch card numbers,
// SSNs, and email addresses anywhere in the text.
var defaultRemovalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password["']?\s*[=:]\s*["']?\S+`),
	regexp.MustCompile(`(?i)token["']?\s*[=:]\s*["']?\S+`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret)["']?\s*[=:]\s*["']?\S+`),
	regexp.MustCompile(`(?i)authorization:\s*\S+(\s+\S+)?`),
	regexp.MustCompile(`(?i)cookie:\s*\S+`),
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`),
}

var defaultReplacements = []Replacement{
	{Pattern: regexp.MustCompile(`(?i)\bpassword\b`), Text: "[PASSWORD]"},
	{Pattern: regexp.MustCompile(`(?i)\btoken\b`), Text: "[TOKEN]"},
	{Pattern: regexp.MustCompile(`(?i)\bsecret\b`), Text: "[SECRET]"},
}

// PII patterns applied only when user-data inclusion is disabled.
var defaultPIIPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),
	regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}\b`),
	regexp.MustCompile(`(?i)\b\d+\s+[a-z]+\s+(street|st|avenue|ave|road|rd|lane|ln|drive|dr)\b`),
}

// defaultSafeMetadataKeys is the metadata allowlist carried into
// sanitized context.
var defaultSafeMetadataKeys = []string{
	"feature", "component", "locale", "page", "query_length", "result_count",
}

// maxStackFrames bounds sanitized stack traces.
const maxStackFrames = 10

// Sanitizer scrubs secrets and PII from messages, stacks, and
// context before entries leave the process.
type Sanitizer struct {
	removal         []*regexp.Regexp
	replacements    []Replacement
	pii             []*regexp.Regexp
	includeUserData bool
	safeKeys        map[string]bool
}

// NewSanitizer creates a sanitizer with the default pattern set.
// When includeUserData is false, PII patterns are applied and user
// and session identifiers are dropped from context.
func NewSanitizer(includeUserData bool) *Sanitizer {
	s := &Sanitizer{
		removal:         defaultRemovalPatterns,
		replacements:    defaultReplacements,
		pii:             defaultPIIPatterns,
		includeUserData: includeUserData,
		safeKeys:        make(map[string]bool, len(defaultSafeMetadataKeys)),
	}
	for _, k := range defaultSafeMetadataKeys {
		s.safeKeys[k] = true
	}
	return s
}

// AddRemovalPattern appends a host-defined removal pattern.
func (s *Sanitizer) AddRemovalPattern(p *regexp.Regexp) {
	s.removal = append(s.removal, p)
}

// AddReplacement appends a host-defined replacement.
func (s *Sanitizer) AddReplacement(r Replacement) {
	s.replacements = append(s.replacements, r)
}

// AllowMetadataKey extends the metadata safe-key allowlist.
func (s *Sanitizer) AllowMetadataKey(key string) {
	s.safeKeys[key] = true
}

// SanitizeMessage applies removal patterns, then replacements, then
// (when user data is excluded) PII patterns.
func (s *Sanitizer) SanitizeMessage(msg string) string {
	for _, p := range s.removal {
		msg = p.ReplaceAllString(msg, "[REMOVED]")
	}
	for _, r := range s.replacements {
		msg = r.Pattern.ReplaceAllString(msg, r.Text)
	}
	if !s.includeUserData {
		for _, p := range s.pii {
			msg = p.ReplaceAllString(msg, "[PII]")
		}
	}
	return msg
}

// SanitizeStack sanitizes a stack trace line by line and truncates it
// to at most ten frames.
func (s *Sanitizer) SanitizeStack(stack string) []string {
	if stack == "" {
		return nil
	}
	lines := strings.Split(stack, "\n")
	frames := make([]string, 0, maxStackFrames)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		frames = append(frames, s.SanitizeMessage(line))
		if len(frames) == maxStackFrames {
			break
		}
	}
	return frames
}

// SanitizeContext copies the whitelisted safe field set out of the
// caller-owned context. The original context is never mutated.
func (s *Sanitizer) SanitizeContext(ectx *classify.Context) map[string]any {
	if ectx == nil {
		return nil
	}

	out := make(map[string]any)
	if ectx.Adapter != "" {
		out["adapter"] = ectx.Adapter
	}
	if ectx.Operation != "" {
		out["operation"] = ectx.Operation
	}
	if ectx.OperationDuration > 0 {
		out["operation_duration_ms"] = ectx.OperationDuration.Milliseconds()
	}
	if ectx.RetryCount > 0 {
		out["retry_count"] = ectx.RetryCount
	}
	if ectx.Environment != "" {
		out["environment"] = ectx.Environment
	}
	if ectx.Version != "" {
		out["version"] = ectx.Version
	}
	if ectx.RequestMethod != "" {
		out["request_method"] = ectx.RequestMethod
	}
	if ectx.RequestURL != "" {
		out["request_url"] = pathOnly(ectx.RequestURL)
	}
	if ectx.StatusCode != 0 {
		out["status_code"] = ectx.StatusCode
	}
	if s.includeUserData {
		if ectx.UserID != "" {
			out["user_id"] = ectx.UserID
		}
		if ectx.SessionID != "" {
			out["session_id"] = ectx.SessionID
		}
	}

	for key, value := range ectx.Metadata {
		if !s.safeKeys[key] {
			continue
		}
		if str, ok := value.(string); ok {
			out["meta_"+key] = s.SanitizeMessage(str)
			continue
		}
		out["meta_"+key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// pathOnly strips scheme, host, query, and fragment from a URL,
// keeping only the path.
func pathOnly(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "[URL]"
	}
	return u.Path
}
