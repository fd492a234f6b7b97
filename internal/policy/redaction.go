package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	urlCredentialPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.\-]*://)[^/@\s]+@`)
	passwordKVPattern    = regexp.MustCompile(`(?i)\b(password|passwd|pwd)=\S+`)
	emailPattern         = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

const maxDetailRunes = 300

// RedactSecrets masks credentials that tend to leak through driver and
// transport error strings (connection-string userinfo, password=... pairs, emails).
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	// Userinfo must go first or the email pattern eats "user:pass@host".
	next := urlCredentialPattern.ReplaceAllString(out, "${1}[REDACTED]@")
	changed = changed || next != out
	out = next

	next = passwordKVPattern.ReplaceAllString(out, "${1}=[REDACTED]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	return out, changed
}

// SanitizeDetail prepares an internal error string for untrusted callers.
func SanitizeDetail(detail string) string {
	out, _ := RedactSecrets(strings.TrimSpace(detail))
	if utf8.RuneCountInString(out) <= maxDetailRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxDetailRunes]) + "..."
}
