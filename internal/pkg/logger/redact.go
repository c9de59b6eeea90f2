package logger

import "strings"

// RedactEmail keeps the first two characters of the local part and the
// domain: "ops.team@example.com" becomes "op***@example.com". Local parts of
// two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

// RedactSecret keeps only the last four characters of a credential.
func RedactSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
