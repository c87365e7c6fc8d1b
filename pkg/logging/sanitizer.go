package logging

import (
	"regexp"
)

// RedactedText replaces sensitive fragments before anything hits a log.
const RedactedText = "[REDACTED]"

var (
	// user:pass@host credentials inside source URIs.
	uriCredentialsPattern = regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`)

	// password=... style fragments in key=value connection strings.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=... style fragments.
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token)=[A-Za-z0-9-_]{8,}`)
)

// SanitizeURI strips credentials from a registered source URI so it can
// be logged or echoed back to the user.
func SanitizeURI(uri string) string {
	if uri == "" {
		return ""
	}
	sanitized := uriCredentialsPattern.ReplaceAllString(uri, "://"+RedactedText+"@")
	return passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// SanitizeError scrubs an error message that may carry connection
// details from a failed source or mirror operation.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := uriCredentialsPattern.ReplaceAllString(err.Error(), "://"+RedactedText+"@")
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}
