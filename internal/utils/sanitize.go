package utils

import (
	"net/url"
	"strings"
)

const redacted = "*****"

// SanitizeConnectionString removes credentials from connection strings for safe logging
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	for _, scheme := range []string{"redis://", "rediss://", "mongodb://", "mongodb+srv://"} {
		if strings.HasPrefix(connStr, scheme) {
			return redactURLPassword(connStr)
		}
	}

	// For unknown formats, redact anything between the last ':' and '@'
	if strings.Contains(connStr, "@") {
		parts := strings.Split(connStr, "@")
		userPart := parts[0]
		if colonIdx := strings.LastIndex(userPart, ":"); colonIdx != -1 {
			return userPart[:colonIdx+1] + redacted + "@" + strings.Join(parts[1:], "@")
		}
	}

	return connStr
}

func redactURLPassword(connStr string) string {
	parsedURL, err := url.Parse(connStr)
	if err != nil {
		// If parsing fails, redact the whole thing after the scheme
		if scheme, _, ok := strings.Cut(connStr, "://"); ok {
			return scheme + "://" + redacted
		}
		return redacted
	}
	if parsedURL.User != nil {
		parsedURL.User = url.UserPassword(parsedURL.User.Username(), redacted)
	}
	return parsedURL.String()
}

// KeyHint returns the last four characters of an SDK key, the part that may
// be sent in headers and logs.
func KeyHint(sdkKey string) string {
	if len(sdkKey) <= 4 {
		return sdkKey
	}
	return sdkKey[len(sdkKey)-4:]
}

// SanitizeStreamingURL masks the accessToken query parameter.
func SanitizeStreamingURL(rawURL string) string {
	base, query, ok := strings.Cut(rawURL, "?")
	if !ok {
		return rawURL
	}
	params := strings.Split(query, "&")
	for i, p := range params {
		if strings.HasPrefix(p, "accessToken=") {
			params[i] = "accessToken=" + redacted
		}
	}
	return base + "?" + strings.Join(params, "&")
}
