package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Keys that are safe to log verbatim. Matching ignores case.
var plainKeys = map[string]bool{
	"service":   true,
	"env":       true,
	"component": true,
	"orderid":   true,
	"seller":    true,
	"buyer":     true,
	"owner":     true,
	"account":   true,
	"caller":    true,
	"amount":    true,
	"pair":      true,
	"requestid": true,
}

// MaskField logs value under key, redacted unless key is known to be safe.
// Empty values pass through so missing settings stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN hides the password in a URL-style connection string. Anything else
// is returned unchanged.
func MaskDSN(dsn string) string {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || parsed.User == nil {
		return dsn
	}
	if _, ok := parsed.User.Password(); !ok {
		return dsn
	}
	parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	return parsed.String()
}
