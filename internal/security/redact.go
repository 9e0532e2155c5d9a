// Package security masks credentials in logs and error text and validates
// user input before it reaches the store.
package security

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveParams are query parameters whose values are never logged.
var sensitiveParams = map[string]bool{
	"apikey":       true,
	"api_key":      true,
	"key":          true,
	"token":        true,
	"access_token": true,
	"password":     true,
	"secret":       true,
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer|password)([=:\s]+["']?)([^\s"'&]+)`),
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),  // OpenAI keys
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), // Google API keys
	regexp.MustCompile(`/bot\d+:[A-Za-z0-9_\-]+`), // Telegram bot URLs
}

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every credential pattern found in s.
func Redact(s string) string {
	for i, pattern := range sensitivePatterns {
		if i == 0 {
			s = pattern.ReplaceAllStringFunc(s, func(match string) string {
				m := pattern.FindStringSubmatch(match)
				return m[1] + m[2] + MaskCredential(m[3])
			})
			continue
		}
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			if strings.HasPrefix(match, "/bot") {
				return "/bot" + MaskCredential(match[4:])
			}
			return MaskCredential(match)
		})
	}
	return s
}

// RedactURL masks sensitive query parameters and bot tokens in a URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	if q := u.Query(); len(q) > 0 {
		for k, vs := range q {
			if !sensitiveParams[strings.ToLower(k)] {
				continue
			}
			for i := range vs {
				vs[i] = MaskCredential(vs[i])
			}
		}
		u.RawQuery = q.Encode()
	}
	u.User = nil
	u.Path = Redact(u.Path)
	u.RawPath = ""
	return u.String()
}

// ScrubError removes credentials from the URL carried by a *url.Error in
// err's chain. The chain itself is preserved so errors.Is keeps working.
func ScrubError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return err
}
