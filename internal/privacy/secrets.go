// Package privacy scrubs credentials from feedback before it is stored or
// published.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces the value of a redacted credential.
const Marker = "[REDACTED]"

type rule struct {
	name    string
	pattern *regexp.Regexp
}

// Order matters: the more specific provider prefixes run before the generic ones.
var rules = []rule{
	{"anthropic_key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`)},
	{"openai_key", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)},
	{"github_token", regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}|github_pat_[a-zA-Z0-9_]{22,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`)},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_.-]{20,}`)},
	{"redis_password", regexp.MustCompile(`rediss?://[^:@/\s]*:[^@/\s]+@`)},
	{"assignment", regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|secret[_-]?token|auth[_-]?token|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`)},
}

// Redact replaces credentials in text and reports which kinds were found.
// Assignments keep their key, so "password=hunter22" becomes "password=[REDACTED]".
func Redact(text string) (string, []string) {
	if text == "" {
		return text, nil
	}

	var found []string
	for _, r := range rules {
		if !r.pattern.MatchString(text) {
			continue
		}
		found = append(found, r.name)
		text = r.pattern.ReplaceAllStringFunc(text, func(match string) string {
			return mask(r.name, match)
		})
	}
	return text, found
}

// ContainsSecrets reports whether Redact would change text.
func ContainsSecrets(text string) bool {
	_, found := Redact(text)
	return len(found) > 0
}

func mask(kind, match string) string {
	switch kind {
	case "assignment":
		if i := strings.IndexAny(match, ":="); i >= 0 {
			return match[:i+1] + Marker
		}
	case "redis_password":
		// The user part has no colon, so the first one after the scheme separates the password.
		start := strings.Index(match, "://") + len("://")
		i := start + strings.Index(match[start:], ":")
		return match[:i+1] + Marker + "@"
	case "bearer":
		return match[:len("bearer")] + " " + Marker
	}
	if len(match) > 8 {
		return match[:4] + "..." + Marker
	}
	return Marker
}
