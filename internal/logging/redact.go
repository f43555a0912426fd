package logging

import "regexp"

// Placeholder replaces redacted secret material in log lines.
const Placeholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	bearerTokenPattern       = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:auth[_-]?token|api[_-]?key|access[_-]?token|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
)

// Redact removes bearer tokens and credential-looking key/value pairs from a
// log line. The session server passes its auth token through environment
// variables and headers, so every sink goes through this.
func Redact(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllStringFunc(line, func(match string) string {
		sub := authorizationBearerPattern.FindStringSubmatch(match)
		if len(sub) != 4 {
			return match
		}
		return sub[1] + sub[2] + Placeholder
	})

	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		sub := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(sub) != 4 {
			return match
		}
		return sub[1] + Placeholder + sub[3]
	})

	sanitized = bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		sub := bearerTokenPattern.FindStringSubmatch(match)
		if len(sub) != 3 {
			return match
		}
		return sub[1] + Placeholder
	})

	return sanitized
}
