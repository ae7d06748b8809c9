package observability

import (
	"unicode"
	"unicode/utf8"
)

// Length caps applied to values copied from requests into log entries.
const (
	maxFieldLength  = 256
	maxRouteLength  = 180
	maxMethodLength = 10
	maxIDLength     = 64
)

// sanitizeString strips control characters and keeps at most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLength
	}
	if utf8.RuneCountInString(value) <= limit && !hasControl(value) {
		return value
	}

	cleaned := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

func hasControl(value string) bool {
	for _, r := range value {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// SanitizeRoute returns a log-safe chi route pattern; empty becomes "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteLength)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, maxMethodLength)
}

// SanitizeUserID caps customer and operator identifiers written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, maxIDLength)
}

// sanitizeEventValue cleans string values passed to EventLogger. Order search
// terms and gateway references arrive straight from clients.
func sanitizeEventValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeString(v, maxFieldLength)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = sanitizeString(s, maxFieldLength)
		}
		return out
	default:
		return value
	}
}
