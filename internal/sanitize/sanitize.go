// Package sanitize cleans untrusted input before it reaches business logic,
// the database layer, or outbound email rendering. Every function is pure,
// never fails, and returns a safe (possibly empty) value.
package sanitize

import (
	"html"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var htmlStripper = bluemonday.StrictPolicy()

// Field length caps. Anything longer is clamped, not rejected.
const (
	MaxName        = 100
	MaxEmail       = 254
	MaxPhone       = 30
	MaxAddressLine = 200
	MaxCity        = 100
	MaxPostalCode  = 20
	MaxNote        = 1000
	MaxGeneric     = 500
)

const (
	maxDeepDepth    = 8
	maxDeepElements = 100
)

// scrub removes markup, control characters and HTML-significant characters,
// then trims and clamps to max runes.
func scrub(raw string, max int) string {
	s := htmlStripper.Sanitize(raw)
	// bluemonday entity-escapes what it keeps; undo that so the character
	// filter below sees the original text.
	s = html.UnescapeString(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		switch r {
		case '<', '>', '"', '\'', '&', '`':
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	return clampRunes(s, max)
}

func clampRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// Name cleans a person or recipient name.
func Name(raw string) string { return scrub(raw, MaxName) }

// Email normalizes an email address: lowercased, whitespace stripped. It
// does not assert syntax; validation owns that.
func Email(raw string) string {
	s := scrub(raw, MaxEmail)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ToLower(s)
}

// Phone keeps digits and common phone punctuation.
func Phone(raw string) string {
	s := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		switch r {
		case '+', '-', '(', ')', ' ', '.':
			return r
		}
		return -1
	}, raw)
	return clampRunes(strings.TrimSpace(s), MaxPhone)
}

// AddressLine cleans a free-text postal address line.
func AddressLine(raw string) string { return scrub(raw, MaxAddressLine) }

// City cleans a city or region name.
func City(raw string) string { return scrub(raw, MaxCity) }

// PostalCode keeps alphanumerics, spaces and dashes, uppercased.
func PostalCode(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' {
			return r
		}
		return -1
	}, raw)
	return clampRunes(strings.ToUpper(strings.TrimSpace(s)), MaxPostalCode)
}

// CountryCode returns a 2-letter uppercase ISO country code, or "" when the
// input is not one.
func CountryCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) != 2 {
		return ""
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return s
}

// Note cleans a free-text note such as order instructions.
func Note(raw string) string { return scrub(raw, MaxNote) }

// UUID returns the canonical lowercase form of a UUID string, or "" when
// the input does not parse.
func UUID(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

// Number coerces an arbitrary decoded JSON value to a float64.
func Number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Integer coerces an arbitrary decoded JSON value to an int, truncating
// fractional parts.
func Integer(v any) int {
	return int(Number(v))
}

// Boolean coerces an arbitrary decoded JSON value to a bool.
func Boolean(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// Deep recursively sanitizes a decoded JSON value: strings are scrubbed,
// maps and slices are walked with depth and element caps, and anything else
// passes through typed coercion untouched. It never fails.
func Deep(v any) any {
	return deep(v, 0)
}

func deep(v any, depth int) any {
	if depth > maxDeepDepth {
		return nil
	}
	switch val := v.(type) {
	case string:
		return scrub(val, MaxGeneric)
	case map[string]any:
		out := make(map[string]any, len(val))
		n := 0
		for k, item := range val {
			if n >= maxDeepElements {
				break
			}
			key := scrub(k, MaxName)
			if key == "" {
				continue
			}
			out[key] = deep(item, depth+1)
			n++
		}
		return out
	case []any:
		limit := len(val)
		if limit > maxDeepElements {
			limit = maxDeepElements
		}
		out := make([]any, 0, limit)
		for _, item := range val[:limit] {
			out = append(out, deep(item, depth+1))
		}
		return out
	case float64, bool, nil:
		return val
	default:
		// unexpected dynamic type, drop rather than pass through
		return nil
	}
}

// StringMap scrubs every key and value of a flat string map, dropping
// entries whose key scrubs to empty. Used for option selections.
func StringMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		key := scrub(k, MaxName)
		if key == "" {
			continue
		}
		out[key] = scrub(v, MaxName)
	}
	return out
}
