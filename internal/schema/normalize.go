package schema

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// maxSafeInteger bounds numbers accepted from JSON input; beyond it float64 loses
// integer precision.
const maxSafeInteger = 1<<53 - 1

const maxHostnameLen = 253

// NormalizeText returns s in NFC form, trimmed and cut to MaxTaskRunes runes.
func NormalizeText(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if utf8.RuneCountInString(s) > MaxTaskRunes {
		runes := []rune(s)
		s = strings.TrimRightFunc(string(runes[:MaxTaskRunes]), unicode.IsSpace)
	}
	return s
}

// NormalizeHost reduces a user-entered site to a bare ASCII hostname. It accepts
// URLs ("https://www.Example.com:8080/path") as well as plain names and reports false
// when nothing usable remains.
func NormalizeHost(raw string) (string, bool) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if i := strings.LastIndexByte(h, '@'); i >= 0 {
		h = h[i+1:]
	}
	if strings.HasPrefix(h, "[") {
		return "", false
	}
	if i := strings.LastIndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimRight(h, ".")
	for strings.HasPrefix(h, "www.") && strings.Contains(h[4:], ".") {
		h = h[4:]
	}
	if h == "" {
		return "", false
	}

	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil || !validHostname(ascii) {
		return "", false
	}
	return ascii, true
}

// NormalizeHosts normalizes every entry, drops invalid ones, dedupes, sorts and keeps
// at most MaxHosts entries. The result is never nil.
func NormalizeHosts(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		h, ok := NormalizeHost(entry)
		if !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	slices.Sort(out)
	if len(out) > MaxHosts {
		out = out[:MaxHosts]
	}
	return out
}

func validHostname(h string) bool {
	if h == "" || len(h) > maxHostnameLen {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return false
			}
		}
	}
	return true
}

// toInt64 accepts any finite JSON-like number and rounds it to the nearest integer.
// Strings are never coerced.
func toInt64(raw any) (int64, bool) {
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		if v > maxSafeInteger || v < -maxSafeInteger {
			return 0, false
		}
		return v, true
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Round(f)
	if f > maxSafeInteger || f < -maxSafeInteger {
		return 0, false
	}
	return int64(f), true
}

// toHostList accepts []string or a JSON array; non-string elements are dropped.
func toHostList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return NormalizeHosts(v), true
	case []any:
		strs := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				strs = append(strs, s)
			}
		}
		return NormalizeHosts(strs), true
	default:
		return nil, false
	}
}

func clampInt64(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}
