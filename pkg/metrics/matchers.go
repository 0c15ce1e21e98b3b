package metrics

import (
	"fmt"
	"strings"
)

// ValidateFilter rejects filter expressions that could escape the label
// matcher list they are interpolated into. Filters are comma-separated
// Prometheus-style matchers such as `namespace="prod",pod=~"api-.*"`.
func ValidateFilter(filter string) error {
	if filter == "" {
		return nil
	}
	inQuotes := false
	for i := 0; i < len(filter); i++ {
		c := filter[i]
		switch c {
		case '"':
			if inQuotes && i > 0 && filter[i-1] == '\\' {
				continue
			}
			inQuotes = !inQuotes
		case '{', '}':
			if !inQuotes {
				return fmt.Errorf("character %q is not allowed outside quotes", c)
			}
		}
	}
	if inQuotes {
		return fmt.Errorf("unbalanced quotes")
	}
	return nil
}

// CombineMatchers joins two matcher lists, tolerating either being empty.
func CombineMatchers(base, extra string) string {
	base = strings.TrimSpace(base)
	extra = strings.TrimSpace(extra)
	switch {
	case base == "":
		return extra
	case extra == "":
		return base
	default:
		return base + "," + extra
	}
}

// ParseMatchers extracts the plain equality matchers from a matcher list.
// Regex and negative matchers are skipped; the snapshot querier only scopes
// by exact names. Returns label -> unquoted value.
func ParseMatchers(matchers string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitMatchers(matchers) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		// Skip =~, ==? and != forms; only `label="value"` is an equality.
		if idx+1 < len(part) && (part[idx+1] == '~' || part[idx+1] == '=') {
			continue
		}
		if part[idx-1] == '!' {
			continue
		}
		label := strings.TrimSpace(part[:idx])
		value := strings.TrimSpace(part[idx+1:])
		value = strings.Trim(value, `"`)
		if label != "" {
			out[label] = value
		}
	}
	return out
}

// splitMatchers splits on commas that sit outside quoted values.
func splitMatchers(matchers string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(matchers); i++ {
		c := matchers[i]
		switch {
		case c == '"' && (i == 0 || matchers[i-1] != '\\'):
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
