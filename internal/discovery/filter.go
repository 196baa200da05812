package discovery

import "strings"

// ParseFilter splits a comma-separated keyword list. Keywords are trimmed and
// lower-cased; empty ones are dropped.
func ParseFilter(filter string) []string {
	var keys []string
	for _, k := range strings.Split(filter, ",") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// FilterModels keeps the models that contain any keyword, case-insensitively,
// in their original order with duplicates removed. An empty filter keeps
// everything (still de-duplicated).
func FilterModels(models []string, filter string) []string {
	keys := ParseFilter(filter)
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if _, dup := seen[m]; dup {
			continue
		}
		if len(keys) > 0 && !matchesAny(strings.ToLower(m), keys) {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func matchesAny(model string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(model, k) {
			return true
		}
	}
	return false
}
