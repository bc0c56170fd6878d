package invoke

import (
	"sort"
	"strings"
)

// MergeEnv returns base with overrides applied. Overridden keys keep their
// original position; new keys are appended in sorted order. base is not
// modified.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))

	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		val, overridden := overrides[key]
		if !overridden {
			out = append(out, kv)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key+"="+val)
	}

	added := make([]string, 0, len(overrides))
	for key := range overrides {
		if !seen[key] {
			added = append(added, key)
		}
	}
	sort.Strings(added)
	for _, key := range added {
		out = append(out, key+"="+overrides[key])
	}
	return out
}

// LookupEnv finds key in a KEY=VALUE list. The last occurrence wins, matching
// how exec treats duplicates.
func LookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
