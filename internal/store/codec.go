package store

import (
	"sort"
	"strings"
)

// SetDelimiter separates entries of a set stored as a single column.
const SetDelimiter = ","

// JoinSet encodes values for storage. Entries are trimmed, empty entries and
// duplicates are dropped and the result is sorted, so equal sets always
// encode to the same string.
func JoinSet(values []string) string {
	return strings.Join(NormalizeSet(values), SetDelimiter)
}

// SplitSet decodes a stored set. It never returns nil.
func SplitSet(encoded string) []string {
	if strings.TrimSpace(encoded) == "" {
		return []string{}
	}
	return NormalizeSet(strings.Split(encoded, SetDelimiter))
}

// NormalizeSet trims, de-duplicates and sorts values.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
