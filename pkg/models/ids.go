package models

import "slices"

// UnionIDs merges id lists into one sorted, de-duplicated list without
// empty entries. It never returns nil.
func UnionIDs(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)

	for _, list := range lists {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}

			seen[id] = true
			out = append(out, id)
		}
	}

	slices.Sort(out)

	return out
}

// SameIDs reports whether both lists hold the same set of ids.
func SameIDs(a, b []string) bool {
	return slices.Equal(UnionIDs(a), UnionIDs(b))
}
