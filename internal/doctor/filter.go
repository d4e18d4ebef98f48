package doctor

import (
	"cmp"
	"slices"
	"strings"
)

// FilterResult is the checks selected on the command line.
type FilterResult struct {
	Matched   []Check
	Unmatched []string
}

// FilterChecks resolves each arg as a check name, or failing that as a
// category. Matches keep registration order and are not repeated; args
// that resolve to nothing are returned in Unmatched. No args selects all.
func FilterChecks(checks []Check, args []string) *FilterResult {
	if len(args) == 0 {
		return &FilterResult{Matched: checks}
	}

	selected := make(map[string]bool)
	var unmatched []string
	for _, arg := range args {
		key := NormalizeName(arg)
		hit := false
		if idx := slices.IndexFunc(checks, func(c Check) bool { return NormalizeName(c.Name()) == key }); idx >= 0 {
			selected[checks[idx].Name()] = true
			hit = true
		} else {
			for _, c := range checks {
				if strings.EqualFold(c.Category(), arg) {
					selected[c.Name()] = true
					hit = true
				}
			}
		}
		if !hit {
			unmatched = append(unmatched, arg)
		}
	}

	res := &FilterResult{Unmatched: unmatched}
	for _, c := range checks {
		if selected[c.Name()] {
			res.Matched = append(res.Matched, c)
		}
	}
	return res
}

// NormalizeName folds case and accepts underscores for hyphens.
func NormalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "-"))
}

// maxSuggestDistance bounds how far a typo may be from a check name.
const maxSuggestDistance = 2

// SuggestCheck returns the closest check names to a mistyped input, best
// first, at most three.
func SuggestCheck(checks []Check, input string) []string {
	type near struct {
		name string
		dist int
	}
	key := NormalizeName(input)
	var found []near
	for _, c := range checks {
		if d := levenshtein(key, NormalizeName(c.Name())); d > 0 && d <= maxSuggestDistance {
			found = append(found, near{c.Name(), d})
		}
	}
	slices.SortFunc(found, func(a, b near) int {
		return cmp.Or(cmp.Compare(a.dist, b.dist), strings.Compare(a.name, b.name))
	})

	names := make([]string, 0, 3)
	for _, n := range found[:min(len(found), 3)] {
		names = append(names, n.name)
	}
	return names
}

// levenshtein is the byte-wise edit distance between a and b.
func levenshtein(a, b string) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 0; i < len(a); i++ {
		diag := row[0]
		row[0] = i + 1
		for j := 0; j < len(b); j++ {
			above := row[j+1]
			sub := diag
			if a[i] != b[j] {
				sub++
			}
			row[j+1] = min(above+1, row[j]+1, sub)
			diag = above
		}
	}
	return row[len(b)]
}
