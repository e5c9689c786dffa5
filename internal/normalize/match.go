package normalize

import "strings"

// ContainsFold reports whether term appears (case-insensitive, whitespace
// collapsed) anywhere in text. An empty term never matches.
func ContainsFold(text, term string) bool {
	term = Fold(term)
	if term == "" {
		return false
	}
	return strings.Contains(Fold(text), term)
}

// MatchingTerms returns the terms that appear in text, in the order given,
// skipping blanks and repeats.
func MatchingTerms(text string, terms []string) []string {
	if len(terms) == 0 {
		return nil
	}
	folded := Fold(text)
	seen := make(map[string]bool, len(terms))
	var out []string
	for _, term := range terms {
		t := Fold(term)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if strings.Contains(folded, t) {
			out = append(out, term)
		}
	}
	return out
}

// IsRemote reports whether a posting location advertises remote work.
func IsRemote(location string) bool {
	return ContainsFold(location, "remote")
}
