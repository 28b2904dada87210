package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity scores two names on a normalized 0..1 scale. Edit distance and
// Jaro-Winkler disagree on which mistakes matter (transpositions vs.
// insertions), so the higher of the two is used; surveillance sources produce
// both kinds of noise.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	lev := levenshteinSimilarity(a, b)
	jw := jaroWinkler([]rune(a), []rune(b))
	if jw > lev {
		return jw
	}
	return lev
}

func levenshteinSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// MoreSpecific reports whether candidate is a more specific variant of the
// input: every input word appears in the candidate, and the extra candidate
// words carry a subtype marker. "hepatitis" must not fuzzy-match
// "hepatitis a", even though the strings are close.
func MoreSpecific(input, candidate string) bool {
	inputWords := wordSet(input)
	candidateWords := wordSet(candidate)
	if len(inputWords) == 0 || len(candidateWords) <= len(inputWords) {
		return false
	}
	for w := range inputWords {
		if _, ok := candidateWords[w]; !ok {
			return false
		}
	}
	specific := map[string]struct{}{
		"a": {}, "b": {}, "c": {}, "d": {}, "e": {},
		"1": {}, "2": {}, "3": {},
		"type": {}, "acute": {}, "chronic": {},
	}
	for w := range candidateWords {
		if _, shared := inputWords[w]; shared {
			continue
		}
		if _, ok := specific[w]; ok {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(s))) {
		set[w] = struct{}{}
	}
	return set
}

func jaroWinkler(s1, s2 []rune) float64 {
	if string(s1) == string(s2) {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}

	matchDistance := max(len(s1), len(s2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	s1Matches := make([]bool, len(s1))
	s2Matches := make([]bool, len(s2))

	matches := 0
	transpositions := 0

	for i := range s1 {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, len(s2))
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	k := 0
	for i := range s1 {
		if !s1Matches[i] {
			continue
		}
		for ; !s2Matches[k]; k++ {
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	transpositions /= 2

	jaro := (float64(matches)/float64(len(s1)) + float64(matches)/float64(len(s2)) + float64(matches-transpositions)/float64(matches)) / 3

	prefix := 0
	for i := 0; i < min(4, min(len(s1), len(s2))); i++ {
		if s1[i] == s2[i] {
			prefix++
		} else {
			break
		}
	}

	return jaro + float64(prefix)*0.1*(1-jaro)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
