// Package suggest ranks known identifiers against a mistyped one.
//
// Material ids, workflow ids and calculation type tokens are compared
// after normalization: case is folded and the separators '-', '_', '+',
// '.' and spaces are dropped, so "opt-2", "OPT_2" and "Opt2" all compare
// equal.
package suggest

import (
	"sort"
	"strings"
	"unicode"
)

// Scoring weights.
const (
	ScoreExact    = 1000
	ScorePrefix   = 20 // per shared leading character
	ScoreContains = 12 // per character of the shorter string
	ScoreSuffix   = 8  // per shared trailing character
	ScoreEdit     = 6  // per character saved by a small edit distance
	ScoreShared   = 2  // per shared letter or digit, in any order

	// LengthSlack is the length difference tolerated before a penalty.
	LengthSlack   = 4
	LengthPenalty = 3
)

// Match is a candidate and its score.
type Match struct {
	Value string
	Score int
}

// Rank scores every candidate against target and returns the ones that
// scored above zero, best first. Equal scores keep candidate order.
func Rank(target string, candidates []string) []Match {
	key := Normalize(target)
	var matches []Match
	for _, c := range candidates {
		if s := score(key, Normalize(c)); s > 0 {
			matches = append(matches, Match{Value: c, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// FindSimilar returns up to maxResults candidates close to target.
func FindSimilar(target string, candidates []string, maxResults int) []string {
	if maxResults <= 0 {
		return nil
	}
	matches := Rank(target, candidates)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Value
	}
	return out
}

// Normalize folds case and drops separators.
func Normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case '-', '_', '+', '.', ' ':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func score(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return ScoreExact
	}

	s := commonPrefix(a, b) * ScorePrefix
	s += commonPrefix(reverse(a), reverse(b)) * ScoreSuffix

	switch {
	case strings.Contains(b, a):
		s += len(a) * ScoreContains
	case strings.Contains(a, b):
		s += len(b) * ScoreContains
	}

	longest := max(len(a), len(b))
	if d := editDistance(a, b); d <= longest/2 {
		s += (longest - d) * ScoreEdit
	}
	s += sharedChars(a, b) * ScoreShared

	if diff := len(a) - len(b); diff > LengthSlack || -diff > LengthSlack {
		s -= (max(diff, -diff) - LengthSlack) * LengthPenalty
	}
	return s
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// sharedChars counts letters and digits present in both strings, with
// multiplicity.
func sharedChars(a, b string) int {
	seen := make(map[rune]int)
	for _, r := range a {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			seen[r]++
		}
	}
	n := 0
	for _, r := range b {
		if seen[r] > 0 {
			seen[r]--
			n++
		}
	}
	return n
}

// editDistance is the Levenshtein distance over bytes, kept to two rows.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
