// Package scoring computes lexical pronunciation scores by aligning an
// expected prompt against evidence of what the learner actually said. It is
// pure: no I/O, no clock, no randomness — identical inputs always produce
// identical results.
package scoring

import (
	"math"
	"strings"
)

// Token is a single prompt or transcript word. Display keeps the original
// form for UI highlighting; Clean is the lowercased, punctuation-stripped
// form used for comparison.
type Token struct {
	Display string
	Clean   string
}

// Result is the outcome of aligning a transcript against an expected prompt.
type Result struct {
	Matched      int
	Total        int
	Score        int      // round(100 * Matched / Total)
	MissingWords []string // clean forms of unmatched expected tokens
	MatchedIdx   []int    // expected-token indices that matched
	Source       string   // which evidence produced this result
}

// Evidence sources, in priority order.
const (
	SourceHighlights       = "highlights"
	SourceClientTranscript = "client_transcript"
	SourceASR              = "asr"
	SourceNone             = "none"
)

const comparePunct = ".,!?;:"

// Tokenize lowercases, splits on whitespace and strips .,!?;: for
// comparison. Tokens that are nothing but punctuation are dropped.
func Tokenize(s string) []Token {
	fields := strings.Fields(strings.ToLower(s))
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		clean := stripPunct(f)
		if clean == "" {
			continue
		}
		tokens = append(tokens, Token{Display: f, Clean: clean})
	}
	return tokens
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(comparePunct, r) {
			return -1
		}
		return r
	}, s)
}

// matches reports whether transcript token t counts as expected token e:
// exact equality, t containing e, or e containing t when t has at least
// three characters.
func matches(t, e string) bool {
	if t == e {
		return true
	}
	if len(t) >= len(e) && strings.Contains(t, e) {
		return true
	}
	if len(t) >= 3 && len(e) >= len(t) && strings.Contains(e, t) {
		return true
	}
	return false
}

// Align walks expected tokens in order, consuming transcript tokens in a
// single left-to-right pass. The transcript cursor only moves forward past
// matched tokens, so no transcript token is counted twice.
func Align(expected, transcript []Token) Result {
	res := Result{Total: len(expected)}
	cursor := 0
	for i, e := range expected {
		found := -1
		for j := cursor; j < len(transcript); j++ {
			if matches(transcript[j].Clean, e.Clean) {
				found = j
				break
			}
		}
		if found >= 0 {
			res.Matched++
			res.MatchedIdx = append(res.MatchedIdx, i)
			cursor = found + 1
		} else {
			res.MissingWords = append(res.MissingWords, e.Clean)
		}
	}
	res.Score = ratioScore(res.Matched, res.Total)
	return res
}

// FromHighlights scores directly from expected-token indices reported by a
// live recognizer. Out-of-range and duplicate indices are ignored.
func FromHighlights(expected []Token, indices []int) Result {
	res := Result{Total: len(expected)}
	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(expected) {
			seen[idx] = true
		}
	}
	for i, e := range expected {
		if seen[i] {
			res.Matched++
			res.MatchedIdx = append(res.MatchedIdx, i)
		} else {
			res.MissingWords = append(res.MissingWords, e.Clean)
		}
	}
	res.Score = ratioScore(res.Matched, res.Total)
	return res
}

func ratioScore(matched, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(matched) / float64(total)))
}

// Blend folds an AI grade (0-10 scale) into a lexical result. The lexical
// score is authoritative: the blended value is clamped to
// [0.7*lexical, lexical], and a zero match count forces zero regardless of
// the AI's opinion.
func Blend(res Result, aiScore10 float64) int {
	if res.Matched == 0 || res.Total == 0 {
		return 0
	}
	base := 100 * float64(res.Matched) / float64(res.Total)
	ai := aiScore10 * 10
	final := math.Min(math.Max(ai, base*0.7), base)
	return int(math.Round(final))
}
