// Package phrase compiles user keyword phrases into a single case-insensitive
// matcher and counts the matches it finds in plain text.
//
// Each phrase is word-bounded and whitespace-flexible: "top secret" matches
// "Top   Secret" and "top\nsecret" but not "topsecret" or "top secrets".
// A few well-known abbreviations get extra tolerance:
//
//	"ts/sci"  also matches "TS SCI", "ts / sci", "TS/SCI"
//	"u.s."    also matches "US", "U.S", "u. s."
package phrase

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmptyPhrases is returned when no usable phrase remains after trimming.
var ErrEmptyPhrases = errors.New("phrase: empty phrase list")

// space matches one whitespace character, including the no-break and other
// Unicode space separators that rendered pages are full of.
const space = `[\s\p{Zs}]`

// Placeholders substituted into a phrase before escaping. Control characters
// never survive sanitize, so they cannot collide with user input.
const (
	tokTSSCI = "\x01"
	tokUS    = "\x02"
)

var (
	reTSSCI = regexp.MustCompile(`(?i)\bts` + space + `*/` + space + `*sci\b`)
	reUS    = regexp.MustCompile(`(?i)\bu\.?` + space + `*s\b\.?`)

	fragments = map[string]string{
		tokTSSCI: `ts` + space + `*/?` + space + `*sci`,
		tokUS:    `u\.?` + space + `*s\.?`,
	}
)

// Pattern is a compiled keyword matcher. It is immutable: a new keyword list
// means a new Pattern.
type Pattern struct {
	re      *regexp.Regexp
	phrases []string
}

// Compile builds one case-insensitive alternation out of phrases. Order is
// preserved, so when two phrases can match at the same position the earlier
// one wins.
func Compile(phrases []string) (*Pattern, error) {
	kept := make([]string, 0, len(phrases))
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		expr := toPattern(p)
		if expr == "" {
			continue
		}
		kept = append(kept, strings.TrimSpace(p))
		parts = append(parts, expr)
	}
	if len(parts) == 0 {
		return nil, ErrEmptyPhrases
	}

	re, err := regexp.Compile(`(?i)` + strings.Join(parts, "|"))
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re, phrases: kept}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults.
func MustCompile(phrases ...string) *Pattern {
	p, err := Compile(phrases)
	if err != nil {
		panic(err)
	}
	return p
}

// toPattern turns one phrase into a word-bounded sub-expression, or "" when
// the phrase has no tokens.
func toPattern(phrase string) string {
	s := sanitize(phrase)
	s = reTSSCI.ReplaceAllString(s, " "+tokTSSCI+" ")
	s = reUS.ReplaceAllString(s, tokUS)

	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return ""
	}
	for i, tok := range tokens {
		tokens[i] = quoteToken(tok)
	}
	return `(?:\b` + strings.Join(tokens, space+"+") + `\b)`
}

// quoteToken escapes the literal parts of a token and expands placeholders.
func quoteToken(tok string) string {
	var b strings.Builder
	lit := 0
	for i := 0; i < len(tok); i++ {
		frag, ok := fragments[tok[i:i+1]]
		if !ok {
			continue
		}
		b.WriteString(regexp.QuoteMeta(tok[lit:i]))
		b.WriteString(frag)
		lit = i + 1
	}
	b.WriteString(regexp.QuoteMeta(tok[lit:]))
	return b.String()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Regexp returns the underlying compiled expression.
func (p *Pattern) Regexp() *regexp.Regexp { return p.re }

// Phrases returns a copy of the phrases the pattern was built from.
func (p *Pattern) Phrases() []string {
	out := make([]string, len(p.phrases))
	copy(out, p.phrases)
	return out
}

// String returns the regular expression source.
func (p *Pattern) String() string { return p.re.String() }

// MatchString reports whether s contains at least one match.
func (p *Pattern) MatchString(s string) bool { return p.re.MatchString(s) }

// FindAllIndex returns the byte offsets of all non-overlapping matches in s,
// leftmost first. Both the counter and the highlighter iterate through this
// so they agree on the match set.
func (p *Pattern) FindAllIndex(s string) [][]int {
	return p.re.FindAllStringIndex(s, -1)
}
