// Package alert turns a match tally into a ranked summary and delivers it
// to presenters: the log, JSON lines, a webhook, an in-process callback, or
// a terminal banner. A presenter shows at most one alert at a time; Clear
// withdraws it.
package alert

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/kwalarm/phrase"
)

// DefaultTop is how many phrases a summary lists.
const DefaultTop = 10

// Hit is one matched phrase (lower-cased) and its count.
type Hit struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}

// Summary describes one alerting scan.
type Summary struct {
	ScanID   string    `json:"scan_id"`
	URL      string    `json:"url,omitempty"`
	Site     string    `json:"site,omitempty"`
	Total    int       `json:"total"`
	Distinct int       `json:"distinct"`
	Capped   bool      `json:"capped,omitempty"`
	Top      []Hit     `json:"top"`
	At       time.Time `json:"at"`
}

// Summarize ranks the entries of t by count, highest first, and keeps the
// first top of them. Equal counts keep first-seen order. top <= 0 means
// DefaultTop.
func Summarize(t *phrase.Tally, top int) Summary {
	if top <= 0 {
		top = DefaultTop
	}
	if t == nil {
		return Summary{Top: []Hit{}}
	}
	hits := make([]Hit, 0, t.Len())
	for _, k := range t.Keys() {
		hits = append(hits, Hit{Phrase: k, Count: t.Get(k)})
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Count, a.Count) })
	if len(hits) > top {
		hits = hits[:top]
	}
	return Summary{
		Total:    t.Total(),
		Distinct: t.Len(),
		Capped:   t.Capped(),
		Top:      hits,
	}
}

// Title is the banner headline.
func (s Summary) Title() string {
	return fmt.Sprintf("Found restricted terms: %d", s.Total)
}

// Examples lists the top phrases as "phrase ×count" separated by " · ".
func (s Summary) Examples() string {
	parts := make([]string, len(s.Top))
	for i, h := range s.Top {
		parts[i] = fmt.Sprintf("%s ×%d", h.Phrase, h.Count)
	}
	return "Examples: " + strings.Join(parts, " · ")
}

// Banner is the two-line text of the alert banner.
func (s Summary) Banner() string {
	return s.Title() + "\n" + s.Examples()
}
