package phrase

import "strings"

// MaxDistinct bounds the number of distinct keys a Tally accumulates.
// Adversarial pages can produce thousands of spelling variants of one phrase.
const MaxDistinct = 1000

// Tally maps lower-cased matched text to its hit count. Keys keep the order
// in which they were first seen.
type Tally struct {
	counts map[string]int
	order  []string
	total  int
	capped bool
}

func newTally() *Tally {
	return &Tally{counts: make(map[string]int)}
}

// Count runs p over text and tallies every match. Counting stops, without
// error, when a new distinct key would exceed MaxDistinct; later matches are
// not counted, even those of keys already in the tally.
func Count(text string, p *Pattern) *Tally {
	t := newTally()
	if p == nil || text == "" {
		return t
	}
	for _, loc := range p.FindAllIndex(text) {
		key := strings.ToLower(text[loc[0]:loc[1]])
		if !t.add(key) {
			break
		}
	}
	return t
}

// add records one hit. It returns false once the distinct-key cap is reached.
func (t *Tally) add(key string) bool {
	if _, ok := t.counts[key]; !ok {
		if len(t.order) >= MaxDistinct {
			t.capped = true
			return false
		}
		t.order = append(t.order, key)
	}
	t.counts[key]++
	t.total++
	return true
}

// Get returns the count for key (already lower-cased).
func (t *Tally) Get(key string) int { return t.counts[key] }

// Len returns the number of distinct keys.
func (t *Tally) Len() int { return len(t.order) }

// Total returns the sum of all counts.
func (t *Tally) Total() int { return t.total }

// Empty reports whether nothing matched.
func (t *Tally) Empty() bool { return len(t.order) == 0 }

// Capped reports whether counting stopped at MaxDistinct.
func (t *Tally) Capped() bool { return t.capped }

// Keys returns the distinct keys in first-seen order.
func (t *Tally) Keys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Map returns a copy of the counts.
func (t *Tally) Map() map[string]int {
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
