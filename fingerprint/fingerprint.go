// Package fingerprint computes a cheap change-detection signature of a scan
// target's text: its length plus a fixed window at each end.
//
// It is a heuristic, not a hash. An edit strictly inside a long document,
// beyond both sample windows and leaving the length unchanged, produces the
// same signature and is not detected.
package fingerprint

import "unicode/utf8"

// Window is the number of runes sampled at each end of the text.
const Window = 200

// Fingerprint is the (length, prefix, suffix) signature of a text.
// The zero value means "no prior signature" and never equals the result of Of.
type Fingerprint struct {
	Length int    `json:"length"`
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	set    bool
}

// Of returns the signature of text. Length is counted in runes.
func Of(text string) Fingerprint {
	n := utf8.RuneCountInString(text)
	fp := Fingerprint{Length: n, set: true}
	if n <= Window {
		fp.Prefix = text
		fp.Suffix = text
		return fp
	}
	fp.Prefix = head(text, Window)
	fp.Suffix = tail(text, Window)
	return fp
}

// IsZero reports whether f is the "no prior signature" value.
func (f Fingerprint) IsZero() bool { return !f.set }

// Equal reports whether f and g describe the same text. A zero fingerprint
// equals nothing, including another zero fingerprint, so a first scan always
// runs.
func (f Fingerprint) Equal(g Fingerprint) bool {
	if !f.set || !g.set {
		return false
	}
	return f.Length == g.Length && f.Prefix == g.Prefix && f.Suffix == g.Suffix
}

func head(s string, runes int) string {
	i := 0
	for pos := range s {
		if i == runes {
			return s[:pos]
		}
		i++
	}
	return s
}

func tail(s string, runes int) string {
	end := len(s)
	for i := 0; i < runes && end > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:end])
		end -= size
	}
	return s[end:]
}
