package alarm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hazyhaar/kwalarm/keystore"
	"github.com/hazyhaar/kwalarm/phrase"
)

// Config is an immutable keyword configuration. A keyword edit produces a
// new Config; a published Config is never modified.
type Config struct {
	Keywords []string
	Pattern  *phrase.Pattern
	Version  int64
}

// NewConfig cleans list (trimmed, blanks dropped) and compiles it.
func NewConfig(list []string, version int64) (*Config, error) {
	list = keystore.Clean(list)
	if len(list) == 0 {
		return nil, ErrEmptyKeywords
	}
	p, err := phrase.Compile(list)
	if errors.Is(err, phrase.ErrEmptyPhrases) {
		return nil, ErrEmptyKeywords
	}
	if err != nil {
		return nil, fmt.Errorf("alarm: compile keywords: %w", err)
	}
	return &Config{Keywords: list, Pattern: p, Version: version}, nil
}

// MustConfig is NewConfig for known-good lists.
func MustConfig(list ...string) *Config {
	c, err := NewConfig(list, 1)
	if err != nil {
		panic(err)
	}
	return c
}

// Same reports whether c holds exactly list.
func (c *Config) Same(list []string) bool {
	return c != nil && slices.Equal(c.Keywords, keystore.Clean(list))
}
