// Package alarm runs the keyword scan engine over one dom.Document: it
// resolves the scan target, skips unchanged text by fingerprint, counts and
// highlights keyword matches, and reports the result to a presenter.
//
// A Scanner performs one cycle. A Coordinator owns the Scanner and the
// Document, debounces change signals into cycles, and accepts commands
// (navigation, keyword edits, reset) from any goroutine. Every document
// write happens on the Coordinator's loop goroutine.
package alarm

import (
	"context"
	"errors"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kwalarm/alert"
	"github.com/hazyhaar/kwalarm/dom"
)

// Resolver picks the subtree to scan. A nil result means nothing to scan.
type Resolver interface {
	Resolve(doc *dom.Document) *html.Node
}

// Presenter shows and withdraws the alert.
type Presenter interface {
	Show(ctx context.Context, s alert.Summary) error
	Clear(ctx context.Context) error
}

// KeywordStore persists keyword lists per site.
type KeywordStore interface {
	Load(ctx context.Context, site string) ([]string, error)
	Save(ctx context.Context, site string, list []string) error
}

// Beeper plays the optional audible alert.
type Beeper interface {
	Beep() error
}

var (
	// ErrEmptyKeywords rejects a keyword edit that leaves no phrase.
	ErrEmptyKeywords = errors.New("alarm: keyword list cannot be empty")
	// ErrStopped is returned by commands sent after the loop has exited.
	ErrStopped = errors.New("alarm: coordinator stopped")
)

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(doc *dom.Document) *html.Node

func (f ResolverFunc) Resolve(doc *dom.Document) *html.Node { return f(doc) }

// Body resolves every document to its <body>, or the document element.
var Body = ResolverFunc(func(doc *dom.Document) *html.Node {
	if b := doc.Body(); b != nil {
		return b
	}
	return doc.DocumentElement()
})

type nopPresenter struct{}

func (nopPresenter) Show(context.Context, alert.Summary) error { return nil }
func (nopPresenter) Clear(context.Context) error               { return nil }
