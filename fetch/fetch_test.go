package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/kwalarm/dom"
)

func TestFetch_UTF8(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><p>No visa sponsorship – sorry</p></body></html>`))
	}))
	defer srv.Close()

	p, err := New(WithUserAgent("kw-test")).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if ua != "kw-test" {
		t.Errorf("user agent: %q", ua)
	}
	if got := dom.InnerText(p.Doc.Body()); got != "No visa sponsorship – sorry" {
		t.Errorf("text: %q", got)
	}
	if p.StatusCode != 200 || p.Truncated || p.Doc.URL() != srv.URL {
		t.Errorf("page: %+v url=%q", p, p.Doc.URL())
	}
}

func TestFetch_Latin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write([]byte("<html><body><p>Citoyennet\xe9 requise</p></body></html>"))
	}))
	defer srv.Close()

	p, err := New().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got := dom.InnerText(p.Doc.Body()); got != "Citoyenneté requise" {
		t.Errorf("text: %q", got)
	}
}

func TestFetch_Redirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/job/1", http.StatusFound)
	})
	mux.HandleFunc("/job/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>ok</p>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := New().Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if p.URL != srv.URL+"/job/1" {
		t.Errorf("final url: %q", p.URL)
	}
}

func TestFetch_Status(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("error: got %v", err)
	}
}

func TestFetch_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + strings.Repeat("a", 100) + "</p>"))
	}))
	defer srv.Close()

	p, err := New(WithMaxBody(20)).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Truncated {
		t.Error("expected truncation")
	}
	if got := len(dom.InnerText(p.Doc.Body())); got != 17 {
		t.Errorf("text length: %d", got)
	}
}

func TestSufficient(t *testing.T) {
	long := strings.Repeat("Active clearance required. ", 10)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"server rendered", `<body><p>` + long + `</p></body>`, true},
		{"too short", `<body><p>Apply now</p></body>`, false},
		{"spa shell", `<body><div id="root"></div><noscript>` + long + `</noscript><p>` + long + `</p></body>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := dom.ParseString(tt.html)
			if err != nil {
				t.Fatal(err)
			}
			if got := Sufficient(d); got != tt.want {
				t.Errorf("Sufficient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.html")
	src := "<html><head><meta charset=\"windows-1252\"></head><body><p>\x93US persons only\x94</p></body></html>"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := dom.InnerText(d.Body()); got != "“US persons only”" {
		t.Errorf("text: %q", got)
	}
	if !strings.HasPrefix(d.URL(), "file:///") {
		t.Errorf("url: %q", d.URL())
	}
}
