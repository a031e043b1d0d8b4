package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kwalarm/alarm"
	"github.com/hazyhaar/kwalarm/kit"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Router returns the HTTP API. The MCP tools are served under /mcp.
//
//	GET  /status
//	GET  /keywords
//	PUT  /keywords    JSON list, {"keywords": [...]}, or text/plain lines
//	POST /rescan
//	POST /reset
//	POST /navigate    {"url": "..."}
//	GET  /report      ?format=json|markdown|html
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(kitContext)

	r.Get("/status", s.handle(s.status, noBody))
	r.Get("/keywords", s.handle(s.keywords, noBody))
	r.Put("/keywords", s.handle(s.setKeywords, decodeKeywords))
	r.Post("/rescan", s.handle(s.rescan, noBody))
	r.Post("/reset", s.handle(s.reset, noBody))
	r.Post("/navigate", s.handle(s.navigate, decodeJSON[NavigateRequest]))
	r.Get("/report", s.handle(s.report, func(r *http.Request) (any, error) {
		return &ReportRequest{Format: r.URL.Query().Get("format")}, nil
	}))

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.MCPServer() }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)
	return r
}

// kitContext copies request metadata into the context kit middleware reads.
func kitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type decoder func(*http.Request) (any, error)

func noBody(*http.Request) (any, error) { return nil, nil }

func decodeJSON[T any](r *http.Request) (any, error) {
	v := new(T)
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return v, nil
}

// decodeKeywords accepts a JSON array, a KeywordsRequest object, or any
// non-JSON body as one phrase per line.
func decodeKeywords(r *http.Request) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/json" {
		return &KeywordsRequest{Text: string(body)}, nil
	}
	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return &KeywordsRequest{Keywords: list}, nil
	}
	var req KeywordsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return &req, nil
}

func (s *Server) handle(ep kit.Endpoint, decode decoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		switch v := resp.(type) {
		case string:
			ct := "text/markdown; charset=utf-8"
			if rr, ok := req.(*ReportRequest); ok && rr.Format == FormatHTML {
				ct = "text/html; charset=utf-8"
			}
			w.Header().Set("Content-Type", ct)
			io.WriteString(w, v)
		default:
			writeJSON(w, http.StatusOK, v)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, alarm.ErrEmptyKeywords), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoReport):
		return http.StatusNotFound
	case errors.Is(err, alarm.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
