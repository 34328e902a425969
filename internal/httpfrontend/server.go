// Package httpfrontend is the reference HTTP frontend from spec §6: it owns
// the socket, parses wire requests into reqctx.Request, and writes the
// interpreter's terminal Response back onto the wire. The runtime itself
// never touches net/http — this package is the one adapter that does, kept
// deliberately thin (spec's own words: "the core does not own sockets").
//
// No repo in the reference set runs a production HTTP server the way this
// package needs to (the teacher is a CLI tool), so this adapter is built
// directly on net/http rather than adapted from an example file; see
// DESIGN.md for the justification.
package httpfrontend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/ports"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/runtime"
)

const maxBodyBytes = 8 << 20 // 8 MiB cap on one request body.

// Server adapts net/http onto a runtime.Runtime.
type Server struct {
	rt     *runtime.Runtime
	http   *http.Server
	logger ports.Logger
}

// New builds a Server listening on addr and dispatching every request into
// rt.
func New(addr string, rt *runtime.Runtime) *Server {
	s := &Server{rt: rt, logger: rt.Logger()}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.http = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks serving requests until the server is shut down or an
// unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Info(context.Background(), "http frontend listening", "addr", s.http.Addr)
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and drains the runtime's worker
// pools, in that order, so in-flight requests still have workers available
// to finish on.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	return s.rt.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	query := make(map[string][]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		query[k] = v
	}

	resp, err := s.rt.Handle(r.Context(), reqctx.Request{
		Method:     r.Method,
		Path:       normalizePath(r.URL.Path),
		Headers:    r.Header,
		PathParams: nil, // route-level path params are left to a future router; path matching here is exact.
		Query:      query,
		ClientAddr: r.RemoteAddr,
		Body:       body,
	})
	if err != nil && s.logger != nil {
		s.logger.Error(r.Context(), "request handling failed", "error", err, "path", r.URL.Path)
	}

	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp decision.Response) {
	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}

	if resp.Stream != nil {
		w.WriteHeader(statusOrDefault(resp.Status))
		_ = resp.Stream(responseWriterAdapter{w})
		return
	}

	w.WriteHeader(statusOrDefault(resp.Status))
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func statusOrDefault(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

// normalizePath strips a trailing slash (except for "/" itself) so route
// registration doesn't need to special-case it.
func normalizePath(p string) string {
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

// responseWriterAdapter satisfies decision.ResponseWriter over an
// http.ResponseWriter.
type responseWriterAdapter struct {
	w http.ResponseWriter
}

func (a responseWriterAdapter) Write(p []byte) (int, error) {
	return a.w.Write(p)
}
