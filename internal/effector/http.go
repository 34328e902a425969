package effector

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/zerverhq/zerver/internal/decision"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// HTTP is the reference HTTP-verb effector (SPEC_FULL.md demo effector,
// not a production backend): it satisfies http_get/post/put/delete kinds
// using the stdlib client, and is meant to exercise the dispatcher's retry
// and timeout policy in tests and local examples.
type HTTP struct {
	Client *http.Client

	mu        sync.Mutex
	inflights map[string]context.CancelFunc
}

// NewHTTP builds an HTTP effector over client. A nil client uses
// http.DefaultClient.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Client: client, inflights: make(map[string]context.CancelFunc)}
}

func (h *HTTP) Supports(k decision.Kind) bool {
	switch k {
	case decision.KindHTTPGet, decision.KindHTTPPost, decision.KindHTTPPut, decision.KindHTTPDelete:
		return true
	default:
		return false
	}
}

func (h *HTTP) method(k decision.Kind) string {
	switch k {
	case decision.KindHTTPGet:
		return http.MethodGet
	case decision.KindHTTPPost:
		return http.MethodPost
	case decision.KindHTTPPut:
		return http.MethodPut
	case decision.KindHTTPDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

func (h *HTTP) Execute(ctx context.Context, e decision.Effect) decision.Result {
	attemptCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.inflights[e.Target] = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inflights, e.Target)
		h.mu.Unlock()
		cancel()
	}()

	var body io.Reader
	if b, ok := e.Payload.([]byte); ok {
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(attemptCtx, h.method(e.Kind), e.Target, body)
	if err != nil {
		return decision.Result{Err: zerrors.New(zerrors.InvalidInput, "http", e.Target, err)}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return decision.Result{Err: zerrors.New(zerrors.Timeout, "http", e.Target, err)}
		}
		return decision.Result{Err: zerrors.New(zerrors.UpstreamUnavailable, "http", e.Target, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decision.Result{Err: zerrors.New(zerrors.Internal, "http", e.Target, err)}
	}

	if resp.StatusCode >= 500 {
		return decision.Result{Err: zerrors.New(zerrors.UpstreamUnavailable, "http", e.Target, httpStatusErr(resp.StatusCode))}
	}
	if resp.StatusCode >= 400 {
		return decision.Result{Err: zerrors.New(zerrors.InvalidInput, "http", e.Target, httpStatusErr(resp.StatusCode))}
	}

	return decision.Result{Success: true, Value: payload}
}

func (h *HTTP) Cancel(target string) error {
	h.mu.Lock()
	cancel, ok := h.inflights[target]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

type httpStatusErr int

func (c httpStatusErr) Error() string {
	return "unexpected status code"
}
