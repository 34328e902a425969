package effector

import (
	"context"
	"sync"

	"github.com/zerverhq/zerver/internal/decision"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Cache is the reference in-process KV-cache effector (SPEC_FULL.md demo
// effector): it satisfies cache_get/set/delete against a plain map guarded
// by a mutex. It exists to give join/retry/idempotency tests a second
// effector kind that completes instantly, alongside HTTP.
type Cache struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewCache builds an empty in-process cache effector.
func NewCache() *Cache {
	return &Cache{store: make(map[string][]byte)}
}

func (c *Cache) Supports(k decision.Kind) bool {
	switch k {
	case decision.KindCacheGet, decision.KindCacheSet, decision.KindCacheDelete:
		return true
	default:
		return false
	}
}

func (c *Cache) Execute(ctx context.Context, e decision.Effect) decision.Result {
	if err := ctx.Err(); err != nil {
		return decision.Result{Err: zerrors.New(zerrors.Timeout, "cache", e.Target, err)}
	}

	switch e.Kind {
	case decision.KindCacheGet:
		c.mu.RLock()
		v, ok := c.store[e.Target]
		c.mu.RUnlock()
		if !ok {
			return decision.Result{Err: zerrors.New(zerrors.NotFound, "cache", e.Target, errCacheMiss{})}
		}
		return decision.Result{Success: true, Value: v}

	case decision.KindCacheSet:
		payload, ok := e.Payload.([]byte)
		if !ok {
			return decision.Result{Err: zerrors.New(zerrors.InvalidInput, "cache", e.Target, errCachePayload{})}
		}
		c.mu.Lock()
		c.store[e.Target] = payload
		c.mu.Unlock()
		return decision.Result{Success: true, Value: payload}

	case decision.KindCacheDelete:
		c.mu.Lock()
		delete(c.store, e.Target)
		c.mu.Unlock()
		return decision.Result{Success: true}

	default:
		return decision.Result{Err: zerrors.New(zerrors.Internal, "cache", e.Target, errUnsupportedKind(e.Kind))}
	}
}

func (c *Cache) Cancel(string) error { return nil }

type errCacheMiss struct{}

func (errCacheMiss) Error() string { return "cache key not found" }

type errCachePayload struct{}

func (errCachePayload) Error() string { return "cache set requires []byte payload" }

type errUnsupportedKind decision.Kind

func (k errUnsupportedKind) Error() string { return "unsupported cache effect kind " + string(k) }
