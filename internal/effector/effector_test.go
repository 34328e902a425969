package effector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/decision"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

func TestRegistryResolvesByKind(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(NewHTTP(nil), NewCache())

	got, err := reg.Resolve(decision.KindCacheGet)
	require.NoError(t, err)
	require.IsType(t, &Cache{}, got)

	got, err = reg.Resolve(decision.KindHTTPPost)
	require.NoError(t, err)
	require.IsType(t, &HTTP{}, got)
}

func TestRegistryResolveFailsForUnregisteredKind(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(NewCache())
	_, err := reg.Resolve(decision.KindHTTPGet)
	require.Error(t, err)
}

func TestCacheSetThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx := context.Background()

	res := c.Execute(ctx, decision.Effect{Kind: decision.KindCacheSet, Target: "k", Payload: []byte("v")})
	require.True(t, res.Success)

	res = c.Execute(ctx, decision.Effect{Kind: decision.KindCacheGet, Target: "k"})
	require.True(t, res.Success)
	require.Equal(t, []byte("v"), res.Value)
}

func TestCacheGetMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	c := NewCache()
	res := c.Execute(context.Background(), decision.Effect{Kind: decision.KindCacheGet, Target: "missing"})
	require.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestHTTPEffectorExecutesGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTP(srv.Client())
	res := h.Execute(context.Background(), decision.Effect{Kind: decision.KindHTTPGet, Target: srv.URL})
	require.True(t, res.Success)
	require.Equal(t, []byte("ok"), res.Value)
}

func TestHTTPEffectorTreats5xxAsUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHTTP(srv.Client())
	res := h.Execute(context.Background(), decision.Effect{Kind: decision.KindHTTPGet, Target: srv.URL})
	require.False(t, res.Success)
	require.Error(t, res.Err)
	var zerr *zerrors.Error
	require.True(t, zerrors.As(res.Err, &zerr))
	require.Equal(t, zerrors.UpstreamUnavailable, zerr.Kind)
}
