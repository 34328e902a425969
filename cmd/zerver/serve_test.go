package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/reqctx"
)

func TestHealthStepReturnsOK(t *testing.T) {
	ctx := reqctx.New(reqctx.Request{Method: "GET", Path: "/healthz"}, "req-1", nil)

	decided, err := healthStep.Call(ctx)
	require.NoError(t, err)

	require.Equal(t, 200, decided.Response.Status)
	require.JSONEq(t, `{"status":"ok"}`, string(decided.Response.Body))
}
