package reqctx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerverhq/zerver/internal/slot"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) Event(name string, _ map[string]any) {
	r.events = append(r.events, name)
}

func newTestRequest() Request {
	return Request{
		Method:     "GET",
		Path:       "/items/42",
		Headers:    map[string][]string{"X-Trace-Id": {"first", "second"}},
		PathParams: map[string]string{"id": "42"},
		Query:      map[string][]string{"verbose": {"true"}},
		ClientAddr: "10.0.0.1:5555",
		Body:       []byte(`{}`),
	}
}

func TestHeaderIsCaseInsensitiveAndReturnsLast(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	require.Equal(t, "second", ctx.Header("x-trace-id"))
	require.Equal(t, []string{"first", "second"}, ctx.HeaderAll("X-TRACE-ID"))
}

func TestParamIsCaseSensitive(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	require.Equal(t, "42", ctx.Param("id"))
	require.Equal(t, "", ctx.Param("ID"))
}

func TestQueryReturnsFirstValue(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	require.Equal(t, "true", ctx.Query("verbose"))
	require.Equal(t, "", ctx.Query("missing"))
}

func TestOnExitRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	var order []int
	ctx.OnExit(func() { order = append(order, 1) })
	ctx.OnExit(func() { order = append(order, 2) })
	ctx.OnExit(func() { order = append(order, 3) })

	ctx.RunExitCallbacks()
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestRunExitCallbacksIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	calls := 0
	ctx.OnExit(func() { calls++ })

	ctx.RunExitCallbacks()
	ctx.RunExitCallbacks()
	require.Equal(t, 1, calls)
}

func TestBufFmtAndToJSON(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	s, err := ctx.BufFmt("item:%d", 42)
	require.NoError(t, err)
	require.Equal(t, "item:42", s)

	raw, err := ctx.ToJSON(map[string]string{"id": "42"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"42"}`, string(raw))
}

func TestLastErrorDefaultsToNil(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	require.NoError(t, ctx.LastError())

	ctx.SetLastError(slot.SlotMissing)
	require.Equal(t, slot.SlotMissing, ctx.LastError())
}

func TestLogDebugEmitsEvent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	ctx := New(newTestRequest(), "req-1", sink)
	ctx.LogDebug("hello", map[string]any{"k": "v"})
	require.Equal(t, []string{"log_debug"}, sink.events)
}

func TestViewBuildsDeclaredProjection(t *testing.T) {
	t.Parallel()

	ctx := New(newTestRequest(), "req-1", nil)
	view := ctx.View(nil, []slot.ID{"Out"})
	require.NoError(t, slot.Put(view, "Out", 1))

	got, err := slot.Require[int](ctx.View([]slot.ID{"Out"}, nil), "Out")
	require.NoError(t, err)
	require.Equal(t, 1, got)
}
