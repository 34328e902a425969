// Package runtime wires the arena, slot store, decision/step/pipeline
// types, effector registry, dispatcher, scheduler pools, reactor, compute
// budget enforcer, and telemetry pipeline into the single process-wide
// Runtime an HTTP frontend drives (spec §6 "Runtime -> HTTP Frontend").
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zerverhq/zerver/internal/budget"
	"github.com/zerverhq/zerver/internal/config"
	"github.com/zerverhq/zerver/internal/decision"
	"github.com/zerverhq/zerver/internal/dispatcher"
	"github.com/zerverhq/zerver/internal/effector"
	"github.com/zerverhq/zerver/internal/infrastructure/events"
	"github.com/zerverhq/zerver/internal/infrastructure/logging"
	"github.com/zerverhq/zerver/internal/interpreter"
	"github.com/zerverhq/zerver/internal/pipeline"
	"github.com/zerverhq/zerver/internal/ports"
	"github.com/zerverhq/zerver/internal/reactor"
	"github.com/zerverhq/zerver/internal/reqctx"
	"github.com/zerverhq/zerver/internal/scheduler"
	"github.com/zerverhq/zerver/internal/step"
	"github.com/zerverhq/zerver/internal/telemetry"
	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Route binds a method/path pair to a compiled step pipeline and the error
// renderer used when a step in it fails (spec §6 "route table").
type Route struct {
	Method   string
	Path     string
	Steps    []step.Step
	Renderer interpreter.ErrorRenderer
}

// Runtime bundles the long-lived services built at process startup, the way
// AppContext does in the teacher's cmd package, generalized from a fixed set
// of use cases to an arbitrary registered route table.
type Runtime struct {
	cfg    config.Config
	logger ports.Logger
	events ports.EventPublisher

	globalBefore []step.Step
	routes       map[routeKey]compiledRoute

	budgetCfg     budget.Config
	telemetryPipe *telemetry.Pipeline

	effectReactor *reactor.Reactor
	effectPool    *scheduler.Pool
	computePool   *scheduler.Pool
	contPool      *scheduler.Pool
	dispatch      *dispatcher.Dispatcher
	interp        *interpreter.Interpreter
}

type routeKey struct {
	method string
	path   string
}

type compiledRoute struct {
	compiled *pipeline.Compiled
	renderer interpreter.ErrorRenderer
}

// New builds a Runtime from cfg, a backing logger/event publisher, the
// effector backends the application wants wired (HTTP, cache, ...), and the
// route table to serve.
func New(ctx context.Context, cfg config.Config, backends []effector.Effector, globalBefore []step.Step, routes []Route) (*Runtime, error) {
	appLogger, err := logging.New(logging.Options{Level: "info", Component: "runtime", Layer: "infrastructure"})
	if err != nil {
		return nil, fmt.Errorf("construct logger: %w", err)
	}
	publisher := events.NewLoggingPublisher(appLogger.With("component", "event_publisher"))
	telemetryPipe := telemetry.New(publisher,
		telemetry.WithPromotionThresholds(cfg.Tracing.PromoteQueueMs, cfg.Tracing.PromoteParkMs),
	)
	if cfg.Tracing.ForcePromote {
		telemetryPipe = telemetry.New(publisher,
			telemetry.WithPromotionThresholds(cfg.Tracing.PromoteQueueMs, cfg.Tracing.PromoteParkMs),
			telemetry.WithForcedPromotion(),
		)
	}

	rec := reactor.New(cfg.Pools.ReactorIOWorkers, cfg.Pools.ReactorQueue)

	contPool := scheduler.New(ctx, scheduler.Config{
		Workers:     cfg.Pools.Continuation.Workers,
		Capacity:    cfg.Pools.Continuation.Capacity,
		FairnessK:   cfg.Pools.Continuation.FairnessK,
		BlockOnFull: cfg.Pools.Continuation.BlockOnFull,
	})
	effectPool := scheduler.New(ctx, scheduler.Config{
		Workers:     cfg.Pools.Effector.Workers,
		Capacity:    cfg.Pools.Effector.Capacity,
		FairnessK:   cfg.Pools.Effector.FairnessK,
		BlockOnFull: cfg.Pools.Effector.BlockOnFull,
	})

	var computePool *scheduler.Pool
	switch cfg.Pools.ComputeMode {
	case config.ComputeDedicated:
		computePool = scheduler.New(ctx, scheduler.Config{
			Workers:     cfg.Pools.Compute.Workers,
			Capacity:    cfg.Pools.Compute.Capacity,
			FairnessK:   cfg.Pools.Compute.FairnessK,
			BlockOnFull: cfg.Pools.Compute.BlockOnFull,
		})
	case config.ComputeShared:
		computePool = effectPool
	case config.ComputeDisabled:
		computePool = nil
	}

	registry := effector.NewRegistry(backends...)
	disp := dispatcher.New(registry, rec, computePool, telemetryPipe)
	interp := interpreter.NewInterpreter(contPool, disp, telemetryPipe)

	rt := &Runtime{
		cfg:           cfg,
		logger:        appLogger,
		events:        publisher,
		routes:        make(map[routeKey]compiledRoute, len(routes)),
		globalBefore:  globalBefore,
		budgetCfg: budget.Config{
			MaxRequestCPUMs:      cfg.Budget.MaxRequestCPUMs,
			MaxTaskCPUMs:         cfg.Budget.MaxTaskCPUMs,
			Enforce:              cfg.Budget.Enforce,
			ParkOnExceeded:       cfg.Budget.ParkOnExceeded,
			DefaultPriority:      cfg.Budget.DefaultPriority,
			DefaultYieldInterval: cfg.Budget.DefaultYieldInterval,
		},
		telemetryPipe: telemetryPipe,
		effectReactor: rec,
		effectPool:    effectPool,
		computePool:   computePool,
		contPool:      contPool,
		dispatch:      disp,
		interp:        interp,
	}

	for _, r := range routes {
		if err := rt.Register(r); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Register compiles and adds one route to the table. Routes added after New
// has returned are picked up immediately (no restart required), matching
// how the teacher's plugin registry accepts late registrations.
func (rt *Runtime) Register(r Route) error {
	compiled, err := pipeline.Compile(rt.globalBefore, nil, r.Steps)
	if err != nil {
		return fmt.Errorf("compile route %s %s: %w", r.Method, r.Path, err)
	}
	renderer := r.Renderer
	if renderer == nil {
		renderer = jsonStatusRenderer
	}
	rt.routes[routeKey{method: r.Method, path: r.Path}] = compiledRoute{compiled: compiled, renderer: renderer}
	return nil
}

// Handle runs req through the matched route's pipeline and blocks until a
// terminal Response is produced (spec §6's HTTP frontend boundary: "parses
// the wire request... invokes the interpreter... writes the wire response").
func (rt *Runtime) Handle(ctx context.Context, req reqctx.Request) (decision.Response, error) {
	route, ok := rt.routes[routeKey{method: req.Method, path: req.Path}]
	if !ok {
		return decision.Response{Status: http.StatusNotFound, Body: []byte(`{"error":"not_found"}`)}, nil
	}

	requestID := uuid.NewString()
	sink := rt.telemetryPipe.SinkFor(requestID)
	base := reqctx.New(req, requestID, sink)

	deadline := time.Now().Add(rt.cfg.Server.RequestTimeout)
	ec := interpreter.New(base, route.compiled, route.renderer, deadline)
	ec.Budget = budget.New(rt.budgetCfg)

	rt.telemetryPipe.Emit(ctx, requestID, ports.EventRequestStart, map[string]any{
		"method": req.Method,
		"path":   req.Path,
	})

	if err := rt.interp.Submit(ctx, ec); err != nil {
		rt.telemetryPipe.ForgetRequest(requestID)
		return decision.Response{Status: http.StatusServiceUnavailable, Body: []byte(`{"error":"overloaded"}`)}, err
	}

	resp := ec.Wait()
	rt.telemetryPipe.ForgetRequest(requestID)
	return resp, nil
}

// Shutdown drains all worker pools and the reactor, giving in-flight
// requests up to their configured drain timeout to finish.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.contPool.Shutdown()
		rt.effectPool.Shutdown()
		if rt.computePool != nil && rt.computePool != rt.effectPool {
			rt.computePool.Shutdown()
		}
		rt.effectReactor.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rt.cfg.Server.DrainTimeout):
		return fmt.Errorf("shutdown: drain timeout exceeded")
	}
}

// Logger exposes the runtime's structured logger, for the HTTP frontend and
// CLI to log startup/shutdown events with.
func (rt *Runtime) Logger() ports.Logger { return rt.logger }

// Events exposes the runtime's event publisher so a trace viewer can
// subscribe to the same stream the telemetry pipeline emits on.
func (rt *Runtime) Events() ports.EventPublisher { return rt.events }

// jsonStatusRenderer is the default error renderer every route gets unless
// it supplies its own: a status-only body carrying the error's Kind.
func jsonStatusRenderer(err error, base *reqctx.CtxBase) decision.Response {
	status := http.StatusInternalServerError
	kind := string(zerrors.Internal)
	if zerr, ok := err.(*zerrors.Error); ok {
		status = zerr.Status()
		kind = string(zerr.Kind)
	}
	body, jsonErr := base.ToJSON(map[string]string{"error": kind})
	if jsonErr != nil {
		body = []byte(`{"error":"internal"}`)
	}
	return decision.Response{
		Status:  status,
		Headers: []decision.Header{{Name: "Content-Type", Value: "application/json"}},
		Body:    body,
	}
}
