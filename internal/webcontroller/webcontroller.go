// internal/webcontroller/webcontroller.go
//
// Package webcontroller drives resolved elements: clicks and taps, keyboard
// input, field values, dropdowns and a handful of readers. Every operation is
// bound to the liveness of the frame that owns its element and fails with
// FrameHostNotFound when that frame is torn down mid-flight.
package webcontroller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/autofill"
	"github.com/xkilldash9x/actuator/internal/config"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/observability"
)

const (
	defaultReadyRounds    = 50
	defaultReadyInterval  = 200 * time.Millisecond
	defaultStableRounds   = 50
	defaultStableInterval = 200 * time.Millisecond
)

// worker is one in-flight sub-operation started by the controller.
type worker struct {
	kind    string
	started time.Time
}

// WebController runs interactions against resolved elements. It is safe for
// concurrent use; independent operations share nothing but the worker table.
type WebController struct {
	deps   element.Deps
	agent  autofill.Agent
	cfg    config.EngineConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	workers map[uuid.UUID]worker
}

// New creates a controller. agent may be nil when no native autofill agent
// needs to be told about running interactions.
func New(deps element.Deps, agent autofill.Agent, cfg config.EngineConfig) *WebController {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DocumentReadyMaxRounds <= 0 {
		cfg.DocumentReadyMaxRounds = defaultReadyRounds
	}
	if cfg.DocumentReadyInterval <= 0 {
		cfg.DocumentReadyInterval = defaultReadyInterval
	}
	if cfg.StableCheckMaxRounds <= 0 {
		cfg.StableCheckMaxRounds = defaultStableRounds
	}
	if cfg.StableCheckInterval <= 0 {
		cfg.StableCheckInterval = defaultStableInterval
	}
	if cfg.ClickType == "" {
		cfg.ClickType = string(schemas.ClickNative)
	}
	if deps.SemanticTimeout == 0 {
		deps.SemanticTimeout = cfg.SemanticTimeout
	}
	return &WebController{
		deps:    deps,
		agent:   agent,
		cfg:     cfg,
		logger:  logger.Named("web_controller"),
		tracer:  observability.Tracer("actuator/webcontroller"),
		workers: make(map[uuid.UUID]worker),
	}
}

// Deps returns the collaborators the controller resolves elements with.
func (c *WebController) Deps() element.Deps { return c.deps }

// Workers reports how many sub-operations are in flight.
func (c *WebController) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

// startWorker registers a sub-operation and returns the function that
// removes it again. Removal is by id, so a worker started from within
// another worker's completion cannot disturb its parent's entry.
func (c *WebController) startWorker(kind string) func() {
	id := uuid.New()
	c.mu.Lock()
	c.workers[id] = worker{kind: kind, started: time.Now()}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		w, ok := c.workers[id]
		delete(c.workers, id)
		c.mu.Unlock()
		if ok {
			c.logger.Debug("Worker finished",
				zap.String("kind", w.kind),
				zap.Stringer("id", id),
				zap.Duration("elapsed", time.Since(w.started)))
		}
	}
}

// host is the frame an operation on el is bound to.
func (c *WebController) host(el element.Result) frames.GlobalFrameID {
	if el.FrameHost.IsZero() {
		return c.deps.Tree.Main()
	}
	return el.FrameHost
}

// run executes fn under a span and a context that dies with the element's
// frame, and normalizes whatever fn returned.
func (c *WebController) run(ctx context.Context, op string, el element.Result, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	frame := c.host(el)
	attrs = append(attrs,
		attribute.String("actuator.frame", frame.String()),
		attribute.Int64("actuator.backend_node_id", int64(el.BackendNodeID)))
	ctx, span := observability.StartSpan(ctx, c.tracer, c.logger, "webcontroller."+op, attrs...)

	watched, cancel := frames.Watch(ctx, c.deps.Tree, frame)
	err := frames.Status(watched, fn(watched))
	cancel()

	span.End(err)
	return err
}

// runElement is run for operations that need a resolved element.
func (c *WebController) runElement(ctx context.Context, op string, el element.Result, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if el.IsZero() {
		return schemas.Statusf(schemas.PreconditionFailed, "%s: no element", op)
	}
	return c.run(ctx, op, el, fn, attrs...)
}

// call runs a helper script against el and decodes its result into v.
func (c *WebController) call(ctx context.Context, el element.Result, fn string, v interface{}, args ...interface{}) error {
	return devtools.CallValue(ctx, c.deps.Client, el.NodeFrameID, el.ObjectID, fn, v, args...)
}

// guard tells the native autofill agent of el's frame that an assistant
// action is running.
func (c *WebController) guard(el element.Result) *autofill.Guard {
	return autofill.Acquire(c.agent, c.deps.Tree, c.host(el))
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
