// internal/element/finder.go
package element

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/observability"
)

// Finder resolves one selector. It picks the strategy from the selector's
// first filter and owns that strategy for its lifetime. A Finder is not safe
// for concurrent use; create one per resolution.
type Finder struct {
	deps     Deps
	selector schemas.Selector
	card     Cardinality
	logger   *zap.Logger
	tracer   trace.Tracer

	semantic *SemanticStrategy
	css      *CSSStrategy
}

func NewFinder(deps Deps, selector schemas.Selector, card Cardinality) *Finder {
	return &Finder{
		deps:     deps,
		selector: selector,
		card:     card,
		logger:   deps.logger().Named("element_finder"),
		tracer:   observability.Tracer("actuator/element"),
	}
}

// Start resolves the selector from start, or from the main document when
// start is the zero Result.
func (f *Finder) Start(ctx context.Context, start Result) (res Result, err error) {
	err = f.run(ctx, "element.Finder/Start", func(ctx context.Context) error {
		var err error
		res, err = f.resolve(ctx, start)
		return err
	})
	return res, err
}

// StartAll resolves every element matching a CSS selector. Semantic
// selectors resolve to at most one element.
func (f *Finder) StartAll(ctx context.Context, start Result) (res []Result, err error) {
	err = f.run(ctx, "element.Finder/StartAll", func(ctx context.Context) error {
		if f.selector.IsSemantic() {
			one, err := f.resolve(ctx, start)
			if err != nil {
				return err
			}
			res = []Result{one}
			return nil
		}
		f.css = NewCSSStrategy(f.deps, f.selector.Filters, AnyMatch)
		var err error
		res, err = f.css.ResolveAll(ctx, start)
		return err
	})
	return res, err
}

// Nodes returns the semantic candidates of the last run, if any.
func (f *Finder) Nodes() []SemanticNodeResult {
	if f.semantic == nil {
		return nil
	}
	return f.semantic.Nodes()
}

func (f *Finder) run(ctx context.Context, op string, fn func(context.Context) error) error {
	began := time.Now()
	ctx, span := observability.StartSpan(ctx, f.tracer, f.logger, op,
		attribute.String("actuator.selector", f.selector.String()),
		attribute.String("actuator.tracking_id", f.selector.TrackingID),
		attribute.String("actuator.cardinality", f.card.String()))

	err := f.validate()
	if err == nil {
		err = fn(ctx)
	}
	span.End(err)

	f.report(ctx, err, time.Since(began))
	return err
}

func (f *Finder) validate() error {
	if f.selector.Empty() {
		return schemas.Statusf(schemas.InvalidSelector, "empty selector")
	}
	if err := f.selector.Validate(); err != nil {
		return err
	}
	if f.selector.IsSemantic() && f.deps.Classifier == nil {
		return schemas.Statusf(schemas.PreconditionFailed, "semantic selector without a classifier")
	}
	return nil
}

func (f *Finder) resolve(ctx context.Context, start Result) (Result, error) {
	if !f.selector.IsSemantic() {
		f.css = NewCSSStrategy(f.deps, f.selector.Filters, f.card)
		return f.css.Resolve(ctx, start)
	}

	f.semantic = NewSemanticStrategy(f.deps, *f.selector.Filters[0].Semantic)
	root, err := f.semantic.Resolve(ctx, start)
	if err != nil || len(f.selector.Filters) == 1 {
		return root, err
	}

	f.css = NewCSSStrategy(f.deps, f.selector.Filters[1:], f.card)
	return f.css.Resolve(ctx, root)
}

// report appends the diagnostic record of a run to the sink. Sink failures
// are logged and otherwise ignored.
func (f *Finder) report(ctx context.Context, err error, took time.Duration) {
	info := schemas.ElementFinderInfo{
		Status:     schemas.CodeOf(err),
		TrackingID: f.selector.TrackingID,
		Strategy:   "none",
		Duration:   took,
	}
	if f.semantic != nil {
		info.Strategy = f.semantic.Name()
		for _, n := range f.semantic.Nodes() {
			info.SemanticNodes = append(info.SemanticNodes, schemas.SemanticNodeInfo{
				FrameHost:     n.Node.FrameHost.String(),
				BackendNodeID: int64(n.Node.BackendNodeID),
				UsedOverride:  n.UsedOverride,
			})
		}
		if err == nil && f.css == nil {
			info.MatchedBackendIDs = []int64{info.SemanticNodes[0].BackendNodeID}
		}
	}
	if f.css != nil {
		if f.semantic != nil {
			info.Strategy = "semantic+css"
		} else {
			info.Strategy = f.css.Name()
		}
		if err == nil {
			for _, id := range f.css.Matched() {
				info.MatchedBackendIDs = append(info.MatchedBackendIDs, int64(id))
			}
		}
	}

	f.logger.Debug("Element finder finished",
		zap.String("selector", f.selector.String()),
		zap.String("tracking_id", info.TrackingID),
		zap.String("strategy", info.Strategy),
		zap.Stringer("status", info.Status),
		zap.Duration("duration", took))

	if f.deps.Sink == nil {
		return
	}
	// The record is written even when the run was cancelled.
	if err := f.deps.Sink.Append(context.WithoutCancel(ctx), info); err != nil {
		f.logger.Warn("Failed to append element finder record", zap.Error(err))
	}
}
