// internal/element/css_strategy.go
package element

import (
	"context"
	"errors"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/frames"
)

// CSSStrategy walks the filters of a selector left to right over sets of
// remote objects, each living in one frame. Under AnyMatch entering several
// frames at once splits the walk into one set per frame.
type CSSStrategy struct {
	deps    Deps
	filters []schemas.Filter
	card    Cardinality
	logger  *zap.Logger

	matched []cdp.BackendNodeID
}

var _ Strategy = (*CSSStrategy)(nil)

func NewCSSStrategy(deps Deps, filters []schemas.Filter, card Cardinality) *CSSStrategy {
	return &CSSStrategy{
		deps:    deps,
		filters: filters,
		card:    card,
		logger:  deps.logger().Named("css_strategy"),
	}
}

func (s *CSSStrategy) Name() string { return "css" }

// Matched returns the backend ids of the final match set of the last run.
func (s *CSSStrategy) Matched() []cdp.BackendNodeID { return s.matched }

// cursor is the walk state: the current set and where it lives.
type cursor struct {
	frame   frames.GlobalFrameID
	session cdp.FrameID
	stack   []Result
	objects []runtime.RemoteObjectID
}

func (c cursor) result(id runtime.RemoteObjectID, backend cdp.BackendNodeID) Result {
	return Result{
		FrameHost:      c.frame,
		ObjectID:       id,
		NodeFrameID:    c.session,
		BackendNodeID:  backend,
		ContainerFrame: c.frame,
		FrameStack:     append([]Result(nil), c.stack...),
	}
}

// Resolve returns the single match, or the first one under AnyMatch.
func (s *CSSStrategy) Resolve(ctx context.Context, start Result) (Result, error) {
	groups, err := s.walk(ctx, start)
	if err != nil {
		return Result{}, err
	}
	if s.card == ExactlyOneMatch && len(groups[0].objects) > 1 {
		return Result{}, schemas.Statusf(schemas.TooManyElements, "%d elements match", len(groups[0].objects))
	}
	s.matched = s.matched[:0]
	results, err := s.describe(ctx, groups[0], groups[0].objects[:1])
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// ResolveAll returns every match in document order.
func (s *CSSStrategy) ResolveAll(ctx context.Context, start Result) ([]Result, error) {
	groups, err := s.walk(ctx, start)
	if err != nil {
		return nil, err
	}
	s.matched = s.matched[:0]
	var all []Result
	for _, g := range groups {
		results, err := s.describe(ctx, g, g.objects)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}
	return all, nil
}

func (s *CSSStrategy) describe(ctx context.Context, cur cursor, ids []runtime.RemoteObjectID) ([]Result, error) {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		node, err := s.deps.Client.DescribeNode(ctx, dom.DescribeNode().WithObjectID(id), cur.session)
		if err != nil {
			return nil, devtools.CheckResult(nil, err)
		}
		s.matched = append(s.matched, node.BackendNodeID)
		results = append(results, cur.result(id, node.BackendNodeID))
	}
	return results, nil
}

// walk returns the non-empty match sets left after the last filter, one per
// frame reached, in document order.
func (s *CSSStrategy) walk(ctx context.Context, start Result) ([]cursor, error) {
	cur, err := s.begin(ctx, start)
	if err != nil {
		return nil, err
	}
	return s.walkFrom(ctx, cur, 0)
}

func (s *CSSStrategy) walkFrom(ctx context.Context, cur cursor, from int) ([]cursor, error) {
	for i := from; i < len(s.filters); i++ {
		f := s.filters[i]
		var err error
		switch f.Kind {
		case schemas.FilterCSSSelector:
			cur.objects, err = s.querySelectorAll(ctx, cur, f.CSS)
		case schemas.FilterInnerText:
			cur.objects, err = s.keep(ctx, cur, js.MatchText, "innerText", f.Text.Re, f.Text.CaseSensitive)
		case schemas.FilterValue:
			cur.objects, err = s.keep(ctx, cur, js.MatchText, "value", f.Text.Re, f.Text.CaseSensitive)
		case schemas.FilterProperty:
			cur.objects, err = s.keep(ctx, cur, js.MatchText, f.Property.Name, f.Property.Text.Re, f.Property.Text.CaseSensitive)
		case schemas.FilterMatchCSSSelector:
			cur.objects, err = s.keep(ctx, cur, js.MatchesSelector, f.CSS)
		case schemas.FilterBoundingBox:
			cur.objects, err = s.keep(ctx, cur, js.IsVisible)
		case schemas.FilterPickOne:
			if len(cur.objects) > 1 {
				cur.objects = cur.objects[:1]
			}
		case schemas.FilterNthMatch:
			if f.Index >= len(cur.objects) {
				return nil, schemas.Statusf(schemas.ElementResolutionFailed, "filter %d: nth_match %d of %d elements", i, f.Index, len(cur.objects))
			}
			cur.objects = cur.objects[f.Index : f.Index+1]
		case schemas.FilterEnterFrame:
			if len(cur.objects) > 1 {
				if s.card == ExactlyOneMatch {
					return nil, schemas.Statusf(schemas.TooManyElements, "cannot enter %d frames at once", len(cur.objects))
				}
				return s.enterEach(ctx, cur, i)
			}
			cur, err = s.enterFrame(ctx, cur, cur.objects[0])
		default:
			return nil, schemas.Statusf(schemas.InvalidSelector, "filter %d: %s is not a css filter", i, f.Kind)
		}
		if err != nil {
			return nil, err
		}
		if len(cur.objects) == 0 {
			s.logger.Debug("No element left", zap.Int("filter", i), zap.String("kind", string(f.Kind)))
			return nil, schemas.Statusf(schemas.ElementResolutionFailed, "no element matches after filter %d (%s)", i, f.Kind)
		}
	}
	return []cursor{cur}, nil
}

// enterEach descends into every frame of the current set and walks the
// filters after index i in each of them. Frames where nothing matches are
// skipped; the walk fails only when no frame yields a match.
func (s *CSSStrategy) enterEach(ctx context.Context, cur cursor, i int) ([]cursor, error) {
	var (
		out     []cursor
		lastErr error
	)
	for _, owner := range cur.objects {
		next, err := s.enterFrame(ctx, cur, owner)
		if err == nil {
			var found []cursor
			found, err = s.walkFrom(ctx, next, i+1)
			out = append(out, found...)
		}
		if err != nil {
			if !schemas.IsStatus(err, schemas.ElementResolutionFailed) {
				return nil, err
			}
			lastErr = err
		}
	}
	if len(out) == 0 {
		return nil, lastErr
	}
	return out, nil
}

// begin positions the cursor on the start element, or on the document of the
// start frame (the main frame when unset).
func (s *CSSStrategy) begin(ctx context.Context, start Result) (cursor, error) {
	if !start.IsZero() {
		return cursor{
			frame:   start.FrameHost,
			session: start.NodeFrameID,
			stack:   start.FrameStack,
			objects: []runtime.RemoteObjectID{start.ObjectID},
		}, nil
	}

	frame := start.FrameHost
	if frame.IsZero() {
		frame = s.deps.Tree.Main()
	}
	doc, err := frames.Document(ctx, s.deps.Client, s.deps.Tree, frame)
	if err != nil {
		return cursor{}, err
	}
	return cursor{frame: frame, session: frame.SessionFrameID(), objects: []runtime.RemoteObjectID{doc}}, nil
}

func (s *CSSStrategy) querySelectorAll(ctx context.Context, cur cursor, css string) ([]runtime.RemoteObjectID, error) {
	var out []runtime.RemoteObjectID
	for _, id := range cur.objects {
		array, err := devtools.Call(ctx, s.deps.Client, cur.session, id, js.QuerySelectorAll, false, css)
		if err != nil {
			return nil, asSelectorError(err, css)
		}
		ids, err := devtools.ArrayElements(ctx, s.deps.Client, cur.session, array.ObjectID)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	if len(cur.objects) > 1 {
		return s.dedupe(ctx, cur.session, out)
	}
	return out, nil
}

// dedupe drops repeated nodes, which nested roots produce.
func (s *CSSStrategy) dedupe(ctx context.Context, session cdp.FrameID, ids []runtime.RemoteObjectID) ([]runtime.RemoteObjectID, error) {
	seen := make(map[cdp.BackendNodeID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		node, err := s.deps.Client.DescribeNode(ctx, dom.DescribeNode().WithObjectID(id), session)
		if err != nil {
			return nil, devtools.CheckResult(nil, err)
		}
		if seen[node.BackendNodeID] {
			continue
		}
		seen[node.BackendNodeID] = true
		out = append(out, id)
	}
	return out, nil
}

// keep filters the current set with a predicate script.
func (s *CSSStrategy) keep(ctx context.Context, cur cursor, fn string, args ...interface{}) ([]runtime.RemoteObjectID, error) {
	var out []runtime.RemoteObjectID
	for _, id := range cur.objects {
		var ok bool
		if err := devtools.CallValue(ctx, s.deps.Client, cur.session, id, fn, &ok, args...); err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *CSSStrategy) enterFrame(ctx context.Context, cur cursor, owner runtime.RemoteObjectID) (cursor, error) {
	node, err := s.deps.Client.DescribeNode(ctx, dom.DescribeNode().WithObjectID(owner), cur.session)
	if err != nil {
		return cursor{}, devtools.CheckResult(nil, err)
	}
	if node.FrameID == "" {
		return cursor{}, schemas.Statusf(schemas.ElementResolutionFailed, "%s is not a frame", node.NodeName)
	}

	next := cursor{stack: append(append([]Result(nil), cur.stack...), cur.result(owner, node.BackendNodeID))}

	if node.ContentDocument != nil {
		doc, err := s.deps.Client.ResolveNode(ctx, dom.ResolveNode().WithBackendNodeID(node.ContentDocument.BackendNodeID), cur.session)
		if err != nil {
			return cursor{}, devtools.CheckResult(nil, err)
		}
		next.frame = frames.GlobalFrameID{Process: cur.frame.Process, Frame: node.FrameID}
		next.session = cur.session
		next.objects = []runtime.RemoteObjectID{doc.ObjectID}
		return next, nil
	}

	// Out-of-process frame: the document lives in another session.
	child, err := s.deps.Tree.Lookup(ctx, node.FrameID)
	if err != nil {
		return cursor{}, schemas.WrapStatus(schemas.ElementResolutionFailed, err)
	}
	doc, exc, err := s.deps.Client.Evaluate(ctx, runtime.Evaluate(js.Document), child.SessionFrameID())
	if err := devtools.CheckResult(exc, err); err != nil {
		return cursor{}, err
	}
	next.frame = child
	next.session = child.SessionFrameID()
	next.objects = []runtime.RemoteObjectID{doc.ObjectID}
	return next, nil
}

// asSelectorError reports a selector the page refused to parse as an invalid
// selector rather than an unexpected failure.
func asSelectorError(err error, css string) error {
	var status *schemas.ClientStatus
	if errors.As(err, &status) && status.Details.Unexpected != nil && status.Details.Unexpected.JSExceptionClass == "SyntaxError" {
		return schemas.Statusf(schemas.InvalidSelector, "invalid css selector %q", css)
	}
	return err
}
