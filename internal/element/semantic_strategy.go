// internal/element/semantic_strategy.go
package element

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/dom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/semantic"
)

const defaultSemanticTimeout = 5 * time.Second

// errSemanticTimeout is the cause of the shared deadline.
var errSemanticTimeout = errors.New("semantic classification timed out")

// SemanticState is the lifecycle of one semantic resolution.
type SemanticState int

const (
	StateIdle SemanticState = iota
	StateDispatching
	StateAggregating
	StateResolved
	StateTimedOut
	StateFailed
)

func (s SemanticState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAggregating:
		return "aggregating"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state_%d", int(s))
}

type frameReply struct {
	frame frames.GlobalFrameID
	nodes []semantic.Node
	err   error
}

// SemanticStrategy fans a classification out to every live frame under the
// start frame and accepts exactly one candidate overall. One goroutine (the
// caller of Resolve) owns the state; classifier calls run in their own
// goroutines and only report back over a channel.
type SemanticStrategy struct {
	deps   Deps
	filter schemas.SemanticFilter
	logger *zap.Logger

	state   SemanticState
	pending map[frames.GlobalFrameID]bool
	nodes   []SemanticNodeResult
}

var _ Strategy = (*SemanticStrategy)(nil)

func NewSemanticStrategy(deps Deps, filter schemas.SemanticFilter) *SemanticStrategy {
	return &SemanticStrategy{
		deps:   deps,
		filter: filter,
		logger: deps.logger().Named("semantic_strategy"),
	}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

// State reports where the last resolution ended.
func (s *SemanticStrategy) State() SemanticState { return s.state }

// Nodes returns every candidate collected by the last resolution.
func (s *SemanticStrategy) Nodes() []SemanticNodeResult { return s.nodes }

func (s *SemanticStrategy) timeout() time.Duration {
	switch {
	case s.filter.ModelTimeout > 0:
		return s.filter.ModelTimeout
	case s.deps.SemanticTimeout > 0:
		return s.deps.SemanticTimeout
	}
	return defaultSemanticTimeout
}

func (s *SemanticStrategy) Resolve(ctx context.Context, start Result) (Result, error) {
	s.state = StateIdle
	s.nodes = nil

	root := start.FrameHost
	if root.IsZero() {
		root = s.deps.Tree.Main()
	}
	targets, err := s.deps.Tree.Descendants(ctx, root)
	if err != nil {
		return s.fail(schemas.WrapStatus(schemas.ElementResolutionFailed, err))
	}
	if len(targets) == 0 {
		return s.fail(schemas.Statusf(schemas.ElementResolutionFailed, "no live frame under %s", root))
	}

	timeout := s.timeout()
	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, errSemanticTimeout)
	defer cancel()

	// Teardown of a pending frame counts as its reply.
	isTarget := make(map[frames.GlobalFrameID]bool, len(targets))
	for _, t := range targets {
		isTarget[t] = true
	}
	gone := make(chan frames.GlobalFrameID, len(targets))
	unsubscribe := s.deps.Tree.Subscribe(func(id frames.GlobalFrameID) {
		if !isTarget[id] {
			return
		}
		select {
		case gone <- id:
		default:
		}
	})
	defer unsubscribe()

	s.state = StateDispatching
	s.pending = make(map[frames.GlobalFrameID]bool, len(targets))
	replies := make(chan frameReply, len(targets))
	req := semantic.Request{
		Role:            s.filter.Role,
		Objective:       s.filter.Objective,
		IgnoreObjective: s.filter.IgnoreObjective,
		Timeout:         timeout,
	}

	var g errgroup.Group
	for _, t := range targets {
		if !s.deps.Tree.IsLive(t) {
			continue
		}
		s.pending[t] = true
		frame := t
		g.Go(func() error {
			nodes, err := s.deps.Classifier.GetSemanticNodes(runCtx, frame, req)
			replies <- frameReply{frame: frame, nodes: nodes, err: err}
			return nil
		})
	}
	// Stragglers are released by cancel and must finish before we return.
	defer func() { _ = g.Wait() }()
	defer cancel()

	s.state = StateAggregating
	timedOut := false
	for len(s.pending) > 0 && !timedOut {
		select {
		case r := <-replies:
			s.accept(r)
		case id := <-gone:
			if s.pending[id] {
				s.logger.Debug("Pending frame torn down", zap.Stringer("frame", id))
				delete(s.pending, id)
			}
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return s.fail(schemas.StatusOf(context.Cause(ctx)))
			}
			timedOut = true
		}
	}
	pendingLeft := len(s.pending)
	s.pending = nil

	switch {
	case len(s.nodes) == 0 && timedOut:
		s.state = StateTimedOut
		return Result{}, schemas.Statusf(schemas.TimedOut, "%d frame(s) did not reply within %s", pendingLeft, timeout)
	case len(s.nodes) == 0:
		return s.fail(schemas.Statusf(schemas.ElementResolutionFailed, "no semantic match in %d frame(s)", len(targets)))
	case len(s.nodes) > 1:
		return s.fail(schemas.Statusf(schemas.TooManyElements, "%d semantic matches", len(s.nodes)))
	}
	return s.resolveWinner(ctx, s.nodes[0])
}

// accept records a reply unless its frame is no longer pending.
func (s *SemanticStrategy) accept(r frameReply) {
	if !s.pending[r.frame] {
		s.logger.Debug("Dropping reply of a frame that is not pending", zap.Stringer("frame", r.frame))
		return
	}
	delete(s.pending, r.frame)
	if r.err != nil {
		s.logger.Debug("Frame classification failed", zap.Stringer("frame", r.frame), zap.Error(r.err))
		return
	}
	for _, n := range r.nodes {
		s.nodes = append(s.nodes, SemanticNodeResult{
			Node:         GlobalBackendNodeID{FrameHost: r.frame, BackendNodeID: n.BackendNodeID},
			UsedOverride: n.UsedOverride,
		})
	}
}

func (s *SemanticStrategy) resolveWinner(ctx context.Context, winner SemanticNodeResult) (Result, error) {
	frame := winner.Node.FrameHost
	obj, err := s.deps.Client.ResolveNode(ctx, dom.ResolveNode().WithBackendNodeID(winner.Node.BackendNodeID), frame.SessionFrameID())
	if err != nil {
		return s.fail(schemas.WrapStatus(schemas.ElementResolutionFailed, err))
	}
	s.state = StateResolved
	return Result{
		FrameHost:      frame,
		ObjectID:       obj.ObjectID,
		NodeFrameID:    frame.SessionFrameID(),
		BackendNodeID:  winner.Node.BackendNodeID,
		ContainerFrame: frame,
	}, nil
}

func (s *SemanticStrategy) fail(err error) (Result, error) {
	s.state = StateFailed
	return Result{}, err
}
