// internal/element/element.go
package element

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/semantic"
)

// Result identifies one located node. It is a plain value; the remote object
// it names is owned by the browser.
type Result struct {
	// FrameHost is the frame that owns the node.
	FrameHost frames.GlobalFrameID
	// ObjectID is valid as long as the frame's execution context lives.
	ObjectID runtime.RemoteObjectID
	// NodeFrameID is the devtools session of the node, empty for the main process.
	NodeFrameID   cdp.FrameID
	BackendNodeID cdp.BackendNodeID
	// ContainerFrame is the frame hosting the node within its process.
	ContainerFrame frames.GlobalFrameID
	// FrameStack lists the iframe elements crossed to reach the node,
	// outermost first.
	FrameStack []Result
}

// IsZero reports whether r names no element, which callers read as "the main
// document".
func (r Result) IsZero() bool { return r.ObjectID == "" }

// GlobalBackendNodeID names a node across frames.
type GlobalBackendNodeID struct {
	FrameHost     frames.GlobalFrameID
	BackendNodeID cdp.BackendNodeID
}

// SemanticNodeResult is one classifier candidate.
type SemanticNodeResult struct {
	Node         GlobalBackendNodeID
	UsedOverride bool
}

// Cardinality states how many matches a CSS resolution accepts.
type Cardinality int

const (
	// ExactlyOneMatch fails with TooManyElements when more than one node matches.
	ExactlyOneMatch Cardinality = iota
	// AnyMatch returns the first match in document order.
	AnyMatch
)

func (c Cardinality) String() string {
	if c == AnyMatch {
		return "any_match"
	}
	return "exactly_one_match"
}

// Strategy resolves a selector from a start element.
type Strategy interface {
	Resolve(ctx context.Context, start Result) (Result, error)
	Name() string
}

// LogSink receives one diagnostic record per finder run.
type LogSink interface {
	Append(ctx context.Context, info schemas.ElementFinderInfo) error
}

// Deps bundles the collaborators of the finder and its strategies.
type Deps struct {
	Client devtools.Client
	Tree   frames.Tree
	// Classifier is optional; semantic selectors fail without it.
	Classifier semantic.Classifier
	// Sink is optional.
	Sink   LogSink
	Logger *zap.Logger
	// SemanticTimeout applies when a semantic filter carries no timeout.
	SemanticTimeout time.Duration
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
