// internal/semantic/semantic.go
package semantic

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/actuator/internal/frames"
)

// Request asks one frame for the nodes that play Role (and, unless
// IgnoreObjective, serve Objective).
type Request struct {
	Role            int32
	Objective       int32
	IgnoreObjective bool
	// Timeout is the budget of the whole resolution, forwarded for information.
	Timeout time.Duration
}

// Node is one candidate reported by a frame.
type Node struct {
	BackendNodeID cdp.BackendNodeID
	// UsedOverride is set when the match came from a configured override
	// instead of the model.
	UsedOverride bool
}

// Classifier classifies the nodes of a single frame. Implementations must
// return promptly once ctx is done.
type Classifier interface {
	GetSemanticNodes(ctx context.Context, frame frames.GlobalFrameID, req Request) ([]Node, error)
}

// Model turns a prompt into raw model output.
type Model interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
