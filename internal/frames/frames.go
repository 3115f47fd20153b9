// internal/frames/frames.go
package frames

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/actuator/api/schemas"
)

// ErrFrameDetached is the cancellation cause attached to operation contexts
// whose frame was torn down while the operation was outstanding.
var ErrFrameDetached = errors.New("frame detached")

// GlobalFrameID identifies a frame across renderer processes. Process is the
// devtools target that hosts the frame: empty for the main target, otherwise
// the frame id of the out-of-process iframe root that owns the session.
type GlobalFrameID struct {
	Process string      `json:"process,omitempty"`
	Frame   cdp.FrameID `json:"frame"`
}

// IsZero reports whether the id is unset.
func (g GlobalFrameID) IsZero() bool { return g.Process == "" && g.Frame == "" }

// SessionFrameID is the devtools frame id protocol calls against this frame
// must carry. It is empty when the frame shares the main target's process.
func (g GlobalFrameID) SessionFrameID() cdp.FrameID { return cdp.FrameID(g.Process) }

// SameProcess reports whether both frames live in the same renderer.
func (g GlobalFrameID) SameProcess(other GlobalFrameID) bool { return g.Process == other.Process }

func (g GlobalFrameID) String() string {
	if g.Process == "" {
		return fmt.Sprintf("main/%s", g.Frame)
	}
	return fmt.Sprintf("%s/%s", g.Process, g.Frame)
}

// Tree is the host's view of the live frame hierarchy.
type Tree interface {
	// Main returns the top level frame.
	Main() GlobalFrameID
	// Descendants lists every live frame under root, root included, in tree
	// order. Out-of-process frames are part of the result.
	Descendants(ctx context.Context, root GlobalFrameID) ([]GlobalFrameID, error)
	// Lookup maps a devtools frame id to its global identity.
	Lookup(ctx context.Context, frameID cdp.FrameID) (GlobalFrameID, error)
	// IsLive reports whether the frame still exists.
	IsLive(id GlobalFrameID) bool
	// Subscribe registers fn for teardown notifications. fn must not block.
	Subscribe(fn func(GlobalFrameID)) (unsubscribe func())
}

// Watch derives a context that is cancelled with cause ErrFrameDetached when
// the frame is torn down. The zero id is not watched. A frame that is
// already gone cancels the context immediately.
func Watch(ctx context.Context, tree Tree, id GlobalFrameID) (context.Context, context.CancelFunc) {
	watched, cancel := context.WithCancelCause(ctx)
	if tree == nil || id.IsZero() {
		return watched, func() { cancel(context.Canceled) }
	}

	unsubscribe := tree.Subscribe(func(detached GlobalFrameID) {
		if detached == id {
			cancel(fmt.Errorf("%w: %s", ErrFrameDetached, id))
		}
	})
	if !tree.IsLive(id) {
		cancel(fmt.Errorf("%w: %s", ErrFrameDetached, id))
	}
	return watched, func() {
		unsubscribe()
		cancel(context.Canceled)
	}
}

// Status translates the outcome of an operation run under a Watch context.
// A detach observed on ctx wins over whatever error the operation produced
// while unwinding.
func Status(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrFrameDetached) {
		return schemas.WrapStatus(schemas.FrameHostNotFound, cause)
	}
	return schemas.StatusOf(err)
}
