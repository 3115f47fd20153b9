// internal/autofill/autofill.go
package autofill

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/internal/frames"
)

// Agent is the per-frame native autofill toggle. While an assistant action is
// running in a frame, native autofill must not trigger in it.
type Agent interface {
	SetAssistantActionRunning(frame frames.GlobalFrameID, running bool)
}

// Registry is an in-process Agent. It counts nested acquisitions so two
// overlapping interactions on the same frame keep the flag set until both end.
type Registry struct {
	mu      sync.Mutex
	running map[frames.GlobalFrameID]int
	logger  *zap.Logger
}

var _ Agent = (*Registry)(nil)

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		running: make(map[frames.GlobalFrameID]int),
		logger:  logger.Named("autofill"),
	}
}

func (r *Registry) SetAssistantActionRunning(frame frames.GlobalFrameID, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if running {
		r.running[frame]++
	} else if r.running[frame] > 0 {
		r.running[frame]--
		if r.running[frame] == 0 {
			delete(r.running, frame)
		}
	}
	r.logger.Debug("Assistant action state changed",
		zap.Stringer("frame", frame),
		zap.Bool("running", running),
		zap.Int("depth", r.running[frame]))
}

// IsRunning reports whether an assistant action holds the frame.
func (r *Registry) IsRunning(frame frames.GlobalFrameID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[frame] > 0
}

// Forget drops all state for a frame, e.g. after it was torn down.
func (r *Registry) Forget(frame frames.GlobalFrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, frame)
}

// Guard holds the running flag of one frame until Release.
type Guard struct {
	agent Agent
	tree  frames.Tree
	frame frames.GlobalFrameID
	once  sync.Once
}

// Acquire sets the running flag for frame. A nil agent yields a guard whose
// Release does nothing.
func Acquire(agent Agent, tree frames.Tree, frame frames.GlobalFrameID) *Guard {
	g := &Guard{agent: agent, tree: tree, frame: frame}
	if agent != nil {
		agent.SetAssistantActionRunning(frame, true)
	}
	return g
}

// Release clears the running flag. It is safe to call more than once and is
// a no-op once the frame is gone.
func (g *Guard) Release() {
	g.once.Do(func() {
		if g.agent == nil {
			return
		}
		if g.tree != nil && !g.tree.IsLive(g.frame) {
			return
		}
		g.agent.SetAssistantActionRunning(g.frame, false)
	})
}
