// internal/semantic/semantictest/fake.go
package semantictest

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/semantic"
)

// Reply scripts the answer of one frame.
type Reply struct {
	Nodes []semantic.Node
	Err   error
	// Delay postpones the reply; the context still cuts it short.
	Delay time.Duration
	// Hang makes the frame never reply on its own.
	Hang bool
	// Late makes the frame answer with Nodes only once its context is done,
	// i.e. after the caller stopped waiting.
	Late bool
}

// Classifier is a scripted semantic.Classifier. Frames without a reply
// answer with no nodes.
type Classifier struct {
	mu      sync.Mutex
	replies map[frames.GlobalFrameID]Reply
	calls   []frames.GlobalFrameID
	wg      sync.WaitGroup

	// Requests receives the frame of every call, if non-nil. Sends never block.
	Requests chan frames.GlobalFrameID
}

var _ semantic.Classifier = (*Classifier)(nil)

func New() *Classifier {
	return &Classifier{replies: make(map[frames.GlobalFrameID]Reply)}
}

// Set scripts the reply of frame.
func (c *Classifier) Set(frame frames.GlobalFrameID, r Reply) *Classifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[frame] = r
	return c
}

// Calls returns the frames asked so far.
func (c *Classifier) Calls() []frames.GlobalFrameID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.GlobalFrameID(nil), c.calls...)
}

// Wait blocks until every call returned.
func (c *Classifier) Wait() { c.wg.Wait() }

func (c *Classifier) GetSemanticNodes(ctx context.Context, frame frames.GlobalFrameID, _ semantic.Request) ([]semantic.Node, error) {
	c.wg.Add(1)
	defer c.wg.Done()

	c.mu.Lock()
	r := c.replies[frame]
	c.calls = append(c.calls, frame)
	c.mu.Unlock()

	if c.Requests != nil {
		select {
		case c.Requests <- frame:
		default:
		}
	}

	switch {
	case r.Late:
		<-ctx.Done()
		return r.Nodes, nil
	case r.Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case r.Delay > 0:
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Nodes, r.Err
}
