// internal/frames/cdp_tree.go
package frames

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/internal/devtools"
)

const refreshTimeout = 10 * time.Second

type frameEntry struct {
	id     GlobalFrameID
	parent cdp.FrameID
}

// CDPTree tracks the frame hierarchy of one browser tab. Out-of-process
// iframes are detected through the browser's iframe targets; every frame
// below such a target belongs to its process.
type CDPTree struct {
	root   context.Context // chromedp context of the tab
	logger *zap.Logger

	mu          sync.RWMutex
	main        GlobalFrameID
	frames      map[cdp.FrameID]frameEntry
	order       []cdp.FrameID
	subscribers map[int]func(GlobalFrameID)
	nextSub     int
}

var _ Tree = (*CDPTree)(nil)

// NewCDPTree snapshots the frame tree of the tab behind root and starts
// listening for detach events.
func NewCDPTree(ctx, root context.Context, logger *zap.Logger) (*CDPTree, error) {
	t := &CDPTree{
		root:        root,
		logger:      logger.Named("frame_tree"),
		frames:      make(map[cdp.FrameID]frameEntry),
		subscribers: make(map[int]func(GlobalFrameID)),
	}
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}

	chromedp.ListenTarget(root, func(ev interface{}) {
		if e, ok := ev.(*page.EventFrameDetached); ok {
			t.detach(e.FrameID)
		}
	})
	chromedp.ListenBrowser(root, func(ev interface{}) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok {
			t.detach(cdp.FrameID(e.TargetID))
		}
	})
	return t, nil
}

// Refresh re-reads the frame tree and the iframe targets. Frames that
// disappeared since the last snapshot are reported as detached.
func (t *CDPTree) Refresh(ctx context.Context) error {
	opCtx, cancel := devtools.CombineContext(t.root, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, refreshTimeout)
	defer cancelTimeout()

	var tree *page.FrameTree
	if err := chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("failed to read frame tree: %w", err)
	}

	infos, err := chromedp.Targets(opCtx)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}
	oopif := make(map[cdp.FrameID]bool)
	for _, info := range infos {
		if info.Type == "iframe" {
			oopif[cdp.FrameID(info.TargetID)] = true
		}
	}

	frames := make(map[cdp.FrameID]frameEntry)
	var order []cdp.FrameID
	var walk func(n *page.FrameTree, process string)
	walk = func(n *page.FrameTree, process string) {
		if n == nil || n.Frame == nil {
			return
		}
		if oopif[n.Frame.ID] {
			process = string(n.Frame.ID)
		}
		frames[n.Frame.ID] = frameEntry{
			id:     GlobalFrameID{Process: process, Frame: n.Frame.ID},
			parent: n.Frame.ParentID,
		}
		order = append(order, n.Frame.ID)
		for _, child := range n.ChildFrames {
			walk(child, process)
		}
	}
	walk(tree, "")

	t.mu.Lock()
	var gone []GlobalFrameID
	for id, entry := range t.frames {
		if fresh, ok := frames[id]; !ok || fresh.id != entry.id {
			gone = append(gone, entry.id)
		}
	}
	t.frames = frames
	t.order = order
	if tree != nil && tree.Frame != nil {
		t.main = frames[tree.Frame.ID].id
	}
	t.mu.Unlock()

	for _, id := range gone {
		t.notify(id)
	}
	t.logger.Debug("Frame tree refreshed.", zap.Int("frames", len(order)), zap.Int("oopif", len(oopif)))
	return nil
}

// Main returns the top level frame of the last snapshot.
func (t *CDPTree) Main() GlobalFrameID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.main
}

// Descendants refreshes the snapshot and lists the live frames under root.
func (t *CDPTree) Descendants(ctx context.Context, root GlobalFrameID) ([]GlobalFrameID, error) {
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if root.IsZero() {
		root = t.main
	}
	if _, ok := t.frames[root.Frame]; !ok {
		return nil, nil
	}

	var out []GlobalFrameID
	for _, id := range t.order {
		if t.isUnderLocked(id, root.Frame) {
			out = append(out, t.frames[id].id)
		}
	}
	return out, nil
}

func (t *CDPTree) isUnderLocked(id, root cdp.FrameID) bool {
	for id != "" {
		if id == root {
			return true
		}
		entry, ok := t.frames[id]
		if !ok {
			return false
		}
		id = entry.parent
	}
	return false
}

// Lookup maps a devtools frame id, refreshing once if it is unknown.
func (t *CDPTree) Lookup(ctx context.Context, frameID cdp.FrameID) (GlobalFrameID, error) {
	t.mu.RLock()
	entry, ok := t.frames[frameID]
	t.mu.RUnlock()
	if ok {
		return entry.id, nil
	}

	if err := t.Refresh(ctx); err != nil {
		return GlobalFrameID{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entry, ok := t.frames[frameID]; ok {
		return entry.id, nil
	}
	return GlobalFrameID{}, fmt.Errorf("%w: unknown frame %s", ErrFrameDetached, frameID)
}

// IsLive reports whether the frame was present in the last snapshot and has
// not been detached since.
func (t *CDPTree) IsLive(id GlobalFrameID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.frames[id.Frame]
	return ok && entry.id == id
}

// Subscribe registers a teardown callback.
func (t *CDPTree) Subscribe(fn func(GlobalFrameID)) func() {
	t.mu.Lock()
	key := t.nextSub
	t.nextSub++
	t.subscribers[key] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers, key)
		t.mu.Unlock()
	}
}

// detach removes the frame and its subtree, then notifies subscribers.
func (t *CDPTree) detach(frameID cdp.FrameID) {
	t.mu.Lock()
	if _, ok := t.frames[frameID]; !ok {
		t.mu.Unlock()
		return
	}
	var gone []GlobalFrameID
	var kept []cdp.FrameID
	for _, id := range t.order {
		if t.isUnderLocked(id, frameID) {
			gone = append(gone, t.frames[id].id)
			continue
		}
		kept = append(kept, id)
	}
	for _, g := range gone {
		delete(t.frames, g.Frame)
	}
	t.order = kept
	t.mu.Unlock()

	for _, id := range gone {
		t.logger.Debug("Frame detached.", zap.Stringer("frame", id))
		t.notify(id)
	}
}

func (t *CDPTree) notify(id GlobalFrameID) {
	t.mu.RLock()
	subs := make([]func(GlobalFrameID), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()
	for _, fn := range subs {
		fn(id)
	}
}
