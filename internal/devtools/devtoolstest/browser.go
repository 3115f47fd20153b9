// internal/devtools/devtoolstest/browser.go
//
// Package devtoolstest provides an in-memory browser that implements
// devtools.Client and frames.Tree over parsed HTML documents, so the engine
// can be exercised without Chrome. It understands the helper scripts of
// package js, CSS matching through cascadia, iframes in the same or in a
// separate process, input dispatch with hit testing, and frame teardown.
//
// Geometry is synthetic: an element's rect comes from its data-rect="l,t,r,b"
// attribute, is empty when it (or an ancestor) carries `hidden`, and
// otherwise is a 100x20 row placed by document order.
package devtoolstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/actuator/internal/frames"
)

// Event is one observable effect recorded by the browser.
type Event struct {
	// Type is the DOM event or protocol input type, e.g. click, change, keyDown.
	Type string
	// Target describes the element, "#id" when it has one.
	Target string
	// Source is "mouse", "touch" or "script" for clicks.
	Source string
	// Data carries the key for key events.
	Data string
}

// Frame is one document in the fake tree.
type Frame struct {
	ID     frames.GlobalFrameID
	parent *Frame
	owner  *html.Node
	doc    *html.Node

	readyStates []string
	detached    bool
}

type object struct {
	node    *html.Node
	array   []*html.Node
	session cdp.FrameID
}

// Browser is the fake. All methods are safe for concurrent use.
type Browser struct {
	mu sync.Mutex

	main   *Frame
	frames []*Frame
	byDoc  map[*html.Node]*Frame

	objects    map[runtime.RemoteObjectID]*object
	nextObject int

	backendIDs  map[*html.Node]cdp.BackendNodeID
	nodes       map[cdp.BackendNodeID]*html.Node
	nextBackend cdp.BackendNodeID

	values    map[*html.Node]string
	focused   *html.Node
	selectAll *html.Node
	pressed   *html.Node
	touched   *html.Node
	rectReads map[*html.Node]int

	events []Event
	calls  map[string]int

	blocked  map[string]bool
	failures map[string]error

	subscribers map[int]func(frames.GlobalFrameID)
	nextSub     int
}

var _ frames.Tree = (*Browser)(nil)

// NewBrowser loads src as the main document.
func NewBrowser(src string) *Browser {
	b := &Browser{
		byDoc:       make(map[*html.Node]*Frame),
		objects:     make(map[runtime.RemoteObjectID]*object),
		backendIDs:  make(map[*html.Node]cdp.BackendNodeID),
		nodes:       make(map[cdp.BackendNodeID]*html.Node),
		values:      make(map[*html.Node]string),
		rectReads:   make(map[*html.Node]int),
		calls:       make(map[string]int),
		blocked:     make(map[string]bool),
		failures:    make(map[string]error),
		subscribers: make(map[int]func(frames.GlobalFrameID)),
	}
	b.main = b.addFrame(frames.GlobalFrameID{Frame: "F0"}, nil, nil, src)
	return b
}

func mustParse(src string) *html.Node {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("devtoolstest: parse: %v", err))
	}
	return doc
}

func (b *Browser) addFrame(id frames.GlobalFrameID, parent *Frame, owner *html.Node, src string) *Frame {
	f := &Frame{ID: id, parent: parent, owner: owner, doc: mustParse(src), readyStates: []string{"complete"}}
	b.frames = append(b.frames, f)
	b.byDoc[f.doc] = f
	return f
}

// MainFrame returns the id of the top level frame.
func (b *Browser) MainFrame() frames.GlobalFrameID { return b.main.ID }

// AttachFrame loads src into the iframe matched by iframeCSS in the parent
// frame. An out-of-process frame gets its own devtools session.
func (b *Browser) AttachFrame(parent frames.GlobalFrameID, iframeCSS, src string, outOfProcess bool) frames.GlobalFrameID {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.frameLocked(parent)
	if p == nil {
		panic(fmt.Sprintf("devtoolstest: unknown parent frame %s", parent))
	}
	owner := cascadia.Query(p.doc, cascadia.MustCompile(iframeCSS))
	if owner == nil {
		panic(fmt.Sprintf("devtoolstest: no iframe %q in %s", iframeCSS, parent))
	}

	frameID := cdp.FrameID(fmt.Sprintf("F%d", len(b.frames)))
	id := frames.GlobalFrameID{Process: p.ID.Process, Frame: frameID}
	if outOfProcess {
		id.Process = string(frameID)
	}
	return b.addFrame(id, p, owner, src).ID
}

// Detach tears down the frame and its subtree and notifies subscribers.
func (b *Browser) Detach(id frames.GlobalFrameID) {
	b.mu.Lock()
	var gone []frames.GlobalFrameID
	for _, f := range b.frames {
		if !f.detached && b.isUnderLocked(f, id) {
			f.detached = true
			gone = append(gone, f.ID)
		}
	}
	subs := b.subscribersLocked()
	b.mu.Unlock()

	for _, g := range gone {
		for _, fn := range subs {
			fn(g)
		}
	}
}

// SetReadyState makes the frame report the given states, one per read; the
// last one sticks.
func (b *Browser) SetReadyState(id frames.GlobalFrameID, states ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f := b.frameLocked(id); f != nil && len(states) > 0 {
		f.readyStates = states
	}
}

// Block makes every call running the given helper script wait for its
// context to end.
func (b *Browser) Block(fn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[fn] = true
}

// Fail makes every call running the given helper script fail with a
// protocol error.
func (b *Browser) Fail(fn string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[fn] = err
}

// Remove detaches the first element matching css from its document.
func (b *Browser) Remove(css string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.queryLocked(css); n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// SetAttribute sets an attribute of the first element matching css.
func (b *Browser) SetAttribute(css, name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.queryLocked(css); n != nil {
		setAttr(n, name, value)
	}
}

// BackendNodeID returns the backend id of the first element matching css in
// any live frame.
func (b *Browser) BackendNodeID(css string) cdp.BackendNodeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.queryLocked(css)
	if n == nil {
		panic(fmt.Sprintf("devtoolstest: no element %q", css))
	}
	return b.backendLocked(n)
}

// Value returns the current value of the first element matching css.
func (b *Browser) Value(css string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, _ := b.valueLocked(b.queryLocked(css))
	return v
}

// Focused describes the focused element.
func (b *Browser) Focused() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return describe(b.focused)
}

// Events returns a copy of every recorded event.
func (b *Browser) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// EventTypes lists the types of the events recorded for target, in order.
func (b *Browser) EventTypes(target string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		if e.Target == target {
			out = append(out, e.Type)
		}
	}
	return out
}

// Clicks lists the click events, whatever their source.
func (b *Browser) Clicks() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Type == "click" {
			out = append(out, e)
		}
	}
	return out
}

// CallCount reports how many calls ran the given helper script or method.
func (b *Browser) CallCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

// -- frames.Tree --

func (b *Browser) Main() frames.GlobalFrameID { return b.main.ID }

func (b *Browser) Descendants(_ context.Context, root frames.GlobalFrameID) ([]frames.GlobalFrameID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if root.IsZero() {
		root = b.main.ID
	}
	var out []frames.GlobalFrameID
	for _, f := range b.frames {
		if !f.detached && b.isUnderLocked(f, root) {
			out = append(out, f.ID)
		}
	}
	return out, nil
}

func (b *Browser) Lookup(_ context.Context, frameID cdp.FrameID) (frames.GlobalFrameID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f.ID.Frame == frameID && !f.detached {
			return f.ID, nil
		}
	}
	return frames.GlobalFrameID{}, fmt.Errorf("%w: unknown frame %s", frames.ErrFrameDetached, frameID)
}

func (b *Browser) IsLive(id frames.GlobalFrameID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.frameLocked(id)
	return f != nil && !f.detached
}

func (b *Browser) Subscribe(fn func(frames.GlobalFrameID)) func() {
	b.mu.Lock()
	key := b.nextSub
	b.nextSub++
	b.subscribers[key] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, key)
		b.mu.Unlock()
	}
}

// Subscribers reports the number of registered teardown callbacks.
func (b *Browser) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// -- internals, b.mu held --

func (b *Browser) subscribersLocked() []func(frames.GlobalFrameID) {
	out := make([]func(frames.GlobalFrameID), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		out = append(out, fn)
	}
	return out
}

func (b *Browser) frameLocked(id frames.GlobalFrameID) *Frame {
	for _, f := range b.frames {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func (b *Browser) isUnderLocked(f *Frame, root frames.GlobalFrameID) bool {
	for p := f; p != nil; p = p.parent {
		if p.ID == root {
			return true
		}
	}
	return false
}

// sessionRootLocked returns the frame whose document answers `document` for
// a devtools session.
func (b *Browser) sessionRootLocked(session cdp.FrameID) *Frame {
	if session == "" {
		return b.main
	}
	for _, f := range b.frames {
		if f.ID.Frame == session && f.ID.Process == string(session) {
			return f
		}
	}
	return nil
}

func (b *Browser) frameOfLocked(n *html.Node) *Frame {
	doc := documentOf(n)
	if doc == nil {
		return nil
	}
	return b.byDoc[doc]
}

func (b *Browser) childFrameLocked(owner *html.Node) *Frame {
	for _, f := range b.frames {
		if f.owner == owner && !f.detached {
			return f
		}
	}
	return nil
}

func (b *Browser) queryLocked(css string) *html.Node {
	sel := cascadia.MustCompile(css)
	for _, f := range b.frames {
		if f.detached {
			continue
		}
		if n := cascadia.Query(f.doc, sel); n != nil {
			return n
		}
	}
	return nil
}

func (b *Browser) backendLocked(n *html.Node) cdp.BackendNodeID {
	if id, ok := b.backendIDs[n]; ok {
		return id
	}
	b.nextBackend++
	b.backendIDs[n] = b.nextBackend
	b.nodes[b.nextBackend] = n
	return b.nextBackend
}

func (b *Browser) newObjectLocked(o *object) *runtime.RemoteObject {
	b.nextObject++
	id := runtime.RemoteObjectID(fmt.Sprintf("obj-%d", b.nextObject))
	b.objects[id] = o
	ro := &runtime.RemoteObject{Type: runtime.TypeObject, ObjectID: id}
	switch {
	case o.array != nil:
		ro.Subtype = runtime.SubtypeArray
		ro.ClassName = "Array"
	case o.node != nil:
		ro.Subtype = runtime.SubtypeNode
		ro.ClassName = describe(o.node)
	}
	return ro
}

// valueLocked mirrors the value property of form controls.
func (b *Browser) valueLocked(n *html.Node) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	if v, ok := b.values[n]; ok {
		return v, true
	}
	switch n.Data {
	case "input", "option":
		if v, ok := attr(n, "value"); ok {
			return v, true
		}
		if n.Data == "option" {
			return innerText(n), true
		}
		return "", true
	case "textarea":
		return textContent(n), true
	case "select":
		opts := options(n)
		for _, o := range opts {
			if _, ok := attr(o, "selected"); ok {
				return optionValue(o), true
			}
		}
		if len(opts) > 0 {
			return optionValue(opts[0]), true
		}
		return "", true
	}
	return "", false
}

func (b *Browser) recordLocked(typ string, n *html.Node, source, data string) {
	b.events = append(b.events, Event{Type: typ, Target: describe(n), Source: source, Data: data})
}
