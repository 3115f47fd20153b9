// internal/devtools/devtoolstest/client.go
package devtoolstest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/go-json-experiment/json/jsontext"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ devtools.Client = (*Browser)(nil)

var (
	errNoContext = errors.New("Cannot find context with specified id")
	errNoNode    = errors.New("No node with given id found")
)

// undefined is the reply of a function without a return value.
var undefined = &runtime.RemoteObject{Type: runtime.TypeUndefined}

func byValue(v interface{}) *runtime.RemoteObject {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	obj := &runtime.RemoteObject{Value: jsontext.Value(b)}
	switch v.(type) {
	case bool:
		obj.Type = runtime.TypeBoolean
	case string:
		obj.Type = runtime.TypeString
	case float64, int:
		obj.Type = runtime.TypeNumber
	default:
		obj.Type = runtime.TypeObject
	}
	return obj
}

func exception(class, msg string) *runtime.ExceptionDetails {
	return &runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Type: runtime.TypeObject, ClassName: class, Description: class + ": " + msg},
	}
}

// enter applies the Block and Fail hooks and counts the call.
func (b *Browser) enter(ctx context.Context, key string) error {
	b.mu.Lock()
	b.calls[key]++
	blocked := b.blocked[key]
	failure := b.failures[key]
	b.mu.Unlock()

	if failure != nil {
		return failure
	}
	if blocked {
		<-ctx.Done()
		return context.Cause(ctx)
	}
	return ctx.Err()
}

// objectLocked validates that id is alive and belongs to session.
func (b *Browser) objectLocked(id runtime.RemoteObjectID, session cdp.FrameID) (*object, error) {
	o, ok := b.objects[id]
	if !ok {
		return nil, fmt.Errorf("Could not find object with given id %s", id)
	}
	if o.session != session {
		return nil, errNoContext
	}
	if o.node != nil {
		f := b.frameOfLocked(o.node)
		if f == nil {
			return nil, errNoNode
		}
		if f.detached {
			return nil, errNoContext
		}
	}
	return o, nil
}

func (b *Browser) Evaluate(ctx context.Context, p *runtime.EvaluateParams, frameID cdp.FrameID) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	if err := b.enter(ctx, p.Expression); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.sessionRootLocked(frameID)
	if f == nil || f.detached {
		return nil, nil, errNoContext
	}
	switch p.Expression {
	case js.Document:
		return b.newObjectLocked(&object{node: f.doc, session: frameID}), nil, nil
	case js.ReadyState:
		return byValue(b.readyStateLocked(f)), nil, nil
	case js.VisualViewport:
		return byValue([]float64{0, 0, 1024, 768}), nil, nil
	}
	return nil, exception("ReferenceError", "unsupported expression"), nil
}

func (b *Browser) readyStateLocked(f *Frame) string {
	state := f.readyStates[0]
	if len(f.readyStates) > 1 {
		f.readyStates = f.readyStates[1:]
	}
	return state
}

func (b *Browser) GetProperties(ctx context.Context, p *runtime.GetPropertiesParams, frameID cdp.FrameID) ([]*runtime.PropertyDescriptor, *runtime.ExceptionDetails, error) {
	if err := b.enter(ctx, runtime.CommandGetProperties); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.objectLocked(p.ObjectID, frameID)
	if err != nil {
		return nil, nil, err
	}
	var props []*runtime.PropertyDescriptor
	for i, n := range o.array {
		props = append(props, &runtime.PropertyDescriptor{
			Name:       fmt.Sprint(i),
			Value:      b.newObjectLocked(&object{node: n, session: frameID}),
			Enumerable: true,
			IsOwn:      true,
		})
	}
	props = append(props, &runtime.PropertyDescriptor{Name: "length", Value: byValue(len(o.array)), IsOwn: true})
	return props, nil, nil
}

func (b *Browser) ResolveNode(ctx context.Context, p *dom.ResolveNodeParams, frameID cdp.FrameID) (*runtime.RemoteObject, error) {
	if err := b.enter(ctx, dom.CommandResolveNode); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[p.BackendNodeID]
	if !ok {
		return nil, errNoNode
	}
	f := b.frameOfLocked(n)
	if f == nil {
		return nil, errNoNode
	}
	if f.detached || f.ID.SessionFrameID() != frameID {
		return nil, errNoContext
	}
	return b.newObjectLocked(&object{node: n, session: frameID}), nil
}

func (b *Browser) DescribeNode(ctx context.Context, p *dom.DescribeNodeParams, frameID cdp.FrameID) (*cdp.Node, error) {
	if err := b.enter(ctx, dom.CommandDescribeNode); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var n *html.Node
	switch {
	case p.ObjectID != "":
		o, err := b.objectLocked(p.ObjectID, frameID)
		if err != nil {
			return nil, err
		}
		n = o.node
	case p.BackendNodeID != 0:
		n = b.nodes[p.BackendNodeID]
	}
	if n == nil {
		return nil, errNoNode
	}

	node := &cdp.Node{BackendNodeID: b.backendLocked(n)}
	if n.Type == html.DocumentNode {
		node.NodeType = cdp.NodeTypeDocument
		node.NodeName = "#document"
		return node, nil
	}
	node.NodeType = cdp.NodeTypeElement
	node.NodeName = strings.ToUpper(n.Data)
	node.LocalName = n.Data
	for _, a := range n.Attr {
		node.Attributes = append(node.Attributes, a.Key, a.Val)
	}
	if child := b.childFrameLocked(n); child != nil {
		node.FrameID = child.ID.Frame
		if child.ID.Process == b.frameOfLocked(n).ID.Process {
			node.ContentDocument = &cdp.Node{
				BackendNodeID: b.backendLocked(child.doc),
				NodeType:      cdp.NodeTypeDocument,
				NodeName:      "#document",
			}
		}
	}
	return node, nil
}

// -- Script calls --

type args []*runtime.CallArgument

func (a args) decode(i int, v interface{}) {
	if i < len(a) && len(a[i].Value) > 0 {
		_ = json.Unmarshal([]byte(a[i].Value), v)
	}
}

func (a args) str(i int) string {
	var s string
	a.decode(i, &s)
	return s
}

func (a args) boolean(i int) bool {
	var v bool
	a.decode(i, &v)
	return v
}

func (a args) strs(i int) []string {
	var v []string
	a.decode(i, &v)
	return v
}

func (b *Browser) CallFunctionOn(ctx context.Context, p *runtime.CallFunctionOnParams, frameID cdp.FrameID) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	if err := b.enter(ctx, p.FunctionDeclaration); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.objectLocked(p.ObjectID, frameID)
	if err != nil {
		return nil, nil, err
	}
	if o.node == nil {
		return nil, exception("TypeError", "this is not a node"), nil
	}
	n := o.node
	a := args(p.Arguments)

	switch p.FunctionDeclaration {
	case js.QuerySelectorAll, js.FormControls:
		css := a.str(0)
		if p.FunctionDeclaration == js.FormControls {
			css = "input, select, textarea, button, a[href], [role]"
		}
		sel, err := cascadia.Compile(css)
		if err != nil {
			return nil, exception("SyntaxError", fmt.Sprintf("'%s' is not a valid selector", css)), nil
		}
		matches := cascadia.QueryAll(n, sel)
		if matches == nil {
			matches = []*html.Node{}
		}
		return b.newObjectLocked(&object{array: matches, session: frameID}), nil, nil

	case js.MatchText:
		value, ok := b.propertyLocked(n, a.str(0))
		if !ok {
			return byValue(false), nil, nil
		}
		pattern := a.str(1)
		if !a.boolean(2) {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, exception("SyntaxError", "Invalid regular expression"), nil
		}
		return byValue(re.MatchString(fmt.Sprint(value))), nil, nil

	case js.MatchesSelector:
		sel, err := cascadia.Compile(a.str(0))
		if err != nil {
			return nil, exception("SyntaxError", "not a valid selector"), nil
		}
		return byValue(sel.Match(n)), nil, nil

	case js.IsVisible:
		return byValue(!rectOf(n).Empty()), nil, nil

	case js.DocumentReadyState:
		return byValue(b.readyStateLocked(b.frameOfLocked(n))), nil, nil

	case js.ScrollIntoView, js.ScrollIntoViewIfNeeded:
		b.recordLocked("scroll", n, "script", "")
		return undefined, nil, nil

	case js.BoundingClientRect:
		r := rectOf(n)
		if _, unstable := attr(n, "data-unstable"); unstable {
			b.rectReads[n]++
			r = r.Offset(float64(b.rectReads[n]), 0)
		}
		return byValue([]float64{r.Left, r.Top, r.Right, r.Bottom}), nil, nil

	case js.Click:
		b.recordLocked("click", n, "script", "")
		return undefined, nil, nil

	case js.SelectOption:
		return byValue(b.selectOptionLocked(n, a.strs(0), a.str(1))), nil, nil

	case js.SetValue:
		b.values[n] = a.str(0)
		return undefined, nil, nil

	case js.FireInputAndChange:
		b.recordLocked("input", n, "script", "")
		b.recordLocked("change", n, "script", "")
		return undefined, nil, nil

	case js.GetValue:
		if v, ok := b.valueLocked(n); ok {
			return byValue(v), nil, nil
		}
		return undefined, nil, nil

	case js.SelectAll:
		b.selectAll = n
		return undefined, nil, nil

	case js.Focus:
		b.focused = n
		b.recordLocked("focus", n, "script", "")
		return undefined, nil, nil

	case js.GetAttributePath:
		path := a.strs(0)
		if len(path) == 2 && path[0] == "dataset" {
			if v, ok := attr(n, "data-"+path[1]); ok {
				return byValue(v), nil, nil
			}
			return undefined, nil, nil
		}
		if len(path) != 1 {
			return undefined, nil, nil
		}
		if v, ok := b.propertyLocked(n, path[0]); ok {
			return byValue(v), nil, nil
		}
		return undefined, nil, nil

	case js.SetAttributePath:
		path := a.strs(0)
		var value string
		a.decode(1, &value)
		switch {
		case len(path) == 1 && path[0] == "value":
			b.values[n] = value
		case len(path) == 1:
			setAttr(n, path[0], value)
		case len(path) == 2 && path[0] == "dataset":
			setAttr(n, "data-"+path[1], value)
		default:
			return nil, exception("TypeError", "Cannot set properties of undefined"), nil
		}
		return undefined, nil, nil

	case js.OuterHTML:
		return byValue(outerHTML(n)), nil, nil

	case js.CheckOnTop:
		_, covered := attr(n, "data-covered")
		return byValue(!covered), nil, nil

	case js.DescribeControl:
		desc := map[string]string{
			"tag":          n.Data,
			"type":         attrOr(n, "type"),
			"id":           attrOr(n, "id"),
			"name":         attrOr(n, "name"),
			"placeholder":  attrOr(n, "placeholder"),
			"aria_label":   attrOr(n, "aria-label"),
			"autocomplete": attrOr(n, "autocomplete"),
			"label":        b.labelLocked(n),
			"text":         innerText(n),
		}
		return byValue(desc), nil, nil
	}
	return nil, exception("TypeError", "unsupported function"), nil
}

func attrOr(n *html.Node, name string) string {
	v, _ := attr(n, name)
	return v
}

func (b *Browser) labelLocked(n *html.Node) string {
	id, ok := attr(n, "id")
	if !ok || id == "" {
		return ""
	}
	doc := documentOf(n)
	for _, e := range elements(doc) {
		if isElement(e, "label") && attrOr(e, "for") == id {
			return innerText(e)
		}
	}
	return ""
}

// propertyLocked mirrors the few element properties the helper scripts read.
func (b *Browser) propertyLocked(n *html.Node, name string) (interface{}, bool) {
	if n.Type != html.ElementNode {
		return nil, false
	}
	switch name {
	case "innerText":
		return innerText(n), true
	case "value":
		return b.valueLocked(n)
	case "tagName":
		return strings.ToUpper(n.Data), true
	case "outerHTML":
		return outerHTML(n), true
	case "className":
		return attrOr(n, "class"), true
	case "checked", "disabled":
		_, ok := attr(n, name)
		return ok, true
	}
	if v, ok := attr(n, name); ok {
		return v, true
	}
	return nil, false
}

func (b *Browser) selectOptionLocked(sel *html.Node, values []string, strategy string) bool {
	opts := options(sel)
	for _, value := range values {
		for _, o := range opts {
			var match bool
			switch strategy {
			case "value_match":
				match = optionValue(o) == value
			case "label_match":
				match = optionLabel(o) == value
			case "label_starts_with":
				match = strings.HasPrefix(optionLabel(o), value)
			}
			if !match {
				continue
			}
			for _, other := range opts {
				removeAttr(other, "selected")
			}
			setAttr(o, "selected", "")
			delete(b.values, sel)
			b.recordLocked("input", sel, "script", "")
			b.recordLocked("change", sel, "script", "")
			return true
		}
	}
	return false
}

// -- Input --

// hitTestLocked finds the topmost element at (x, y) in the frame, descending
// into same-process iframes.
func (b *Browser) hitTestLocked(f *Frame, x, y float64) *html.Node {
	var hit *html.Node
	for _, e := range elements(f.doc) {
		if contains(rectOf(e), x, y) {
			hit = e
		}
	}
	if hit == nil {
		return nil
	}
	if child := b.childFrameLocked(hit); child != nil && child.ID.SameProcess(f.ID) {
		r := rectOf(hit)
		if inner := b.hitTestLocked(child, x-r.Left, y-r.Top); inner != nil {
			return inner
		}
	}
	return hit
}

func (b *Browser) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams, frameID cdp.FrameID) error {
	if err := b.enter(ctx, input.CommandDispatchMouseEvent); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.sessionRootLocked(frameID)
	if f == nil || f.detached {
		return errNoContext
	}
	hit := b.hitTestLocked(f, p.X, p.Y)
	b.recordLocked(string(p.Type), hit, "mouse", "")
	switch p.Type {
	case input.MousePressed:
		b.pressed = hit
	case input.MouseReleased:
		if hit != nil && hit == b.pressed {
			b.recordLocked("click", hit, "mouse", "")
			b.focused = hit
		}
		b.pressed = nil
	}
	return nil
}

func (b *Browser) DispatchTouchEvent(ctx context.Context, p *input.DispatchTouchEventParams, frameID cdp.FrameID) error {
	if err := b.enter(ctx, input.CommandDispatchTouchEvent); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.sessionRootLocked(frameID)
	if f == nil || f.detached {
		return errNoContext
	}
	switch p.Type {
	case input.TouchStart:
		if len(p.TouchPoints) == 0 {
			return errors.New("TouchStart must contain at least one touch point")
		}
		b.touched = b.hitTestLocked(f, p.TouchPoints[0].X, p.TouchPoints[0].Y)
		b.recordLocked(string(p.Type), b.touched, "touch", "")
	case input.TouchEnd:
		b.recordLocked(string(p.Type), b.touched, "touch", "")
		if b.touched != nil {
			b.recordLocked("click", b.touched, "touch", "")
			b.focused = b.touched
		}
		b.touched = nil
	}
	return nil
}

func (b *Browser) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams, frameID cdp.FrameID) error {
	if err := b.enter(ctx, input.CommandDispatchKeyEvent); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.sessionRootLocked(frameID)
	if f == nil || f.detached {
		return errNoContext
	}
	target := b.focused
	b.recordLocked(string(p.Type), target, "keyboard", p.Key)
	if p.Type != input.KeyDown || target == nil {
		return nil
	}
	if tf := b.frameOfLocked(target); tf == nil || tf.ID.SessionFrameID() != frameID {
		return nil
	}

	current, _ := b.valueLocked(target)
	if b.selectAll == target {
		current = ""
		b.selectAll = nil
	}
	switch {
	case p.Text != "":
		b.values[target] = current + p.Text
		b.recordLocked("input", target, "keyboard", "")
	case p.Key == "Backspace" && current != "":
		_, size := utf8.DecodeLastRuneInString(current)
		b.values[target] = current[:len(current)-size]
		b.recordLocked("input", target, "keyboard", "")
	}
	return nil
}
