// internal/devtools/devtoolstest/browser_test.go
package devtoolstest

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/frames"
)

const page = `<html><body>
	<input id="name" value="old">
	<select id="year"><option value="a">1999</option><option value="b">2050</option></select>
	<iframe id="inner"></iframe>
	<iframe id="remote"></iframe>
</body></html>`

func TestQueryAndValues(t *testing.T) {
	b := NewBrowser(page)
	ctx := context.Background()

	doc, exc, err := b.Evaluate(ctx, &runtime.EvaluateParams{Expression: js.Document}, "")
	require.NoError(t, devtools.CheckResult(exc, err))

	array, err := devtools.Call(ctx, b, "", doc.ObjectID, js.QuerySelectorAll, false, "#name")
	require.NoError(t, err)
	ids, err := devtools.ArrayElements(ctx, b, "", array.ObjectID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	var value string
	require.NoError(t, devtools.CallValue(ctx, b, "", ids[0], js.GetValue, &value))
	assert.Equal(t, "old", value)

	_, err = devtools.Call(ctx, b, "", ids[0], js.SetValue, false, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", b.Value("#name"))

	t.Run("Invalid Selector Throws", func(t *testing.T) {
		_, err := devtools.Call(ctx, b, "", doc.ObjectID, js.QuerySelectorAll, false, "[[")
		require.Error(t, err)
	})
}

func TestSelectOptionStrategies(t *testing.T) {
	b := NewBrowser(page)
	ctx := context.Background()
	id := b.BackendNodeID("#year")
	obj, err := b.ResolveNode(ctx, &dom.ResolveNodeParams{BackendNodeID: id}, "")
	require.NoError(t, err)

	var ok bool
	require.NoError(t, devtools.CallValue(ctx, b, "", obj.ObjectID, js.SelectOption, &ok, []string{"20"}, "label_starts_with"))
	assert.True(t, ok)
	assert.Equal(t, "b", b.Value("#year"))
	assert.Equal(t, []string{"input", "change"}, b.EventTypes("#year"))

	require.NoError(t, devtools.CallValue(ctx, b, "", obj.ObjectID, js.SelectOption, &ok, []string{"20"}, "label_match"))
	assert.False(t, ok)
}

func TestFrames(t *testing.T) {
	b := NewBrowser(page)
	ctx := context.Background()
	inner := b.AttachFrame(b.MainFrame(), "#inner", `<button id="ok">OK</button>`, false)
	remote := b.AttachFrame(b.MainFrame(), "#remote", `<button id="far">Far</button>`, true)

	assert.Equal(t, "", inner.Process)
	assert.Equal(t, string(remote.Frame), remote.Process)

	all, err := b.Descendants(ctx, b.MainFrame())
	require.NoError(t, err)
	assert.ElementsMatch(t, []frames.GlobalFrameID{b.MainFrame(), inner, remote}, all)

	t.Run("Describe Same Process Iframe", func(t *testing.T) {
		node, err := b.DescribeNode(ctx, &dom.DescribeNodeParams{BackendNodeID: b.BackendNodeID("#inner")}, "")
		require.NoError(t, err)
		assert.Equal(t, inner.Frame, node.FrameID)
		require.NotNil(t, node.ContentDocument)
	})

	t.Run("Describe Out Of Process Iframe", func(t *testing.T) {
		node, err := b.DescribeNode(ctx, &dom.DescribeNodeParams{BackendNodeID: b.BackendNodeID("#remote")}, "")
		require.NoError(t, err)
		assert.Equal(t, remote.Frame, node.FrameID)
		assert.Nil(t, node.ContentDocument)
	})

	t.Run("Cross Session Resolve Fails", func(t *testing.T) {
		_, err := b.ResolveNode(ctx, &dom.ResolveNodeParams{BackendNodeID: b.BackendNodeID("#far")}, "")
		assert.Error(t, err)
		_, err = b.ResolveNode(ctx, &dom.ResolveNodeParams{BackendNodeID: b.BackendNodeID("#far")}, remote.SessionFrameID())
		assert.NoError(t, err)
	})

	t.Run("Detach Notifies", func(t *testing.T) {
		var gone []frames.GlobalFrameID
		unsubscribe := b.Subscribe(func(id frames.GlobalFrameID) { gone = append(gone, id) })
		defer unsubscribe()

		b.Detach(inner)
		assert.Equal(t, []frames.GlobalFrameID{inner}, gone)
		assert.False(t, b.IsLive(inner))
		assert.True(t, b.IsLive(remote))
	})
}

func TestMouseClickHitsTopmostElement(t *testing.T) {
	b := NewBrowser(`<html><body><button id="a" data-rect="10,10,50,30">A</button></body></html>`)
	ctx := context.Background()

	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		require.NoError(t, b.DispatchMouseEvent(ctx, &input.DispatchMouseEventParams{Type: typ, X: 20, Y: 20, Button: input.Left, ClickCount: 1}, ""))
	}
	clicks := b.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, "#a", clicks[0].Target)
	assert.Equal(t, "mouse", clicks[0].Source)
	assert.Equal(t, "#a", b.Focused())
}

func TestTypingUpdatesFocusedValue(t *testing.T) {
	b := NewBrowser(page)
	ctx := context.Background()
	obj, err := b.ResolveNode(ctx, &dom.ResolveNodeParams{BackendNodeID: b.BackendNodeID("#name")}, "")
	require.NoError(t, err)
	_, err = devtools.Call(ctx, b, "", obj.ObjectID, js.Focus, false)
	require.NoError(t, err)
	_, err = devtools.Call(ctx, b, "", obj.ObjectID, js.SelectAll, false)
	require.NoError(t, err)

	for _, r := range "hi𠜎" {
		require.NoError(t, b.DispatchKeyEvent(ctx, &input.DispatchKeyEventParams{Type: input.KeyDown, Text: string(r)}, ""))
		require.NoError(t, b.DispatchKeyEvent(ctx, &input.DispatchKeyEventParams{Type: input.KeyUp}, ""))
	}
	assert.Equal(t, "hi𠜎", b.Value("#name"))

	require.NoError(t, b.DispatchKeyEvent(ctx, &input.DispatchKeyEventParams{Type: input.KeyDown, Key: "Backspace"}, ""))
	assert.Equal(t, "hi", b.Value("#name"))
}

func TestBlockWaitsForContext(t *testing.T) {
	b := NewBrowser(page)
	b.Block(js.Document)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := b.Evaluate(ctx, &runtime.EvaluateParams{Expression: js.Document}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, b.CallCount(js.Document))
}
