// internal/devtools/client.go
package devtools

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
)

// Client issues frame scoped DevTools protocol calls. frameID selects the
// session: empty targets the main page, otherwise the out-of-process iframe
// target with that frame id.
//
// Calls that run script report two independent failure channels: a protocol
// error (no reply, unknown object) and exception details thrown by the
// script. Callers normalize both with CheckResult.
type Client interface {
	Evaluate(ctx context.Context, p *runtime.EvaluateParams, frameID cdp.FrameID) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)
	CallFunctionOn(ctx context.Context, p *runtime.CallFunctionOnParams, frameID cdp.FrameID) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)
	GetProperties(ctx context.Context, p *runtime.GetPropertiesParams, frameID cdp.FrameID) ([]*runtime.PropertyDescriptor, *runtime.ExceptionDetails, error)
	ResolveNode(ctx context.Context, p *dom.ResolveNodeParams, frameID cdp.FrameID) (*runtime.RemoteObject, error)
	DescribeNode(ctx context.Context, p *dom.DescribeNodeParams, frameID cdp.FrameID) (*cdp.Node, error)
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams, frameID cdp.FrameID) error
	DispatchTouchEvent(ctx context.Context, p *input.DispatchTouchEventParams, frameID cdp.FrameID) error
	DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams, frameID cdp.FrameID) error
}
