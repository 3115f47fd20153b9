// internal/devtools/cdp_client.go
package devtools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// CDPClient implements Client on top of chromedp. Calls for the main page
// run against the tab context; calls for an out-of-process iframe run
// against a child context attached to that iframe's target, created lazily
// and cached per frame id.
type CDPClient struct {
	root        context.Context // The tab's chromedp context.
	logger      *zap.Logger
	callTimeout time.Duration

	mu       sync.Mutex
	sessions map[cdp.FrameID]session
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Client = (*CDPClient)(nil)

// NewCDPClient wraps the chromedp tab context root. callTimeout bounds every
// single protocol call; zero means the caller's context alone decides.
func NewCDPClient(root context.Context, logger *zap.Logger, callTimeout time.Duration) *CDPClient {
	return &CDPClient{
		root:        root,
		logger:      logger.Named("cdp_client"),
		callTimeout: callTimeout,
		sessions:    make(map[cdp.FrameID]session),
	}
}

// sessionContext returns the chromedp context executing commands for frameID.
func (c *CDPClient) sessionContext(frameID cdp.FrameID) context.Context {
	if frameID == "" {
		return c.root
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[frameID]; ok {
		return s.ctx
	}
	// Out-of-process iframe targets share their id with the frame they host.
	ctx, cancel := chromedp.NewContext(c.root, chromedp.WithTargetID(target.ID(frameID)))
	c.sessions[frameID] = session{ctx: ctx, cancel: cancel}
	c.logger.Debug("Attached iframe session.", zap.String("frame_id", string(frameID)))
	return ctx
}

// Release drops the cached session of an iframe, typically after the frame
// was detached.
func (c *CDPClient) Release(frameID cdp.FrameID) {
	c.mu.Lock()
	s, ok := c.sessions[frameID]
	delete(c.sessions, frameID)
	c.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Close releases every iframe session. The tab context is owned by the caller.
func (c *CDPClient) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[cdp.FrameID]session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.cancel()
	}
}

// run executes fn against the session of frameID, honouring both the session
// lifetime and the operational context.
func (c *CDPClient) run(ctx context.Context, frameID cdp.FrameID, method string, fn chromedp.ActionFunc) error {
	opCtx, cancel := CombineContext(c.sessionContext(frameID), ctx)
	defer cancel()
	if c.callTimeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, c.callTimeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(opCtx, fn)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			c.logger.Debug("Protocol call timed out.", zap.String("method", method), zap.Duration("timeout", c.callTimeout))
			return fmt.Errorf("%s timed out after %v: %w", method, c.callTimeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			// Surface the operational cause (deadline, frame detach) rather
			// than chromedp's wrapping of it.
			return context.Cause(ctx)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *CDPClient) Evaluate(ctx context.Context, p *runtime.EvaluateParams, frameID cdp.FrameID) (res *runtime.RemoteObject, exc *runtime.ExceptionDetails, err error) {
	err = c.run(ctx, frameID, runtime.CommandEvaluate, func(ctx context.Context) error {
		var doErr error
		res, exc, doErr = p.Do(ctx)
		return doErr
	})
	return res, exc, err
}

func (c *CDPClient) CallFunctionOn(ctx context.Context, p *runtime.CallFunctionOnParams, frameID cdp.FrameID) (res *runtime.RemoteObject, exc *runtime.ExceptionDetails, err error) {
	err = c.run(ctx, frameID, runtime.CommandCallFunctionOn, func(ctx context.Context) error {
		var doErr error
		res, exc, doErr = p.Do(ctx)
		return doErr
	})
	return res, exc, err
}

func (c *CDPClient) GetProperties(ctx context.Context, p *runtime.GetPropertiesParams, frameID cdp.FrameID) (props []*runtime.PropertyDescriptor, exc *runtime.ExceptionDetails, err error) {
	err = c.run(ctx, frameID, runtime.CommandGetProperties, func(ctx context.Context) error {
		var doErr error
		props, _, _, exc, doErr = p.Do(ctx)
		return doErr
	})
	return props, exc, err
}

func (c *CDPClient) ResolveNode(ctx context.Context, p *dom.ResolveNodeParams, frameID cdp.FrameID) (obj *runtime.RemoteObject, err error) {
	err = c.run(ctx, frameID, dom.CommandResolveNode, func(ctx context.Context) error {
		var doErr error
		obj, doErr = p.Do(ctx)
		return doErr
	})
	return obj, err
}

func (c *CDPClient) DescribeNode(ctx context.Context, p *dom.DescribeNodeParams, frameID cdp.FrameID) (node *cdp.Node, err error) {
	err = c.run(ctx, frameID, dom.CommandDescribeNode, func(ctx context.Context) error {
		var doErr error
		node, doErr = p.Do(ctx)
		return doErr
	})
	return node, err
}

func (c *CDPClient) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams, frameID cdp.FrameID) error {
	return c.run(ctx, frameID, input.CommandDispatchMouseEvent, p.Do)
}

func (c *CDPClient) DispatchTouchEvent(ctx context.Context, p *input.DispatchTouchEventParams, frameID cdp.FrameID) error {
	return c.run(ctx, frameID, input.CommandDispatchTouchEvent, p.Do)
}

func (c *CDPClient) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams, frameID cdp.FrameID) error {
	return c.run(ctx, frameID, input.CommandDispatchKeyEvent, p.Do)
}
