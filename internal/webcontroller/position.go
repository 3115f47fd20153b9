// internal/webcontroller/position.go
package webcontroller

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/element"
)

// GetDocumentReadyState reads the ready state of the document owning el, or
// of the main document for the zero Result.
func (c *WebController) GetDocumentReadyState(ctx context.Context, el element.Result) (state schemas.DocumentReadyState, err error) {
	err = c.run(ctx, "GetDocumentReadyState", el, func(ctx context.Context) error {
		state, err = c.readyState(ctx, el)
		return err
	})
	return state, err
}

func (c *WebController) readyState(ctx context.Context, el element.Result) (schemas.DocumentReadyState, error) {
	var raw string
	var err error
	if el.IsZero() {
		err = devtools.EvaluateValue(ctx, c.deps.Client, c.host(el).SessionFrameID(), js.ReadyState, &raw)
	} else {
		err = c.call(ctx, el, js.DocumentReadyState, &raw)
	}
	if err != nil {
		return schemas.DocumentUnknownReadyState, err
	}
	return schemas.ParseDocumentReadyState(raw), nil
}

// WaitForDocumentReadyState polls until the document owning el reaches want.
// It gives up with TimedOut after the configured number of rounds.
func (c *WebController) WaitForDocumentReadyState(ctx context.Context, el element.Result, want schemas.DocumentReadyState) error {
	return c.run(ctx, "WaitForDocumentReadyState", el, func(ctx context.Context) error {
		return c.waitReady(ctx, el, want)
	}, attribute.String("actuator.ready_state", want.String()))
}

func (c *WebController) waitReady(ctx context.Context, el element.Result, want schemas.DocumentReadyState) error {
	rounds, interval := c.cfg.DocumentReadyMaxRounds, c.cfg.DocumentReadyInterval
	last := schemas.DocumentUnknownReadyState
	for i := 0; i < rounds; i++ {
		state, err := c.readyState(ctx, el)
		if err != nil {
			return err
		}
		if state >= want && state < schemas.DocumentMaxReadyState {
			return nil
		}
		last = state
		if i < rounds-1 {
			if err := sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return schemas.Statusf(schemas.TimedOut, "document stayed %s for %d rounds, want %s", last, rounds, want)
}

// WaitUntilElementIsStable polls the bounding box of el until two
// consecutive reads agree. Rounds and interval fall back to the engine
// configuration when not positive.
func (c *WebController) WaitUntilElementIsStable(ctx context.Context, el element.Result, rounds int, interval time.Duration) error {
	return c.runElement(ctx, "WaitUntilElementIsStable", el, func(ctx context.Context) error {
		_, err := c.stableRect(ctx, el, rounds, interval)
		return err
	})
}

// GetElementRect returns the current bounding box of el relative to its
// frame's viewport.
func (c *WebController) GetElementRect(ctx context.Context, el element.Result) (r schemas.Rect, err error) {
	err = c.runElement(ctx, "GetElementRect", el, func(ctx context.Context) error {
		r, err = c.rect(ctx, el)
		return err
	})
	return r, err
}

func (c *WebController) rect(ctx context.Context, el element.Result) (schemas.Rect, error) {
	var box []float64
	if err := c.call(ctx, el, js.BoundingClientRect, &box); err != nil {
		return schemas.Rect{}, err
	}
	if len(box) != 4 {
		return schemas.Rect{}, schemas.Statusf(schemas.UnexpectedError, "malformed bounding box %v", box)
	}
	return schemas.Rect{Left: box[0], Top: box[1], Right: box[2], Bottom: box[3]}, nil
}

// stableRect is the element position getter: it returns the rectangle of el
// once two consecutive non-empty reads are identical.
func (c *WebController) stableRect(ctx context.Context, el element.Result, rounds int, interval time.Duration) (schemas.Rect, error) {
	done := c.startWorker("position")
	defer done()

	if rounds <= 0 {
		rounds = c.cfg.StableCheckMaxRounds
	}
	if rounds < 2 {
		rounds = 2
	}
	if interval <= 0 {
		interval = c.cfg.StableCheckInterval
	}

	var prev schemas.Rect
	for i := 0; i < rounds; i++ {
		if i > 0 {
			if err := sleep(ctx, interval); err != nil {
				return schemas.Rect{}, err
			}
		}
		r, err := c.rect(ctx, el)
		if err != nil {
			return schemas.Rect{}, err
		}
		if i > 0 && !r.Empty() && r == prev {
			return r, nil
		}
		prev = r
	}
	if prev.Empty() {
		return schemas.Rect{}, schemas.Statusf(schemas.ElementUnstable, "element has no area")
	}
	c.logger.Debug("Element kept moving", zap.Int("rounds", rounds), zap.Any("last", prev))
	return schemas.Rect{}, schemas.Statusf(schemas.ElementUnstable, "element did not settle within %d rounds", rounds)
}

// position returns the centre of el in the coordinate space of its devtools
// session. Iframes crossed within that session shift the point by their own
// offsets.
func (c *WebController) position(ctx context.Context, el element.Result) (x, y float64, err error) {
	r, err := c.stableRect(ctx, el, 0, 0)
	if err != nil {
		return 0, 0, err
	}
	x, y = r.Center()
	for _, owner := range el.FrameStack {
		if owner.NodeFrameID != el.NodeFrameID {
			continue
		}
		box, err := c.rect(ctx, owner)
		if err != nil {
			return 0, 0, err
		}
		x += box.Left
		y += box.Top
	}
	return x, y, nil
}

// GetVisualViewport returns the visual viewport of el's frame in page
// coordinates.
func (c *WebController) GetVisualViewport(ctx context.Context, el element.Result) (r schemas.Rect, err error) {
	err = c.run(ctx, "GetVisualViewport", el, func(ctx context.Context) error {
		var box []float64
		if err := devtools.EvaluateValue(ctx, c.deps.Client, c.host(el).SessionFrameID(), js.VisualViewport, &box); err != nil {
			return err
		}
		if len(box) != 4 {
			return schemas.Statusf(schemas.UnexpectedError, "malformed viewport %v", box)
		}
		r = schemas.Rect{Left: box[0], Top: box[1], Right: box[2], Bottom: box[3]}
		return nil
	})
	return r, err
}
