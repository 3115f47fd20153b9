// internal/webcontroller/interaction.go
package webcontroller

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/element"
)

// -- Scrolling --

func (c *WebController) ScrollIntoView(ctx context.Context, el element.Result) error {
	return c.runElement(ctx, "ScrollIntoView", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.ScrollIntoView, nil)
	})
}

// ScrollIntoViewIfNeeded scrolls only when el is outside the viewport,
// centring it when center is set.
func (c *WebController) ScrollIntoViewIfNeeded(ctx context.Context, el element.Result, center bool) error {
	return c.runElement(ctx, "ScrollIntoViewIfNeeded", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.ScrollIntoViewIfNeeded, nil, center)
	})
}

// -- Clicks --

// ClickOrTapElement clicks el. The JavaScript type calls element.click() in
// the page; Click and Tap dispatch a native pointer pair at el's centre once
// its position has settled. An empty type uses the configured default.
func (c *WebController) ClickOrTapElement(ctx context.Context, el element.Result, clickType schemas.ClickType) error {
	if clickType == "" {
		clickType = schemas.ClickType(c.cfg.ClickType)
	}
	return c.runElement(ctx, "ClickOrTapElement", el, func(ctx context.Context) error {
		return c.click(ctx, el, clickType)
	}, attribute.String("actuator.click_type", string(clickType)))
}

func (c *WebController) click(ctx context.Context, el element.Result, clickType schemas.ClickType) error {
	switch clickType {
	case schemas.ClickJavaScript:
		return c.call(ctx, el, js.Click, nil)
	case schemas.ClickNative, schemas.ClickTap:
	default:
		return schemas.Statusf(schemas.InvalidAction, "unknown click type %q", clickType)
	}

	g := c.guard(el)
	defer g.Release()

	x, y, err := c.position(ctx, el)
	if err != nil {
		return err
	}
	c.logger.Debug("Dispatching pointer pair",
		zap.String("type", string(clickType)),
		zap.Float64("x", x),
		zap.Float64("y", y))

	if clickType == schemas.ClickTap {
		point := []*input.TouchPoint{{X: x, Y: y}}
		if err := c.deps.Client.DispatchTouchEvent(ctx, input.DispatchTouchEvent(input.TouchStart, point), el.NodeFrameID); err != nil {
			return devtools.CheckResult(nil, err)
		}
		return devtools.CheckResult(nil, c.deps.Client.DispatchTouchEvent(ctx, input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{}), el.NodeFrameID))
	}

	press := input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1)
	if err := c.deps.Client.DispatchMouseEvent(ctx, press, el.NodeFrameID); err != nil {
		return devtools.CheckResult(nil, err)
	}
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1)
	return devtools.CheckResult(nil, c.deps.Client.DispatchMouseEvent(ctx, release, el.NodeFrameID))
}

// CheckOnTop fails with ElementNotOnTop when another element covers el's
// centre.
func (c *WebController) CheckOnTop(ctx context.Context, el element.Result) error {
	return c.runElement(ctx, "CheckOnTop", el, func(ctx context.Context) error {
		var onTop bool
		if err := c.call(ctx, el, js.CheckOnTop, &onTop); err != nil {
			return err
		}
		if !onTop {
			return schemas.Statusf(schemas.ElementNotOnTop, "element is covered")
		}
		return nil
	})
}

// -- Dropdowns --

// SelectOption selects the first option of the <select> el that matches one
// of values under strategy, firing input and change. Nothing matching is
// OptionValueNotFound.
func (c *WebController) SelectOption(ctx context.Context, el element.Result, values []string, strategy schemas.DropdownSelectStrategy) error {
	if strategy == "" {
		strategy = schemas.SelectValueMatch
	}
	return c.runElement(ctx, "SelectOption", el, func(ctx context.Context) error {
		return c.selectOption(ctx, el, values, strategy)
	}, attribute.String("actuator.select_strategy", string(strategy)))
}

func (c *WebController) selectOption(ctx context.Context, el element.Result, values []string, strategy schemas.DropdownSelectStrategy) error {
	if values == nil {
		values = []string{}
	}
	var found bool
	if err := c.call(ctx, el, js.SelectOption, &found, values, string(strategy)); err != nil {
		return err
	}
	if !found {
		return schemas.Statusf(schemas.OptionValueNotFound, "no option matches %q (%s)", values, strategy)
	}
	return nil
}

// -- Field values --

// SetValueAttribute assigns el.value without firing any event.
func (c *WebController) SetValueAttribute(ctx context.Context, el element.Result, value string) error {
	return c.runElement(ctx, "SetValueAttribute", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.SetValue, nil, value)
	})
}

// SetFieldValue writes value into el with the given strategy. FillSetValue
// assigns the value and fires input and change. The two key press strategies
// wait for the document to be interactive, scroll el into view, click it,
// then either select the current value or clear it, and type value one
// codepoint at a time with keyDelay between keys.
func (c *WebController) SetFieldValue(ctx context.Context, el element.Result, value string, strategy schemas.KeyboardValueFillStrategy, keyDelay time.Duration) error {
	if strategy == "" {
		strategy = schemas.FillSetValue
	}
	return c.runElement(ctx, "SetFieldValue", el, func(ctx context.Context) error {
		return c.setFieldValue(ctx, el, value, strategy, keyDelay)
	}, attribute.String("actuator.fill_strategy", string(strategy)))
}

func (c *WebController) setFieldValue(ctx context.Context, el element.Result, value string, strategy schemas.KeyboardValueFillStrategy, keyDelay time.Duration) error {
	if strategy == schemas.FillSetValue {
		if err := c.call(ctx, el, js.SetValue, nil, value); err != nil {
			return err
		}
		return c.call(ctx, el, js.FireInputAndChange, nil)
	}

	var prepare func(context.Context) error
	switch strategy {
	case schemas.FillSimulateKeyPressesSelectValue:
		prepare = func(ctx context.Context) error { return c.call(ctx, el, js.SelectAll, nil) }
	case schemas.FillSimulateKeyPresses:
		prepare = func(ctx context.Context) error { return c.clear(ctx, el) }
	default:
		return schemas.Statusf(schemas.InvalidAction, "unknown fill strategy %q", strategy)
	}
	if keyDelay <= 0 {
		keyDelay = c.cfg.KeyPressDelay
	}

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return c.waitReady(ctx, el, schemas.DocumentInteractive) },
		func(ctx context.Context) error { return c.call(ctx, el, js.ScrollIntoView, nil) },
		func(ctx context.Context) error { return c.click(ctx, el, schemas.ClickType(c.cfg.ClickType)) },
		prepare,
		func(ctx context.Context) error { return c.typeRunes(ctx, el, []rune(value), keyDelay) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ClearFieldValue empties el and fires input and change.
func (c *WebController) ClearFieldValue(ctx context.Context, el element.Result) error {
	return c.runElement(ctx, "ClearFieldValue", el, func(ctx context.Context) error {
		return c.clear(ctx, el)
	})
}

func (c *WebController) clear(ctx context.Context, el element.Result) error {
	if err := c.call(ctx, el, js.SetValue, nil, ""); err != nil {
		return err
	}
	return c.call(ctx, el, js.FireInputAndChange, nil)
}

// SelectFieldValue selects the whole text of el so the next key replaces it.
func (c *WebController) SelectFieldValue(ctx context.Context, el element.Result) error {
	return c.runElement(ctx, "SelectFieldValue", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.SelectAll, nil)
	})
}

func (c *WebController) FocusField(ctx context.Context, el element.Result) error {
	return c.runElement(ctx, "FocusField", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.Focus, nil)
	})
}

// SetAttribute assigns value at a property path of el, e.g. ["dataset", "id"].
func (c *WebController) SetAttribute(ctx context.Context, el element.Result, path []string, value string) error {
	if len(path) == 0 {
		return schemas.Statusf(schemas.InvalidAction, "empty attribute path")
	}
	return c.runElement(ctx, "SetAttribute", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.SetAttributePath, nil, path, value)
	})
}
