// internal/webcontroller/keyboard.go
package webcontroller

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/element"
)

// keyEvents encodes one codepoint as a keyDown/keyUp pair. The named key and
// code come from the US layout table when the rune is on it; any other rune
// is still typed through its text payload, with the key left unidentified.
func keyEvents(r rune) (down, up *input.DispatchKeyEventParams) {
	if r == '\n' {
		r = '\r'
	}
	down = &input.DispatchKeyEventParams{Type: input.KeyDown}
	if k, ok := kb.Keys[r]; ok {
		down.Key = k.Key
		down.Code = k.Code
		down.WindowsVirtualKeyCode = k.Windows
		if k.Shift {
			down.Modifiers = input.ModifierShift
		}
		if k.Print {
			down.Text = k.Text
			down.UnmodifiedText = k.Unmodified
		}
	} else {
		down.Key = "Unidentified"
		down.Text = string(r)
		down.UnmodifiedText = down.Text
	}
	u := *down
	u.Type = input.KeyUp
	u.Text, u.UnmodifiedText = "", ""
	return down, &u
}

// namedKey finds a key of the layout table by its DOM key name, e.g.
// "Enter" or "ArrowLeft". An exact match wins over a case-insensitive one;
// ties go to the lowest rune so the choice is stable.
func namedKey(name string) (rune, bool) {
	var exact, folded rune = -1, -1
	for r, k := range kb.Keys {
		if k.Shift {
			continue
		}
		if k.Key == name && (exact < 0 || r < exact) {
			exact = r
		}
		if strings.EqualFold(k.Key, name) && (folded < 0 || r < folded) {
			folded = r
		}
	}
	switch {
	case exact >= 0:
		return exact, true
	case folded >= 0:
		return folded, true
	}
	return 0, false
}

func limiterFor(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// SendKeyboardInput focuses el and types codepoints one keyDown/keyUp pair at
// a time, spaced by delay.
func (c *WebController) SendKeyboardInput(ctx context.Context, el element.Result, codepoints []rune, delay time.Duration) error {
	return c.runElement(ctx, "SendKeyboardInput", el, func(ctx context.Context) error {
		return c.typeRunes(ctx, el, codepoints, delay)
	}, attribute.Int("actuator.codepoints", len(codepoints)))
}

// SendTextInput is SendKeyboardInput for a string.
func (c *WebController) SendTextInput(ctx context.Context, el element.Result, text string, delay time.Duration) error {
	return c.SendKeyboardInput(ctx, el, []rune(text), delay)
}

// SendKeyEvent presses and releases one named key on el.
func (c *WebController) SendKeyEvent(ctx context.Context, el element.Result, key string) error {
	return c.runElement(ctx, "SendKeyEvent", el, func(ctx context.Context) error {
		r, ok := namedKey(key)
		if !ok {
			return schemas.Statusf(schemas.InvalidAction, "unknown key %q", key)
		}
		return c.typeRunes(ctx, el, []rune{r}, 0)
	}, attribute.String("actuator.key", key))
}

func (c *WebController) typeRunes(ctx context.Context, el element.Result, codepoints []rune, delay time.Duration) error {
	g := c.guard(el)
	defer g.Release()

	if err := c.call(ctx, el, js.Focus, nil); err != nil {
		return err
	}
	limiter := limiterFor(delay)
	for _, r := range codepoints {
		if err := limiter.Wait(ctx); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			// The next key would land past the deadline.
			return schemas.WrapStatus(schemas.TimedOut, err)
		}
		down, up := keyEvents(r)
		if err := devtools.CheckResult(nil, c.deps.Client.DispatchKeyEvent(ctx, down, el.NodeFrameID)); err != nil {
			return err
		}
		if err := devtools.CheckResult(nil, c.deps.Client.DispatchKeyEvent(ctx, up, el.NodeFrameID)); err != nil {
			return err
		}
	}
	return nil
}
