// internal/actiondelegate/actiondelegate.go
//
// Package actiondelegate runs ordered chains of interactions against one
// resolved element.
package actiondelegate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/observability"
	"github.com/xkilldash9x/actuator/internal/webcontroller"
)

// Action is one step of a chain. Every step of a chain receives the same
// element.
type Action func(ctx context.Context, el element.Result) error

// Finder resolves a selector to one element. *webcontroller.WebController
// satisfies it.
type Finder interface {
	FindElement(ctx context.Context, sel schemas.Selector, strict bool) (element.Result, error)
}

// FindElementAndPerform resolves sel to exactly one element and runs actions
// against it in order. The first failing step ends the chain and its error is
// returned unchanged; later steps never run.
func FindElementAndPerform(ctx context.Context, finder Finder, sel schemas.Selector, actions ...Action) error {
	logger := observability.Component("action_delegate")

	el, err := finder.FindElement(ctx, sel, true)
	if err != nil {
		logger.Debug("Chain target not resolved", zap.String("selector", sel.String()), zap.Error(err))
		return err
	}
	return Perform(ctx, el, actions...)
}

// Perform runs actions against an already resolved element.
func Perform(ctx context.Context, el element.Result, actions ...Action) error {
	for i, act := range actions {
		if err := ctx.Err(); err != nil {
			return schemas.StatusOf(err)
		}
		if err := act(ctx, el); err != nil {
			observability.Component("action_delegate").Debug("Chain stopped",
				zap.Int("step", i),
				zap.Int("steps", len(actions)),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// -- Composite steps --

// ClickOrTapElement scrolls the element into view if needed and clicks it.
func ClickOrTapElement(wc *webcontroller.WebController, clickType schemas.ClickType) Action {
	return func(ctx context.Context, el element.Result) error {
		if err := wc.ScrollIntoViewIfNeeded(ctx, el, true); err != nil {
			return err
		}
		return wc.ClickOrTapElement(ctx, el, clickType)
	}
}

// PerformSetFieldValue writes value into the element.
func PerformSetFieldValue(wc *webcontroller.WebController, value string, strategy schemas.KeyboardValueFillStrategy, keyDelay time.Duration) Action {
	return func(ctx context.Context, el element.Result) error {
		return wc.SetFieldValue(ctx, el, value, strategy, keyDelay)
	}
}

// PerformSelectOption selects an option of the <select> element.
func PerformSelectOption(wc *webcontroller.WebController, values []string, strategy schemas.DropdownSelectStrategy) Action {
	return func(ctx context.Context, el element.Result) error {
		return wc.SelectOption(ctx, el, values, strategy)
	}
}

// WaitUntilDocumentInteractive waits for the element's document to be at
// least interactive.
func WaitUntilDocumentInteractive(wc *webcontroller.WebController) Action {
	return func(ctx context.Context, el element.Result) error {
		return wc.WaitForDocumentReadyState(ctx, el, schemas.DocumentInteractive)
	}
}

// WaitUntilStable waits for the element's position to settle.
func WaitUntilStable(wc *webcontroller.WebController) Action {
	return func(ctx context.Context, el element.Result) error {
		return wc.WaitUntilElementIsStable(ctx, el, 0, 0)
	}
}

// ExpectValue fails with OtherActionStatus unless the element's value is want.
func ExpectValue(wc *webcontroller.WebController, want string) Action {
	return func(ctx context.Context, el element.Result) error {
		got, err := wc.GetFieldValue(ctx, el)
		if err != nil {
			return err
		}
		if got != want {
			return schemas.Statusf(schemas.OtherActionStatus, "value is %q, want %q", got, want)
		}
		return nil
	}
}

// Named labels the errors of a step with name.
func Named(name string, act Action) Action {
	return func(ctx context.Context, el element.Result) error {
		if err := act(ctx, el); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}
