// internal/webcontroller/query.go
package webcontroller

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/element"
)

// FindElement resolves sel from the main document. strict requires exactly
// one match; otherwise the first match in document order wins.
func (c *WebController) FindElement(ctx context.Context, sel schemas.Selector, strict bool) (element.Result, error) {
	card := element.AnyMatch
	if strict {
		card = element.ExactlyOneMatch
	}
	done := c.startWorker("finder")
	defer done()
	return element.NewFinder(c.deps, sel, card).Start(ctx, element.Result{})
}

// FindElementFrom resolves sel below start.
func (c *WebController) FindElementFrom(ctx context.Context, start element.Result, sel schemas.Selector, strict bool) (res element.Result, err error) {
	card := element.AnyMatch
	if strict {
		card = element.ExactlyOneMatch
	}
	err = c.run(ctx, "FindElementFrom", start, func(ctx context.Context) error {
		done := c.startWorker("finder")
		defer done()
		res, err = element.NewFinder(c.deps, sel, card).Start(ctx, start)
		return err
	})
	return res, err
}

// FindAllElements resolves every element matching sel.
func (c *WebController) FindAllElements(ctx context.Context, sel schemas.Selector) ([]element.Result, error) {
	done := c.startWorker("finder")
	defer done()
	return element.NewFinder(c.deps, sel, element.AnyMatch).StartAll(ctx, element.Result{})
}

// -- Readers --

// GetFieldValue reads el.value. Elements without a value read as empty.
func (c *WebController) GetFieldValue(ctx context.Context, el element.Result) (value string, err error) {
	err = c.runElement(ctx, "GetFieldValue", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.GetValue, &value)
	})
	return value, err
}

// GetStringAttribute reads the property at path, e.g. ["dataset", "id"]. A
// missing property reads as empty; a present non-string one is an error.
func (c *WebController) GetStringAttribute(ctx context.Context, el element.Result, path []string) (value string, err error) {
	if len(path) == 0 {
		return "", schemas.Statusf(schemas.InvalidAction, "empty attribute path")
	}
	err = c.runElement(ctx, "GetStringAttribute", el, func(ctx context.Context) error {
		var raw interface{}
		if err := c.call(ctx, el, js.GetAttributePath, &raw, path); err != nil {
			return err
		}
		switch v := raw.(type) {
		case nil:
		case string:
			value = v
		default:
			return schemas.Statusf(schemas.OtherActionStatus, "%s is a %T, not a string", strings.Join(path, "."), raw)
		}
		return nil
	}, attribute.String("actuator.path", strings.Join(path, ".")))
	return value, err
}

func (c *WebController) GetOuterHTML(ctx context.Context, el element.Result) (html string, err error) {
	err = c.runElement(ctx, "GetOuterHTML", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.OuterHTML, &html)
	})
	return html, err
}

// GetOuterHTMLs returns the markup of every element matching sel.
func (c *WebController) GetOuterHTMLs(ctx context.Context, sel schemas.Selector) ([]string, error) {
	all, err := c.FindAllElements(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for i, el := range all {
		html, err := c.GetOuterHTML(ctx, el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, html)
	}
	return out, nil
}

// GetElementTag returns the lower case tag name of el.
func (c *WebController) GetElementTag(ctx context.Context, el element.Result) (tag string, err error) {
	err = c.runElement(ctx, "GetElementTag", el, func(ctx context.Context) error {
		return c.call(ctx, el, js.GetAttributePath, &tag, []string{"tagName"})
	})
	return strings.ToLower(tag), err
}
