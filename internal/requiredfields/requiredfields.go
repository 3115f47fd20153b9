// internal/requiredfields/requiredfields.go
//
// Package requiredfields makes sure the required fields of a form end up
// filled after a bulk fill, falling back to filling them one by one.
package requiredfields

import (
	"context"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/observability"
)

// Controller is the part of the interaction driver the handler needs.
// *webcontroller.WebController satisfies it.
type Controller interface {
	FindElement(ctx context.Context, sel schemas.Selector, strict bool) (element.Result, error)
	GetFieldValue(ctx context.Context, el element.Result) (string, error)
	GetElementTag(ctx context.Context, el element.Result) (string, error)
	SetFieldValue(ctx context.Context, el element.Result, value string, strategy schemas.KeyboardValueFillStrategy, keyDelay time.Duration) error
	SelectOption(ctx context.Context, el element.Result, values []string, strategy schemas.DropdownSelectStrategy) error
	ClickOrTapElement(ctx context.Context, el element.Result, clickType schemas.ClickType) error
}

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// Expand substitutes ${key} references in expr from values. ok is false when
// a referenced key is missing.
func Expand(expr string, values map[string]string) (out string, ok bool) {
	ok = true
	out = placeholder.ReplaceAllStringFunc(expr, func(m string) string {
		v, found := values[placeholder.FindStringSubmatch(m)[1]]
		if !found {
			ok = false
		}
		return v
	})
	return out, ok
}

// Handler runs the required field fallback pass.
type Handler struct {
	wc     Controller
	logger *zap.Logger
	tracer trace.Tracer
}

func NewHandler(wc Controller, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		wc:     wc,
		logger: logger.Named("required_fields"),
		tracer: observability.Tracer("actuator/requiredfields"),
	}
}

// CheckAndFallbackRequiredFields verifies fields after a bulk fill that ended
// with initialErr. When the bulk fill failed, every field not known to be
// filled is read and, if empty, filled from its value expression. Forced
// fields are checked even when the bulk fill succeeded.
//
// The result is nil when every checked field ends up non-empty, otherwise
// AutofillIncomplete carrying one entry per failing field in the order the
// failures were found. A fill call that errors stops the pass and its error
// is returned as is. Field statuses are updated in place.
func (h *Handler) CheckAndFallbackRequiredFields(ctx context.Context, initialErr error, fields []schemas.RequiredField, values map[string]string) (err error) {
	upstream := schemas.CodeOf(initialErr)
	ctx, span := observability.StartSpan(ctx, h.tracer, h.logger, "requiredfields.CheckAndFallback",
		attribute.Int("actuator.fields", len(fields)),
		attribute.String("actuator.upstream_status", upstream.String()))
	defer func() { span.End(err) }()

	var fieldErrs []schemas.AutofillFieldError
	for i := range fields {
		f := &fields[i]
		if !f.Forced && (initialErr == nil || f.Status == schemas.FieldNotEmpty) {
			continue
		}

		fe, err := h.check(ctx, f, values)
		if err != nil {
			h.logger.Warn("Fallback fill failed, stopping",
				zap.String("selector", f.Selector.String()),
				zap.Error(err))
			return err
		}
		if fe != nil {
			fieldErrs = append(fieldErrs, *fe)
		}
	}

	if len(fieldErrs) == 0 {
		return nil
	}
	h.logger.Info("Required fields left empty",
		zap.Int("failed", len(fieldErrs)),
		zap.Int("fields", len(fields)),
		zap.Stringer("upstream", upstream))
	return schemas.Statusf(schemas.AutofillIncomplete, "%d required field(s) empty", len(fieldErrs)).
		WithAutofill(schemas.AutofillErrorInfo{UpstreamStatus: upstream, FieldErrors: fieldErrs})
}

// check handles one field. It returns a field error for outcomes that only
// concern this field and a plain error when a fill call failed.
func (h *Handler) check(ctx context.Context, f *schemas.RequiredField, values map[string]string) (*schemas.AutofillFieldError, error) {
	fail := func(kind schemas.AutofillFieldErrorKind, status schemas.StatusCode) *schemas.AutofillFieldError {
		f.Status = schemas.FieldEmpty
		return &schemas.AutofillFieldError{ValueExpression: f.ValueExpression, Selector: f.Selector, Kind: kind, Status: status}
	}

	el, err := h.wc.FindElement(ctx, f.Selector, true)
	if err != nil {
		return fail("", schemas.CodeOf(err)), nil
	}
	current, err := h.wc.GetFieldValue(ctx, el)
	if err != nil {
		return fail("", schemas.CodeOf(err)), nil
	}
	if current != "" {
		f.Status = schemas.FieldNotEmpty
		return nil, nil
	}

	value, ok := Expand(f.ValueExpression, values)
	if !ok || value == "" {
		return fail(schemas.NoFallbackValue, schemas.ActionApplied), nil
	}
	if err := h.fill(ctx, f, el, value, values); err != nil {
		return nil, err
	}

	current, err = h.wc.GetFieldValue(ctx, el)
	if err != nil {
		return fail("", schemas.CodeOf(err)), nil
	}
	if current == "" {
		if f.Forced {
			return fail(schemas.ForcedFieldNotFilled, schemas.ActionApplied), nil
		}
		return fail(schemas.EmptyAfterFallback, schemas.ActionApplied), nil
	}
	f.Status = schemas.FieldNotEmpty
	return nil, nil
}

// fill writes value with the mechanism the field's shape calls for: a click
// through a custom dropdown, a native <select>, or a text fill.
func (h *Handler) fill(ctx context.Context, f *schemas.RequiredField, el element.Result, value string, values map[string]string) error {
	if f.FallbackClickElement != nil {
		if err := h.wc.ClickOrTapElement(ctx, el, f.ClickType); err != nil {
			return err
		}
		option, err := h.wc.FindElement(ctx, expandSelector(*f.FallbackClickElement, values), true)
		if err != nil {
			return err
		}
		return h.wc.ClickOrTapElement(ctx, option, f.ClickType)
	}

	tag, err := h.wc.GetElementTag(ctx, el)
	if err != nil {
		return err
	}
	if tag == "select" {
		return h.wc.SelectOption(ctx, el, []string{value}, f.SelectStrategy)
	}
	return h.wc.SetFieldValue(ctx, el, value, f.FillStrategy, f.KeyPressDelay)
}

// expandSelector substitutes ${key} references in the CSS and text filters of
// sel. Missing keys expand to the empty string.
func expandSelector(sel schemas.Selector, values map[string]string) schemas.Selector {
	out := schemas.Selector{TrackingID: sel.TrackingID, Filters: make([]schemas.Filter, len(sel.Filters))}
	for i, f := range sel.Filters {
		f.CSS, _ = Expand(f.CSS, values)
		if f.Text != nil {
			text := *f.Text
			text.Re, _ = Expand(text.Re, values)
			f.Text = &text
		}
		out.Filters[i] = f
	}
	return out
}
