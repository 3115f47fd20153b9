// internal/requiredfields/requiredfields_test.go
package requiredfields

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/config"
	"github.com/xkilldash9x/actuator/internal/devtools/devtoolstest"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/webcontroller"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const formPage = `<html><body>
	<input id="email">
	<input id="phone">
	<input id="name" value="Ada">
	<select id="year"><option value="">Choose</option><option value="a">1999</option><option value="b">2050</option></select>
	<div id="country">Pick a country</div>
	<ul><li data-value="de">Germany</li><li data-value="fr">France</li></ul>
</body></html>`

var errBulkFill = schemas.Statusf(schemas.ElementResolutionFailed, "bulk fill missed fields")

func newHandler(t *testing.T) (*Handler, *devtoolstest.Browser) {
	t.Helper()
	b := devtoolstest.NewBrowser(formPage)
	logger := zaptest.NewLogger(t)
	wc := webcontroller.New(element.Deps{Client: b, Tree: b, Logger: logger}, nil, config.EngineConfig{
		DocumentReadyMaxRounds: 2,
		DocumentReadyInterval:  time.Millisecond,
		StableCheckMaxRounds:   3,
		StableCheckInterval:    time.Millisecond,
	})
	return NewHandler(wc, logger), b
}

func field(css, expr string) schemas.RequiredField {
	return schemas.RequiredField{ValueExpression: expr, Selector: schemas.NewSelector(css)}
}

func autofillInfo(t *testing.T, err error) *schemas.AutofillErrorInfo {
	t.Helper()
	require.Equal(t, schemas.AutofillIncomplete, schemas.CodeOf(err), "err: %v", err)
	info := schemas.StatusOf(err).Details.Autofill
	require.NotNil(t, info)
	return info
}

func TestFillableAndMissingValue(t *testing.T) {
	h, b := newHandler(t)
	fields := []schemas.RequiredField{
		field("#email", "${email}"),
		field("#phone", "${phone}"),
	}

	err := h.CheckAndFallbackRequiredFields(context.Background(), errBulkFill, fields, map[string]string{"email": "ada@example.com"})

	info := autofillInfo(t, err)
	assert.Equal(t, schemas.ElementResolutionFailed, info.UpstreamStatus)
	want := []schemas.AutofillFieldError{{
		ValueExpression: "${phone}",
		Selector:        schemas.NewSelector("#phone"),
		Kind:            schemas.NoFallbackValue,
	}}
	if diff := cmp.Diff(want, info.FieldErrors); diff != "" {
		t.Errorf("field errors mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "ada@example.com", b.Value("#email"))
	assert.Equal(t, schemas.FieldNotEmpty, fields[0].Status)
	assert.Equal(t, schemas.FieldEmpty, fields[1].Status)
}

func TestUpstreamSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("Only Forced Fields Are Checked", func(t *testing.T) {
		h, b := newHandler(t)
		fields := []schemas.RequiredField{field("#email", "x@example.com")}
		require.NoError(t, h.CheckAndFallbackRequiredFields(ctx, nil, fields, nil))
		assert.Empty(t, b.Value("#email"), "non-forced fields are trusted")
	})

	t.Run("Forced Field Is Filled", func(t *testing.T) {
		h, b := newHandler(t)
		f := field("#email", "x@example.com")
		f.Forced = true
		require.NoError(t, h.CheckAndFallbackRequiredFields(ctx, nil, []schemas.RequiredField{f}, nil))
		assert.Equal(t, "x@example.com", b.Value("#email"))
	})

	t.Run("Forced Field Without Value", func(t *testing.T) {
		h, _ := newHandler(t)
		f := field("#email", "${email}")
		f.Forced = true
		info := autofillInfo(t, h.CheckAndFallbackRequiredFields(ctx, nil, []schemas.RequiredField{f}, nil))
		assert.Equal(t, schemas.ActionApplied, info.UpstreamStatus)
		require.Len(t, info.FieldErrors, 1)
		assert.Equal(t, schemas.NoFallbackValue, info.FieldErrors[0].Kind)
	})

	t.Run("Forced Field Still Empty After Fallback", func(t *testing.T) {
		h, b := newHandler(t)
		f := field("#country", "${country}")
		f.Forced = true
		option := schemas.NewSelector(`li[data-value="${country}"]`)
		f.FallbackClickElement = &option
		f.ClickType = schemas.ClickJavaScript

		info := autofillInfo(t, h.CheckAndFallbackRequiredFields(ctx, nil, []schemas.RequiredField{f}, map[string]string{"country": "de"}))
		assert.Equal(t, schemas.ActionApplied, info.UpstreamStatus)
		require.Len(t, info.FieldErrors, 1)
		assert.Equal(t, schemas.ForcedFieldNotFilled, info.FieldErrors[0].Kind)
		assert.Equal(t, "${country}", info.FieldErrors[0].ValueExpression)
		assert.Len(t, b.Clicks(), 2, "the fallback click chain ran")
	})
}

func TestFieldShapes(t *testing.T) {
	ctx := context.Background()

	t.Run("Already Filled", func(t *testing.T) {
		h, _ := newHandler(t)
		fields := []schemas.RequiredField{field("#name", "${name}")}
		require.NoError(t, h.CheckAndFallbackRequiredFields(ctx, errBulkFill, fields, nil))
		assert.Equal(t, schemas.FieldNotEmpty, fields[0].Status)
	})

	t.Run("Known Filled Fields Are Skipped", func(t *testing.T) {
		h, b := newHandler(t)
		f := field("#email", "x")
		f.Status = schemas.FieldNotEmpty
		require.NoError(t, h.CheckAndFallbackRequiredFields(ctx, errBulkFill, []schemas.RequiredField{f}, nil))
		assert.Empty(t, b.Value("#email"))
	})

	t.Run("Native Select", func(t *testing.T) {
		h, b := newHandler(t)
		f := field("#year", "${year}")
		f.SelectStrategy = schemas.SelectLabelMatch
		require.NoError(t, h.CheckAndFallbackRequiredFields(ctx, errBulkFill, []schemas.RequiredField{f}, map[string]string{"year": "2050"}))
		assert.Equal(t, "b", b.Value("#year"))
		assert.Contains(t, b.EventTypes("#year"), "change")
	})

	t.Run("Custom Dropdown That Stays Empty", func(t *testing.T) {
		h, b := newHandler(t)
		f := field("#country", "${country}")
		option := schemas.NewSelector(`li[data-value="${country}"]`)
		f.FallbackClickElement = &option
		f.ClickType = schemas.ClickJavaScript

		info := autofillInfo(t, h.CheckAndFallbackRequiredFields(ctx, errBulkFill, []schemas.RequiredField{f}, map[string]string{"country": "fr"}))
		require.Len(t, info.FieldErrors, 1)
		assert.Equal(t, schemas.EmptyAfterFallback, info.FieldErrors[0].Kind)

		clicks := b.Clicks()
		require.Len(t, clicks, 2)
		assert.Equal(t, "#country", clicks[0].Target)
		assert.Equal(t, "li", clicks[1].Target)
	})

	t.Run("Unresolvable Field", func(t *testing.T) {
		h, b := newHandler(t)
		fields := []schemas.RequiredField{field("#missing", "x"), field("#email", "y")}
		info := autofillInfo(t, h.CheckAndFallbackRequiredFields(ctx, errBulkFill, fields, nil))
		require.Len(t, info.FieldErrors, 1)
		assert.Equal(t, schemas.ElementResolutionFailed, info.FieldErrors[0].Status)
		assert.Equal(t, "y", b.Value("#email"), "later fields are still handled")
	})
}

func TestHardFillFailureShortCircuits(t *testing.T) {
	h, b := newHandler(t)
	year := field("#year", "2100")
	year.SelectStrategy = schemas.SelectLabelMatch
	fields := []schemas.RequiredField{
		field("#phone", "${phone}"),
		year,
		field("#email", "z@example.com"),
	}

	err := h.CheckAndFallbackRequiredFields(context.Background(), errBulkFill, fields, nil)
	assert.Equal(t, schemas.OptionValueNotFound, schemas.CodeOf(err), "the fill error is returned verbatim")
	assert.Nil(t, schemas.StatusOf(err).Details.Autofill)
	assert.Empty(t, b.Value("#email"), "no field after the failure is touched")
}

func TestExpand(t *testing.T) {
	values := map[string]string{"first": "Ada", "last": "Lovelace", "empty": ""}
	tests := []struct {
		expr string
		want string
		ok   bool
	}{
		{"literal", "literal", true},
		{"${first}", "Ada", true},
		{"${first} ${last}", "Ada Lovelace", true},
		{"${empty}", "", true},
		{"${nope}", "", false},
		{"${first}-${nope}", "Ada-", false},
		{"$first", "$first", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := Expand(tt.expr, values)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNilUpstreamErrorKeepsNilResult(t *testing.T) {
	h, _ := newHandler(t)
	err := h.CheckAndFallbackRequiredFields(context.Background(), nil, nil, nil)
	assert.NoError(t, err)
	assert.False(t, errors.Is(err, schemas.NewStatus(schemas.AutofillIncomplete)))
}
