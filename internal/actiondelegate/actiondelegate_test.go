// internal/actiondelegate/actiondelegate_test.go
package actiondelegate

import (
	"context"
	"errors"
	"testing"
	"time"

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

const page = `<html><body>
	<input id="email">
	<select id="year"><option value="a">1999</option><option value="b">2050</option></select>
	<button id="submit">Submit</button>
</body></html>`

func newController(t *testing.T, b *devtoolstest.Browser) *webcontroller.WebController {
	t.Helper()
	deps := element.Deps{Client: b, Tree: b, Logger: zaptest.NewLogger(t)}
	return webcontroller.New(deps, nil, config.EngineConfig{
		DocumentReadyMaxRounds: 2,
		DocumentReadyInterval:  time.Millisecond,
		StableCheckMaxRounds:   3,
		StableCheckInterval:    time.Millisecond,
	})
}

// step records its index and returns err.
func step(trace *[]int, i int, err error) Action {
	return func(context.Context, element.Result) error {
		*trace = append(*trace, i)
		return err
	}
}

func TestFindElementAndPerformShortCircuits(t *testing.T) {
	b := devtoolstest.NewBrowser(page)
	wc := newController(t, b)
	ctx := context.Background()
	boom := schemas.Statusf(schemas.ElementUnstable, "moving")

	t.Run("All Steps Run In Order", func(t *testing.T) {
		var trace []int
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#email"), step(&trace, 0, nil), step(&trace, 1, nil), step(&trace, 2, nil))
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, trace)
	})

	t.Run("First Failure Stops The Chain", func(t *testing.T) {
		var trace []int
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#email"), step(&trace, 0, nil), step(&trace, 1, boom), step(&trace, 2, nil))
		assert.Same(t, boom, err)
		assert.Equal(t, []int{0, 1}, trace)
	})

	t.Run("Resolution Failure Runs Nothing", func(t *testing.T) {
		var trace []int
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#missing"), step(&trace, 0, nil))
		assert.Equal(t, schemas.ElementResolutionFailed, schemas.CodeOf(err))
		assert.Empty(t, trace)
	})

	t.Run("Cancelled Context Stops Before The Next Step", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		var trace []int
		cancelling := func(context.Context, element.Result) error {
			trace = append(trace, 0)
			cancel()
			return nil
		}
		err := FindElementAndPerform(cctx, wc, schemas.NewSelector("#email"), cancelling, step(&trace, 1, nil))
		assert.Error(t, err)
		assert.Equal(t, []int{0}, trace)
	})

	t.Run("Every Step Sees The Same Element", func(t *testing.T) {
		var seen []element.Result
		grab := func(_ context.Context, el element.Result) error {
			seen = append(seen, el)
			return nil
		}
		require.NoError(t, FindElementAndPerform(ctx, wc, schemas.NewSelector("#submit"), grab, grab))
		require.Len(t, seen, 2)
		assert.Equal(t, seen[0].ObjectID, seen[1].ObjectID)
	})
}

func TestComposites(t *testing.T) {
	ctx := context.Background()

	t.Run("Fill And Verify", func(t *testing.T) {
		b := devtoolstest.NewBrowser(page)
		wc := newController(t, b)
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#email"),
			WaitUntilDocumentInteractive(wc),
			PerformSetFieldValue(wc, "me@example.com", schemas.FillSimulateKeyPresses, 0),
			ExpectValue(wc, "me@example.com"),
		)
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", b.Value("#email"))
	})

	t.Run("Select Then Click", func(t *testing.T) {
		b := devtoolstest.NewBrowser(page)
		wc := newController(t, b)
		require.NoError(t, FindElementAndPerform(ctx, wc, schemas.NewSelector("#year"),
			PerformSelectOption(wc, []string{"2050"}, schemas.SelectLabelMatch)))
		require.NoError(t, FindElementAndPerform(ctx, wc, schemas.NewSelector("#submit"),
			WaitUntilStable(wc),
			ClickOrTapElement(wc, schemas.ClickNative)))

		assert.Equal(t, "b", b.Value("#year"))
		require.Len(t, b.Clicks(), 1)
		assert.Equal(t, "#submit", b.Clicks()[0].Target)
	})

	t.Run("Document Not Ready", func(t *testing.T) {
		b := devtoolstest.NewBrowser(page)
		b.SetReadyState(b.MainFrame(), "loading")
		wc := newController(t, b)

		var trace []int
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#email"),
			WaitUntilDocumentInteractive(wc),
			step(&trace, 1, nil))
		assert.Equal(t, schemas.TimedOut, schemas.CodeOf(err))
		assert.Empty(t, trace)
	})

	t.Run("Named Step Keeps The Status", func(t *testing.T) {
		b := devtoolstest.NewBrowser(page)
		wc := newController(t, b)
		err := FindElementAndPerform(ctx, wc, schemas.NewSelector("#email"),
			Named("verify", ExpectValue(wc, "nope")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify: ")
		assert.Equal(t, schemas.OtherActionStatus, schemas.CodeOf(err))
		assert.False(t, errors.Is(err, schemas.NewStatus(schemas.TimedOut)))
	})
}
