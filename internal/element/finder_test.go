// internal/element/finder_test.go
package element

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools/devtoolstest"
	"github.com/xkilldash9x/actuator/internal/semantic"
	"github.com/xkilldash9x/actuator/internal/semantic/semantictest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu      sync.Mutex
	records []schemas.ElementFinderInfo
	ctxErrs []error
	err     error
}

func (s *recordingSink) Append(ctx context.Context, info schemas.ElementFinderInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, info)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func TestFinderPreconditions(t *testing.T) {
	b := devtoolstest.NewBrowser(`<p id="p"></p>`)

	t.Run("Empty Selector", func(t *testing.T) {
		sink := &recordingSink{}
		deps := newDeps(t, b)
		deps.Sink = sink

		_, err := NewFinder(deps, schemas.Selector{TrackingID: "t-1"}, ExactlyOneMatch).Start(context.Background(), Result{})
		assert.Equal(t, schemas.InvalidSelector, schemas.CodeOf(err))
		require.Len(t, sink.records, 1, "failures are reported too")
		assert.Equal(t, schemas.InvalidSelector, sink.records[0].Status)
		assert.Equal(t, "t-1", sink.records[0].TrackingID)
		assert.Zero(t, b.CallCount("document"), "nothing is sent to the page")
	})

	t.Run("Semantic Without Classifier", func(t *testing.T) {
		sel := schemas.NewSemanticSelector(schemas.SemanticFilter{Role: 1, Objective: 2})
		_, err := NewFinder(newDeps(t, b), sel, ExactlyOneMatch).Start(context.Background(), Result{})
		assert.Equal(t, schemas.PreconditionFailed, schemas.CodeOf(err))
	})

	t.Run("Semantic Not First", func(t *testing.T) {
		deps := newDeps(t, b)
		deps.Classifier = semantictest.New()
		sel := schemas.NewSelector("p").Then(schemas.Filter{Kind: schemas.FilterSemantic, Semantic: &schemas.SemanticFilter{Role: 1}})
		_, err := NewFinder(deps, sel, ExactlyOneMatch).Start(context.Background(), Result{})
		assert.Equal(t, schemas.InvalidSelector, schemas.CodeOf(err))
	})
}

func TestFinderDiagnostics(t *testing.T) {
	b := devtoolstest.NewBrowser(`<select id="select"><option>1999</option></select>`)

	t.Run("CSS Success", func(t *testing.T) {
		sink := &recordingSink{}
		deps := newDeps(t, b)
		deps.Sink = sink

		sel := schemas.NewSelector("#select")
		sel.TrackingID = "checkout-year"
		res, err := NewFinder(deps, sel, ExactlyOneMatch).Start(context.Background(), Result{})
		require.NoError(t, err)

		require.Len(t, sink.records, 1)
		rec := sink.records[0]
		assert.Equal(t, schemas.ActionApplied, rec.Status)
		assert.Equal(t, "checkout-year", rec.TrackingID)
		assert.Equal(t, "css", rec.Strategy)
		assert.Equal(t, []int64{int64(res.BackendNodeID)}, rec.MatchedBackendIDs)
	})

	t.Run("Sink Errors Are Logged", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		sink := &recordingSink{err: errors.New("db down")}
		deps := Deps{Client: b, Tree: b, Sink: sink, Logger: zap.New(core)}

		_, err := NewFinder(deps, schemas.NewSelector("#select"), ExactlyOneMatch).Start(context.Background(), Result{})
		require.NoError(t, err, "a sink failure does not fail the resolution")
		assert.Equal(t, 1, logs.FilterMessage("Failed to append element finder record").Len())
	})

	t.Run("Cancelled Run Is Still Recorded", func(t *testing.T) {
		sink := &recordingSink{}
		deps := newDeps(t, b)
		deps.Sink = sink

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFinder(deps, schemas.NewSelector("#select"), ExactlyOneMatch).Start(ctx, Result{})
		require.Error(t, err)
		require.Len(t, sink.records, 1)
		assert.NoError(t, sink.ctxErrs[0], "the sink outlives the operation context")
	})

	t.Run("Failures Propagate Unchanged", func(t *testing.T) {
		sink := &recordingSink{}
		deps := newDeps(t, b)
		deps.Sink = sink

		_, err := NewFinder(deps, schemas.NewSelector("option").WithInnerText("2050"), ExactlyOneMatch).Start(context.Background(), Result{})
		assert.Equal(t, schemas.ElementResolutionFailed, schemas.CodeOf(err))
		require.Len(t, sink.records, 1)
		assert.Equal(t, schemas.ElementResolutionFailed, sink.records[0].Status)
		assert.Empty(t, sink.records[0].MatchedBackendIDs)
	})
}

func TestFinderSemanticThenCSS(t *testing.T) {
	b := devtoolstest.NewBrowser(`<form id="login"><input id="user"><input id="pass" type="password"></form><input id="search">`)
	classifier := semantictest.New().Set(b.MainFrame(), semantictest.Reply{
		Nodes: []semantic.Node{{BackendNodeID: b.BackendNodeID("#login"), UsedOverride: true}},
	})
	sink := &recordingSink{}
	deps := newDeps(t, b)
	deps.Classifier = classifier
	deps.Sink = sink

	sel := schemas.NewSemanticSelector(schemas.SemanticFilter{Role: 1, Objective: 2}).
		Then(schemas.Filter{Kind: schemas.FilterCSSSelector, CSS: "input[type=password]"})
	finder := NewFinder(deps, sel, ExactlyOneMatch)

	res, err := finder.Start(context.Background(), Result{})
	require.NoError(t, err)
	assert.Equal(t, b.BackendNodeID("#pass"), res.BackendNodeID)

	require.Len(t, finder.Nodes(), 1)
	assert.True(t, finder.Nodes()[0].UsedOverride)

	require.Len(t, sink.records, 1)
	assert.Equal(t, "semantic+css", sink.records[0].Strategy)
	require.Len(t, sink.records[0].SemanticNodes, 1)
	assert.Equal(t, int64(b.BackendNodeID("#login")), sink.records[0].SemanticNodes[0].BackendNodeID)
}

func TestFinderSelectScenario(t *testing.T) {
	b := devtoolstest.NewBrowser(`<select id="select"><option value="a">1999</option><option value="b">2050</option></select>`)
	res, err := find(t, newDeps(t, b), schemas.NewSelector("#select"), ExactlyOneMatch)
	require.NoError(t, err)
	assert.False(t, res.IsZero())
	assert.Equal(t, b.BackendNodeID("#select"), res.BackendNodeID)
	assert.Equal(t, b.MainFrame(), res.FrameHost)
}
