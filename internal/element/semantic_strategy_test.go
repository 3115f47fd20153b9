// internal/element/semantic_strategy_test.go
package element

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/devtools/devtoolstest"
	"github.com/xkilldash9x/actuator/internal/frames"
	"github.com/xkilldash9x/actuator/internal/semantic"
	"github.com/xkilldash9x/actuator/internal/semantic/semantictest"
)

const semanticPage = `<html><body>
	<input id="main-email">
	<iframe id="left"></iframe>
	<iframe id="right"></iframe>
</body></html>`

type semanticFixture struct {
	b           *devtoolstest.Browser
	left, right frames.GlobalFrameID
	c           *semantictest.Classifier
	deps        Deps
}

func newSemanticFixture(t *testing.T, rightOutOfProcess bool) *semanticFixture {
	t.Helper()
	b := devtoolstest.NewBrowser(semanticPage)
	f := &semanticFixture{
		b:     b,
		left:  b.AttachFrame(b.MainFrame(), "#left", `<input id="left-email">`, false),
		right: b.AttachFrame(b.MainFrame(), "#right", `<input id="right-email">`, rightOutOfProcess),
		c:     semantictest.New(),
	}
	f.deps = newDeps(t, b)
	f.deps.Classifier = f.c
	f.deps.SemanticTimeout = 2 * time.Second
	return f
}

func (f *semanticFixture) node(css string) []semantic.Node {
	return []semantic.Node{{BackendNodeID: f.b.BackendNodeID(css)}}
}

func (f *semanticFixture) resolve(ctx context.Context) (*SemanticStrategy, Result, error) {
	s := NewSemanticStrategy(f.deps, schemas.SemanticFilter{Role: 3, Objective: 7})
	res, err := s.Resolve(ctx, Result{})
	return s, res, err
}

func TestSemanticSingleCandidate(t *testing.T) {
	f := newSemanticFixture(t, false)
	f.c.Set(f.left, semantictest.Reply{Nodes: f.node("#left-email")})

	s, res, err := f.resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateResolved, s.State())
	assert.Equal(t, f.left, res.FrameHost)
	assert.Equal(t, f.b.BackendNodeID("#left-email"), res.BackendNodeID)
	assert.Empty(t, res.NodeFrameID, "same process frames share the main session")
	assert.ElementsMatch(t, []frames.GlobalFrameID{f.b.MainFrame(), f.left, f.right}, f.c.Calls())
	assert.Zero(t, f.b.Subscribers(), "teardown subscription is released")
}

func TestSemanticOutOfProcessCandidate(t *testing.T) {
	f := newSemanticFixture(t, true)
	f.c.Set(f.right, semantictest.Reply{Nodes: f.node("#right-email")})

	_, res, err := f.resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.right, res.FrameHost)
	assert.Equal(t, f.right.SessionFrameID(), res.NodeFrameID)
	assert.NotEmpty(t, res.ObjectID)
}

func TestSemanticAggregation(t *testing.T) {
	t.Run("Two Frames Two Candidates", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.c.Set(f.left, semantictest.Reply{Nodes: f.node("#left-email")})
		f.c.Set(f.right, semantictest.Reply{Nodes: f.node("#right-email"), Delay: 10 * time.Millisecond})

		s, _, err := f.resolve(context.Background())
		assert.Equal(t, schemas.TooManyElements, schemas.CodeOf(err))
		assert.Equal(t, StateFailed, s.State())
		assert.Len(t, s.Nodes(), 2)
	})

	t.Run("No Candidates", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		s, _, err := f.resolve(context.Background())
		assert.Equal(t, schemas.ElementResolutionFailed, schemas.CodeOf(err))
		assert.Equal(t, StateFailed, s.State())
	})

	t.Run("Frame Errors Count As Empty", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.c.Set(f.left, semantictest.Reply{Err: errors.New("model unavailable")})
		f.c.Set(f.right, semantictest.Reply{Nodes: f.node("#right-email")})

		_, res, err := f.resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, f.right, res.FrameHost)
	})

	t.Run("Winner Removed Before Resolution", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.c.Set(f.left, semantictest.Reply{Nodes: f.node("#left-email")})
		f.b.Remove("#left-email")

		_, _, err := f.resolve(context.Background())
		assert.Equal(t, schemas.ElementResolutionFailed, schemas.CodeOf(err))
	})
}

func TestSemanticTimeouts(t *testing.T) {
	t.Run("Nothing Collected", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.deps.SemanticTimeout = 30 * time.Millisecond
		f.c.Set(f.left, semantictest.Reply{Hang: true})

		s, _, err := f.resolve(context.Background())
		assert.Equal(t, schemas.TimedOut, schemas.CodeOf(err))
		assert.Equal(t, StateTimedOut, s.State())
		f.c.Wait()
	})

	t.Run("Late Reply Is Discarded", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.deps.SemanticTimeout = 30 * time.Millisecond
		f.c.Set(f.left, semantictest.Reply{Nodes: f.node("#left-email"), Late: true})

		s, _, err := f.resolve(context.Background())
		assert.Equal(t, schemas.TimedOut, schemas.CodeOf(err))
		assert.Empty(t, s.Nodes())
	})

	t.Run("Collected Candidate Survives The Deadline", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.deps.SemanticTimeout = 30 * time.Millisecond
		f.c.Set(f.left, semantictest.Reply{Nodes: f.node("#left-email")})
		f.c.Set(f.right, semantictest.Reply{Hang: true})

		s, res, err := f.resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateResolved, s.State())
		assert.Equal(t, f.left, res.FrameHost)
	})

	t.Run("Filter Timeout Wins", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.deps.SemanticTimeout = time.Hour
		f.c.Set(f.left, semantictest.Reply{Hang: true})

		s := NewSemanticStrategy(f.deps, schemas.SemanticFilter{Role: 3, ModelTimeout: 20 * time.Millisecond})
		_, err := s.Resolve(context.Background(), Result{})
		assert.Equal(t, schemas.TimedOut, schemas.CodeOf(err))
	})

	t.Run("Caller Deadline", func(t *testing.T) {
		f := newSemanticFixture(t, false)
		f.c.Set(f.left, semantictest.Reply{Hang: true})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		s, _, err := f.resolve(ctx)
		require.Error(t, err)
		assert.Equal(t, StateFailed, s.State())
		assert.Equal(t, schemas.TimedOut, schemas.CodeOf(err))
	})
}

func TestSemanticFrameTeardown(t *testing.T) {
	f := newSemanticFixture(t, false)
	f.c.Requests = make(chan frames.GlobalFrameID, 8)
	f.c.Set(f.left, semantictest.Reply{Hang: true})
	f.c.Set(f.right, semantictest.Reply{Nodes: f.node("#right-email")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := range f.c.Requests {
			if id == f.left {
				f.b.Detach(f.left)
				return
			}
		}
	}()

	start := time.Now()
	s, res, err := f.resolve(context.Background())
	<-done

	require.NoError(t, err, "the detached frame no longer blocks aggregation")
	assert.Equal(t, StateResolved, s.State())
	assert.Equal(t, f.right, res.FrameHost)
	assert.Less(t, time.Since(start), f.deps.SemanticTimeout)
}

func TestSemanticStartFrame(t *testing.T) {
	f := newSemanticFixture(t, false)
	f.c.Set(f.b.MainFrame(), semantictest.Reply{Nodes: f.node("#main-email")})
	f.c.Set(f.right, semantictest.Reply{Nodes: f.node("#right-email")})

	s := NewSemanticStrategy(f.deps, schemas.SemanticFilter{Role: 3})
	res, err := s.Resolve(context.Background(), Result{FrameHost: f.right})
	require.NoError(t, err)
	assert.Equal(t, f.right, res.FrameHost)
	assert.Equal(t, []frames.GlobalFrameID{f.right}, f.c.Calls(), "only the subtree of the start frame is asked")
}
