// internal/autofill/autofill_test.go
package autofill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/actuator/internal/devtools/devtoolstest"
)

func TestRegistryNesting(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	b := devtoolstest.NewBrowser(`<p></p>`)
	frame := b.MainFrame()

	r.SetAssistantActionRunning(frame, true)
	r.SetAssistantActionRunning(frame, true)
	r.SetAssistantActionRunning(frame, false)
	assert.True(t, r.IsRunning(frame))

	r.SetAssistantActionRunning(frame, false)
	assert.False(t, r.IsRunning(frame))

	// Unbalanced releases never go negative.
	r.SetAssistantActionRunning(frame, false)
	r.SetAssistantActionRunning(frame, true)
	assert.True(t, r.IsRunning(frame))

	r.Forget(frame)
	assert.False(t, r.IsRunning(frame))
}

func TestGuard(t *testing.T) {
	t.Run("Releases Once", func(t *testing.T) {
		r := NewRegistry(zaptest.NewLogger(t))
		b := devtoolstest.NewBrowser(`<p></p>`)
		frame := b.MainFrame()

		other := Acquire(r, b, frame)
		g := Acquire(r, b, frame)
		g.Release()
		g.Release()
		assert.True(t, r.IsRunning(frame), "second release must not drop the other holder")

		other.Release()
		assert.False(t, r.IsRunning(frame))
	})

	t.Run("Release After Teardown Is A No-op", func(t *testing.T) {
		r := NewRegistry(zaptest.NewLogger(t))
		b := devtoolstest.NewBrowser(`<iframe id="f"></iframe>`)
		child := b.AttachFrame(b.MainFrame(), "#f", `<p></p>`, true)

		g := Acquire(r, b, child)
		assert.True(t, r.IsRunning(child))

		b.Detach(child)
		g.Release()
		assert.True(t, r.IsRunning(child), "state of a dead frame is left for Forget")
	})

	t.Run("Nil Agent", func(t *testing.T) {
		g := Acquire(nil, nil, devtoolstest.NewBrowser(`<p></p>`).MainFrame())
		assert.NotPanics(t, g.Release)
	})
}
