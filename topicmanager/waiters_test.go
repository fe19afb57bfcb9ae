package topicmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pending(w *waiter) bool {
	select {
	case <-w.wake:
		return true
	default:
		return false
	}
}

func TestWaiters(t *testing.T) {
	ws := newWaiters()

	w := ws.register("q")
	assert.True(t, ws.isRegistered("q", w))

	ws.wake("q")
	ws.wake("q")
	assert.True(t, pending(w))
	assert.False(t, pending(w), "wakeups collapse into one")

	ws.wake("other")
	assert.False(t, pending(w))

	replaced := ws.register("q")
	assert.False(t, ws.isRegistered("q", w))
	ws.unregister("q", w)
	assert.True(t, ws.isRegistered("q", replaced), "unregister of a replaced waiter is a no-op")

	ws.wakeAll()
	assert.True(t, pending(replaced))

	assert.True(t, ws.stop("q"))
	assert.True(t, pending(replaced))
	assert.False(t, ws.isRegistered("q", replaced))
	assert.False(t, ws.stop("q"))
}
