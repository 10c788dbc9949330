package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battlegrid/coordinator/internal/protocol"
)

func TestChanLink_SendAndClose(t *testing.T) {
	l := newChanLink(2)
	require.True(t, l.Open())

	require.True(t, l.Send(protocol.HaltAction{}))
	l.Close()

	assert.False(t, l.Open())
	assert.False(t, l.Send(protocol.HaltAction{}))

	// Queued events survive the close so the writer can flush them.
	_, ok := <-l.ch
	assert.True(t, ok)
	_, ok = <-l.ch
	assert.False(t, ok)
}

func TestChanLink_CloseIdempotent(t *testing.T) {
	l := newChanLink(1)
	l.Close()
	l.Close()
	assert.False(t, l.Open())
}

func TestChanLink_FullOutboxKicksConsumer(t *testing.T) {
	l := newChanLink(1)
	require.True(t, l.Send(protocol.HaltAction{}))

	// Second send overflows: the slow consumer is dropped rather than
	// blocking the session.
	assert.False(t, l.Send(protocol.HaltAction{}))
	assert.False(t, l.Open())
}
