package ws

import (
	"sync/atomic"

	"github.com/battlegrid/coordinator/internal/protocol"
)

// chanLink is the session-side view of one player socket: a buffered
// outbox the writer goroutine drains. Send and Close are called from the
// session goroutine only; Open may be read from anywhere.
type chanLink struct {
	ch     chan protocol.PlayerOutbound
	closed atomic.Bool
}

func newChanLink(size int) *chanLink {
	return &chanLink{ch: make(chan protocol.PlayerOutbound, size)}
}

// Send queues an event. A full outbox means the client has stopped
// draining; the link is closed so the slow consumer is kicked rather than
// stalling the session.
func (l *chanLink) Send(ev protocol.PlayerOutbound) bool {
	if l.closed.Load() {
		return false
	}
	select {
	case l.ch <- ev:
		return true
	default:
		l.Close()
		return false
	}
}

func (l *chanLink) Open() bool { return !l.closed.Load() }

func (l *chanLink) Close() {
	if l.closed.CompareAndSwap(false, true) {
		close(l.ch)
	}
}
