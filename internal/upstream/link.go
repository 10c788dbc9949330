// Package upstream owns the bidirectional event channel to the external
// simulation server. Sessions depend on the Link interface; the websocket
// implementation here is injected through a Dialer so tests can fake it.
package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/protocol"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Sink receives everything the simulation server sends. Events are
// delivered strictly in arrival order; Closed fires at most once, after
// the last event.
type Sink interface {
	UpstreamEvent(ev protocol.UpstreamInbound)
	UpstreamClosed(err error)
}

// Link is one live connection to the simulation server.
type Link interface {
	Send(ev protocol.UpstreamOutbound) error
	Close()
}

// Dialer establishes a Link whose inbound traffic flows into sink.
type Dialer func(ctx context.Context, sink Sink) (Link, error)

type wsLink struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewDialer returns a Dialer that connects to the simulation server over
// websocket at rawURL.
func NewDialer(rawURL string, logger *zap.Logger) Dialer {
	return func(ctx context.Context, sink Sink) (Link, error) {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		conn, _, err := websocket.Dial(dialCtx, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial simulation server: %w", err)
		}

		linkCtx, linkCancel := context.WithCancel(ctx)
		l := &wsLink{
			conn:   conn,
			ctx:    linkCtx,
			cancel: linkCancel,
			logger: logger,
		}
		go l.readLoop(sink)
		return l, nil
	}
}

// readLoop is the single reader, so event ordering is the socket's own
// ordering.
func (l *wsLink) readLoop(sink Sink) {
	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			sink.UpstreamClosed(err)
			return
		}
		ev, err := protocol.DecodeUpstream(data)
		if err != nil {
			l.logger.Warn("dropping malformed upstream frame", zap.Error(err))
			continue
		}
		sink.UpstreamEvent(ev)
	}
}

func (l *wsLink) Send(ev protocol.UpstreamOutbound) error {
	data, err := protocol.EncodeUpstream(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	defer cancel()
	if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Event(), err)
	}
	return nil
}

func (l *wsLink) Close() {
	l.cancel()
	_ = l.conn.Close(websocket.StatusNormalClosure, "session closed")
}
