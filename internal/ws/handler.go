// Package ws bridges player websocket connections to combat sessions: it
// attaches a transport, pumps decoded events into the session inbox and
// drains the session's outbox back onto the socket.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/protocol"
	"github.com/battlegrid/coordinator/internal/session"
	"github.com/battlegrid/coordinator/internal/storage"
)

const (
	outboxSize     = 32
	writeTimeout   = 3 * time.Second
	resolveTimeout = 2 * time.Second
)

func Handler(reg *session.Registry, users storage.UserRepo, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		combatID := chi.URLParam(r, "id")
		playerID := r.URL.Query().Get("player_id")
		if playerID == "" {
			http.Error(w, "missing player_id", http.StatusBadRequest)
			return
		}

		sess := reg.Get(combatID)
		if sess == nil {
			http.Error(w, "combat not found", http.StatusNotFound)
			return
		}

		// Resolve the display handle before touching the session so the
		// actor loop never waits on storage.
		resolveCtx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
		handle := session.ResolveHandle(resolveCtx, users, playerID, logger)
		cancel()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		link := newChanLink(outboxSize)
		reply := make(chan error, 1)
		if !sess.Post(session.Attach{PlayerID: playerID, Handle: handle, Link: link, Reply: reply}) {
			_ = conn.Close(websocket.StatusGoingAway, "combat ended")
			return
		}
		if err := <-reply; err != nil {
			writeEvent(r.Context(), conn, protocol.ErrorEvent{Message: err.Error()})
			_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
		defer sess.Post(session.Detach{PlayerID: playerID, Link: link})

		// Writer: drains the outbox until the session closes the link,
		// flushing whatever is still queued (a battle_ended must reach the
		// client before the force-disconnect).
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range link.ch {
				writeEvent(writeCtx, conn, ev)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		}()

		// Reader: one decoded event per frame into the session inbox.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			ev, err := protocol.DecodePlayer(data)
			if err != nil {
				writeEvent(r.Context(), conn, protocol.ErrorEvent{Message: "Unrecognized event."})
				continue
			}
			if !sess.Post(session.FromPlayer{PlayerID: playerID, Event: ev}) {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev protocol.PlayerOutbound) {
	data, err := protocol.EncodePlayer(ev)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, data)
}
