package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/protocol"
	"github.com/battlegrid/coordinator/internal/storage"
)

// Link is one attached client transport. Implementations must make Send
// non-blocking; a slow consumer is the implementation's problem, not the
// session's.
type Link interface {
	Send(ev protocol.PlayerOutbound) bool
	Open() bool
	Close()
}

// PlayerHandle wraps one participant of a combat. Membership is fixed at
// session creation; only the transport comes and goes. All fields are
// touched exclusively from the owning session's goroutine.
type PlayerHandle struct {
	PlayerID string
	Handle   string

	gm   bool
	link Link
}

func newPlayerHandle(playerID string, gm bool) *PlayerHandle {
	return &PlayerHandle{PlayerID: playerID, gm: gm}
}

// Attach records a new link. A previously attached link is not closed
// here; its lifecycle belongs to the caller.
func (p *PlayerHandle) Attach(l Link) { p.link = l }

// Detach closes and clears the current link. Idempotent.
func (p *PlayerHandle) Detach() {
	if p.link != nil {
		p.link.Close()
		p.link = nil
	}
}

func (p *PlayerHandle) Connected() bool {
	return p.link != nil && p.link.Open()
}

// Send delivers an event if connected and is a deliberate no-op otherwise,
// so callers never special-case a disconnected recipient.
func (p *PlayerHandle) Send(ev protocol.PlayerOutbound) {
	if p.Connected() {
		p.link.Send(ev)
	}
}

func (p *PlayerHandle) GM() bool { return p.gm }

// ResolveHandle looks up the player's display handle. Lookup failures are
// logged and degrade to an empty handle; they never break the relay.
func ResolveHandle(ctx context.Context, users storage.UserRepo, playerID string, logger *zap.Logger) string {
	if users == nil {
		return ""
	}
	u, err := users.GetUser(ctx, playerID)
	if err != nil {
		logger.Warn("resolving player handle", zap.String("player_id", playerID), zap.Error(err))
		return ""
	}
	if u == nil {
		return ""
	}
	return u.Handle
}
