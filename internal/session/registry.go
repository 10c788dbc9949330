package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/upstream"
)

// CreateParams is what the combat-creation flow supplies; everything else
// about a session is derived or defaulted.
type CreateParams struct {
	Nickname string
	GMID     string
	Players  []string
	Save     json.RawMessage
}

// Registry owns the id -> session map. Both the HTTP creation path and the
// websocket lookup path touch it, and sessions deregister themselves from
// their own goroutines, so access is mutex-guarded.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*CombatSession

	ctx    context.Context
	dial   upstream.Dialer
	logger *zap.Logger
}

func NewRegistry(ctx context.Context, dial upstream.Dialer, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: map[string]*CombatSession{},
		ctx:      ctx,
		dial:     dial,
		logger:   logger,
	}
}

// Create builds a session with a fresh id and wires its removeSelf
// callback back into the registry.
func (r *Registry) Create(params CreateParams) *CombatSession {
	id := uuid.NewString()
	s := New(r.ctx, Config{
		ID:         id,
		Nickname:   params.Nickname,
		GMID:       params.GMID,
		Players:    params.Players,
		Save:       params.Save,
		Dial:       r.dial,
		RemoveSelf: func() { r.Remove(id) },
		Logger:     r.logger,
	})

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Info("combat session created",
		zap.String("session_id", id), zap.String("nickname", params.Nickname))
	return s
}

func (r *Registry) Get(id string) *CombatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.logger.Info("combat session removed", zap.String("session_id", id))
	}
}

// Shutdown tears down every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	live := make([]*CombatSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.Post(Shutdown{})
	}
}
