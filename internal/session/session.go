// Package session implements the per-combat relay: one CombatSession owns
// the authoritative-mirror state, the player handles and the upstream link,
// and serializes every mutation through a single actor goroutine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/protocol"
	"github.com/battlegrid/coordinator/internal/state"
	"github.com/battlegrid/coordinator/internal/upstream"
)

var ErrNotInvited = errors.New("player is not part of this combat")
var ErrSessionEnded = errors.New("combat has ended")

const (
	defaultRetryDelay = time.Second
	defaultStartGrace = time.Second
)

type Phase int

const (
	PhaseAwaitingHandshake Phase = iota
	PhasePending
	PhaseOngoing
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhasePending:
		return "pending"
	case PhaseOngoing:
		return "ongoing"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Msg is the closed union of everything a session's inbox can carry.
type Msg interface{ isSessionMsg() }

// Attach connects a player's transport. Reply receives nil on success.
type Attach struct {
	PlayerID string
	Handle   string
	Link     Link
	Reply    chan error
}

// Detach drops a player's transport; their membership persists. When Link
// is set, the detach only applies if that link is still the attached one,
// so a dying connection cannot kick the transport that replaced it.
type Detach struct {
	PlayerID string
	Link     Link
}

// FromPlayer is one decoded event off a player connection.
type FromPlayer struct {
	PlayerID string
	Event    protocol.PlayerInbound
}

// FromUpstream is one decoded event off the simulation link.
type FromUpstream struct{ Event protocol.UpstreamInbound }

// UpstreamLost reports the simulation link closing for any reason.
type UpstreamLost struct{ Err error }

// Shutdown tears the session down as if upstream had ended the battle.
type Shutdown struct{}

// Inspect reflects internal state without data races; used by tests and
// the lobby listing.
type Inspect struct{ Reply chan Summary }

type promptRetry struct{ gen uint64 }

type startGraceFire struct{}

func (Attach) isSessionMsg()         {}
func (Detach) isSessionMsg()         {}
func (FromPlayer) isSessionMsg()     {}
func (FromUpstream) isSessionMsg()   {}
func (UpstreamLost) isSessionMsg()   {}
func (Shutdown) isSessionMsg()       {}
func (Inspect) isSessionMsg()        {}
func (promptRetry) isSessionMsg()    {}
func (startGraceFire) isSessionMsg() {}

type Summary struct {
	ID                 string
	Nickname           string
	Phase              Phase
	RoundCount         int
	CurrentPlayerID    string
	CurrentCharacterID string
	ConnectedPlayers   int
}

type Config struct {
	ID       string
	Nickname string
	GMID     string
	Players  []string
	Save     json.RawMessage

	Dial       upstream.Dialer
	RemoveSelf func()
	Logger     *zap.Logger

	// Tunables with sane defaults; tests shrink them.
	RetryDelay time.Duration
	StartGrace time.Duration
	Now        func() time.Time
}

// CombatSession relays one combat between its players and the simulation
// server. Everything below inbox is owned by the loop goroutine.
type CombatSession struct {
	ID       string
	Nickname string

	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	gmID    string
	roster  []string
	players map[string]*PlayerHandle

	st         *state.SessionState
	phase      Phase
	gameID     string
	handshaken bool
	save       json.RawMessage

	dial upstream.Dialer
	link upstream.Link

	turnGen    uint64
	retryTimer *time.Timer
	graceTimer *time.Timer

	removeSelf func()
	removed    bool

	retryDelay time.Duration
	startGrace time.Duration
	now        func() time.Time
}

func New(parent context.Context, cfg Config) *CombatSession {
	ctx, cancel := context.WithCancel(parent)

	s := &CombatSession{
		ID:         cfg.ID,
		Nickname:   cfg.Nickname,
		inbox:      make(chan Msg, 64),
		ctx:        ctx,
		cancel:     cancel,
		logger:     cfg.Logger.With(zap.String("session_id", cfg.ID)),
		gmID:       cfg.GMID,
		players:    map[string]*PlayerHandle{},
		st:         state.New(),
		phase:      PhaseAwaitingHandshake,
		save:       cfg.Save,
		dial:       cfg.Dial,
		removeSelf: cfg.RemoveSelf,
		retryDelay: cfg.RetryDelay,
		startGrace: cfg.StartGrace,
		now:        cfg.Now,
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.startGrace <= 0 {
		s.startGrace = defaultStartGrace
	}
	if s.now == nil {
		s.now = time.Now
	}

	for _, id := range append([]string{cfg.GMID}, cfg.Players...) {
		if _, dup := s.players[id]; dup {
			continue
		}
		s.roster = append(s.roster, id)
		s.players[id] = newPlayerHandle(id, id == cfg.GMID)
	}

	go s.loop()
	return s
}

// Post delivers a message unless the session is already gone.
func (s *CombatSession) Post(m Msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Done is closed once the session has torn down.
func (s *CombatSession) Done() <-chan struct{} { return s.ctx.Done() }

// UpstreamEvent and UpstreamClosed make the session the Sink of its own
// link; the loop goroutine sees upstream traffic in arrival order.
func (s *CombatSession) UpstreamEvent(ev protocol.UpstreamInbound) {
	s.Post(FromUpstream{Event: ev})
}

func (s *CombatSession) UpstreamClosed(err error) {
	s.Post(UpstreamLost{Err: err})
}

func (s *CombatSession) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			s.dispatch(m)
			if s.phase == PhaseEnded {
				// One-way transition: nothing queued after this is
				// processed.
				return
			}
		}
	}
}

// dispatch is the outermost handler for every inbound event; nothing in
// here may crash the process.
func (s *CombatSession) dispatch(m Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event dispatch panicked", zap.Any("panic", r))
		}
	}()

	switch msg := m.(type) {
	case Attach:
		s.handleAttach(msg)
	case Detach:
		s.handleDetach(msg)
	case FromPlayer:
		s.handlePlayerEvent(msg)
	case FromUpstream:
		s.handleUpstream(msg.Event)
	case UpstreamLost:
		s.handleUpstreamLost(msg.Err)
	case promptRetry:
		s.handlePromptRetry(msg)
	case startGraceFire:
		s.handleStartGrace()
	case Inspect:
		msg.Reply <- s.summary()
	case Shutdown:
		s.teardown()
	}
}

func (s *CombatSession) summary() Summary {
	charID, _ := s.st.CurrentCharacterID()
	sum := Summary{
		ID:                 s.ID,
		Nickname:           s.Nickname,
		Phase:              s.phase,
		RoundCount:         s.st.RoundCount,
		CurrentPlayerID:    s.st.Turn.CurrentPlayerID,
		CurrentCharacterID: charID,
	}
	for _, p := range s.players {
		if p.Connected() {
			sum.ConnectedPlayers++
		}
	}
	return sum
}

// ---- player lifecycle ----

func (s *CombatSession) handleAttach(m Attach) {
	if s.phase == PhaseEnded {
		m.Reply <- ErrSessionEnded
		return
	}
	p, ok := s.players[m.PlayerID]
	if !ok {
		m.Reply <- ErrNotInvited
		return
	}
	// Attach never closes the previous link itself; as the caller here we
	// do, so a reconnect kicks the stale transport.
	if p.link != nil {
		p.link.Close()
	}
	p.Attach(m.Link)
	p.Handle = m.Handle
	m.Reply <- nil

	s.broadcastLobby()

	if s.handshaken {
		p.Send(protocol.HandshakeView{HandshakeView: s.st.Handshake(p.PlayerID, p.GM(), s.lobbyView())})
		if s.st.IsTurnOf(p.PlayerID) {
			if charID, ok := s.st.CurrentCharacterID(); ok {
				p.Send(protocol.TakeActionPrompt{CharacterID: charID, Actions: s.st.Turn.Actions})
			}
		}
	}

	// The GM's presence is what lazily boots the simulation link.
	if p.GM() && s.link == nil {
		if err := s.connectUpstream(); err != nil {
			p.Send(protocol.ErrorEvent{Message: "Could not reach the simulation server."})
		}
	}
}

func (s *CombatSession) handleDetach(m Detach) {
	p, ok := s.players[m.PlayerID]
	if !ok {
		return
	}
	if m.Link != nil && p.link != m.Link {
		// Stale transport; the player already reconnected.
		return
	}
	p.Detach()
	s.broadcastLobby()
}

// ---- player events ----

func (s *CombatSession) handlePlayerEvent(m FromPlayer) {
	p, ok := s.players[m.PlayerID]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("player event handling panicked",
				zap.String("player_id", m.PlayerID), zap.Any("panic", r))
			p.Send(protocol.ErrorEvent{Message: "Internal error handling your request."})
		}
	}()

	if _, gmCmd := m.Event.(protocol.GMInbound); gmCmd && !p.GM() {
		p.Send(protocol.ErrorEvent{Message: "Only the GM can do that."})
		return
	}
	if !s.eventAllowed(m.Event) {
		p.Send(protocol.ErrorEvent{Message: "That is not available right now."})
		return
	}

	switch ev := m.Event.(type) {
	case protocol.TakeAction:
		s.submitAction(p, ev.Choice)
	case protocol.Skip:
		s.submitAction(p, map[string]any{"action": "builtins:skip"})
	case protocol.RequestData:
		s.handleRequestData(p, ev)
	case protocol.Allocate:
		s.broadcast(protocol.HaltAction{})
		s.sendUpstream(ev, p)
	case protocol.StartCombat:
		s.handleStartCombat(p)
	case protocol.EndCombat:
		s.broadcast(protocol.HaltAction{})
		s.sendUpstream(ev, p)
	}
}

// eventAllowed gates inbound events on the battle lifecycle. start_combat
// is what boots the session and data polling works as soon as there is
// state to poll; everything else needs an ongoing battle.
func (s *CombatSession) eventAllowed(ev protocol.PlayerInbound) bool {
	switch ev.(type) {
	case protocol.StartCombat:
		return true
	case protocol.RequestData:
		return s.handshaken
	default:
		return s.phase == PhaseOngoing
	}
}

// submitAction enforces the turn contract and forwards a legal choice
// upstream, halting every client first so nobody double-submits.
func (s *CombatSession) submitAction(p *PlayerHandle, choice map[string]any) {
	if !p.GM() && !s.st.IsTurnOf(p.PlayerID) {
		p.Send(protocol.ErrorEvent{Message: "Not your turn!"})
		return
	}
	if choice == nil || choice["action"] == nil {
		p.Send(protocol.ErrorEvent{Message: "No action specified!"})
		return
	}

	s.broadcast(protocol.HaltAction{})

	// Choices are attributed to the acting player, even when the GM
	// submits on their behalf.
	token := s.st.Turn.CurrentPlayerID
	if token == "" {
		token = p.PlayerID
	}
	s.sendUpstream(protocol.PlayerChoice{GameID: s.gameID, UserToken: token, Choice: choice}, p)
}

func (s *CombatSession) handleRequestData(p *PlayerHandle, q protocol.RequestData) {
	switch q.Type {
	case "messages":
		start, end := 0, -1
		if q.Start != nil {
			start = *q.Start
		}
		if q.End != nil {
			end = *q.End
		}
		p.Send(protocol.IncomingData{Type: q.Type, Data: s.st.Messages(start, end)})
	case "current_character_info":
		var data any
		if id, ok := s.st.CurrentCharacterID(); ok {
			if c, found := s.st.CharacterByID(id); found {
				data = s.st.Tooltip(c, p.PlayerID)
			}
		}
		p.Send(protocol.IncomingData{Type: q.Type, Data: data})
	case "character_tooltip":
		c, ok := s.st.CharacterAt(q.Square)
		if !ok {
			p.Send(protocol.ErrorEvent{Message: "No character on that square."})
			return
		}
		p.Send(protocol.IncomingData{Type: q.Type, Data: s.st.Tooltip(c, p.PlayerID)})
	case "controlled_characters":
		var data []state.FullView
		if p.GM() {
			data = s.st.FullRoster()
		} else {
			data = s.st.ControlledCharacters(p.PlayerID)
		}
		p.Send(protocol.IncomingData{Type: q.Type, Data: data})
	case "battlefield":
		p.Send(protocol.IncomingData{Type: q.Type, Data: s.st.BattlefieldView(p.PlayerID)})
	default:
		p.Send(protocol.ErrorEvent{Message: "Unknown data request."})
	}
}

func (s *CombatSession) handleStartCombat(p *PlayerHandle) {
	if s.link != nil {
		s.sendUpstream(protocol.StartCombat{}, p)
		return
	}
	if err := s.connectUpstream(); err != nil {
		p.Send(protocol.ErrorEvent{Message: "Could not reach the simulation server."})
		return
	}
	// Give the fresh link its handshake grace before forwarding.
	s.graceTimer = time.AfterFunc(s.startGrace, func() { s.Post(startGraceFire{}) })
}

func (s *CombatSession) handleStartGrace() {
	gm := s.gmHandle()
	if s.link == nil {
		if gm != nil {
			gm.Send(protocol.ErrorEvent{Message: "Could not reach the simulation server."})
		}
		return
	}
	s.sendUpstream(protocol.StartCombat{}, gm)
}

// ---- upstream events ----

func (s *CombatSession) handleUpstream(ev protocol.UpstreamInbound) {
	switch ev := ev.(type) {
	case protocol.GameHandshake:
		s.gameID = ev.GameID
		s.st.ApplyHandshake(ev.Battlefield, ev.Characters)
		s.handshaken = true
		if s.phase == PhaseAwaitingHandshake {
			s.phase = PhasePending
		}
		lobby := s.lobbyView()
		for _, p := range s.players {
			p.Send(protocol.HandshakeView{HandshakeView: s.st.Handshake(p.PlayerID, p.GM(), lobby)})
		}

	case protocol.RoundUpdate:
		s.st.SetRoundCount(ev.RoundCount)
		s.broadcast(ev)

	case protocol.NewMessage:
		s.st.AppendMessage(ev.Message)
		s.broadcast(ev)

	case protocol.BattlefieldUpdated:
		s.st.ReplaceBattlefield(ev.Battlefield)
		for _, p := range s.players {
			p.Send(protocol.BattlefieldView{Battlefield: s.st.BattlefieldView(p.PlayerID)})
		}

	case protocol.CharactersUpdated:
		s.st.MergeCharacters(ev.Characters)
		s.broadcastCharacters()

	case protocol.BattleStarted:
		s.st.BattleResult = state.StatusOngoing
		s.phase = PhaseOngoing
		s.broadcast(ev)

	case protocol.PlayerTurn:
		s.handlePlayerTurn(ev)

	case protocol.ActionResult:
		if p, ok := s.players[ev.UserToken]; ok {
			p.Send(protocol.ActionResultView{Code: ev.Code, Message: ev.Message})
		}
		s.st.ClearTurn()
		s.turnGen++
		s.stopRetry()

	case protocol.TurnOrderUpdated:
		s.st.SetTurnOrder(ev.Order)
		s.broadcastTurnOrder()

	case protocol.BattleEnded:
		s.broadcast(ev)
		s.teardown()

	case protocol.Ping:
		s.sendUpstream(protocol.Pong{}, nil)
	}
}

// handlePlayerTurn runs the turn sub-protocol. A coordinator-side fault
// anywhere in it resolves to a synthetic skip so the simulation server is
// never left waiting.
func (s *CombatSession) handlePlayerTurn(ev protocol.PlayerTurn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn handling failed", zap.Any("panic", r))
			s.sendSkip(ev.UserToken, ev.CharacterID)
		}
	}()

	s.st.SetCurrentPlayer(ev.UserToken)

	if cur, ok := s.st.CurrentCharacterID(); !ok || cur != ev.CharacterID {
		s.st.SetCurrentCharacter(ev.CharacterID)
		s.broadcastTurnOrder()
	}

	// The timestamp goes out alone: a lightweight "someone is thinking"
	// signal without the full turn-order payload.
	now := s.now()
	s.st.RecordActionTimestamp(now)
	s.broadcast(protocol.ActionTimestamp{Timestamp: now})

	s.st.SetActions(ev.Actions)

	s.turnGen++
	s.stopRetry()
	if !s.deliverPrompt(ev.UserToken, ev.CharacterID, false) {
		gen := s.turnGen
		s.retryTimer = time.AfterFunc(s.retryDelay, func() { s.Post(promptRetry{gen: gen}) })
	}
}

// deliverPrompt walks the delivery policy: unallocated character -> GM,
// connected player -> player, offline player -> GM. On the deferred
// attempt a miss becomes an upstream skip so the round is not blocked.
func (s *CombatSession) deliverPrompt(token, charID string, deferred bool) bool {
	actions := s.st.Turn.Actions
	delivered := false

	if token == "" {
		if gm := s.gmHandle(); gm != nil && gm.Connected() {
			gm.Send(protocol.NoCurrentCharacter{CharacterID: charID, Actions: actions})
			delivered = true
		}
	} else if p, ok := s.players[token]; ok && p.Connected() {
		p.Send(protocol.TakeActionPrompt{CharacterID: charID, Actions: actions})
		delivered = true
	} else if gm := s.gmHandle(); gm != nil && gm.Connected() {
		gm.Send(protocol.OfflinePlayerAction{CharacterID: charID, Actions: actions})
		delivered = true
	}

	if !delivered && deferred {
		s.sendSkip(token, charID)
	}
	return delivered
}

func (s *CombatSession) handlePromptRetry(m promptRetry) {
	// Freshness check: the turn may have moved on while the timer was
	// armed, in which case this fire is stale and must do nothing.
	if m.gen != s.turnGen || !s.st.IsOngoing() {
		return
	}
	charID, _ := s.st.CurrentCharacterID()
	s.deliverPrompt(s.st.Turn.CurrentPlayerID, charID, true)
}

func (s *CombatSession) sendSkip(token, charID string) {
	s.logger.Warn("submitting skip on behalf of player",
		zap.String("player_id", token), zap.String("character_id", charID))
	s.sendUpstream(protocol.PlayerChoice{
		GameID:    s.gameID,
		UserToken: token,
		Choice:    map[string]any{"action": "builtins:skip", "character_id": charID},
	}, nil)
}

func (s *CombatSession) handleUpstreamLost(err error) {
	if s.phase == PhaseEnded {
		return
	}
	s.logger.Warn("simulation link lost", zap.Error(err))
	s.broadcast(protocol.ErrorEvent{Message: "Connection to the simulation server was lost."})
	s.teardown()
}

// ---- plumbing ----

func (s *CombatSession) connectUpstream() error {
	link, err := s.dial(s.ctx, s)
	if err != nil {
		s.logger.Error("connecting to simulation server", zap.Error(err))
		return err
	}
	s.link = link
	s.sendUpstream(protocol.SaveHandshake{Save: s.save}, nil)
	return nil
}

// sendUpstream forwards an event to the simulation server. Failures are
// reported to the requesting player when there is one; they never fault
// the session.
func (s *CombatSession) sendUpstream(ev protocol.UpstreamOutbound, requester *PlayerHandle) {
	if s.link == nil {
		s.logger.Warn("dropping upstream event, link not connected", zap.String("event", ev.Event()))
		if requester != nil {
			requester.Send(protocol.ErrorEvent{Message: "The simulation server is not connected."})
		}
		return
	}
	if err := s.link.Send(ev); err != nil {
		s.logger.Error("sending to simulation server", zap.String("event", ev.Event()), zap.Error(err))
		if requester != nil {
			requester.Send(protocol.ErrorEvent{Message: "Failed to reach the simulation server."})
		}
	}
}

func (s *CombatSession) gmHandle() *PlayerHandle { return s.players[s.gmID] }

func (s *CombatSession) broadcast(ev protocol.PlayerOutbound) {
	for _, p := range s.players {
		p.Send(ev)
	}
}

func (s *CombatSession) broadcastTurnOrder() {
	for _, p := range s.players {
		if !p.Connected() {
			continue
		}
		p.Send(protocol.TurnOrderView{Order: s.st.TurnOrderView(p.PlayerID)})
	}
}

func (s *CombatSession) broadcastCharacters() {
	for _, p := range s.players {
		if !p.Connected() {
			continue
		}
		var chars []state.FullView
		if p.GM() {
			chars = s.st.FullRoster()
		} else {
			chars = s.st.ControlledCharacters(p.PlayerID)
		}
		p.Send(protocol.CharactersView{Characters: chars})
	}
}

func (s *CombatSession) broadcastLobby() {
	s.broadcast(protocol.LobbyState{Players: s.lobbyView()})
}

func (s *CombatSession) lobbyView() []state.LobbyPlayer {
	out := make([]state.LobbyPlayer, 0, len(s.roster))
	for _, id := range s.roster {
		p := s.players[id]
		out = append(out, state.LobbyPlayer{
			ID:        p.PlayerID,
			Handle:    p.Handle,
			Connected: p.Connected(),
			GM:        p.GM(),
		})
	}
	return out
}

func (s *CombatSession) stopRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// teardown is the one-way exit: stop timers, kick every transport, close
// the link and deregister exactly once.
func (s *CombatSession) teardown() {
	if s.phase == PhaseEnded {
		return
	}
	s.phase = PhaseEnded
	s.stopRetry()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	for _, p := range s.players {
		p.Detach()
	}
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	if s.removeSelf != nil && !s.removed {
		s.removed = true
		s.removeSelf()
	}
	s.cancel()
}
