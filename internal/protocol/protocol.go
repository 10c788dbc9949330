// Package protocol defines the closed message unions for both event
// channels: coordinator <-> simulation server and coordinator <-> player.
// Every variant carries its own payload shape; dispatch is by exhaustive
// type switch, never by string-keyed listener tables.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/battlegrid/coordinator/internal/state"
)

// UpstreamInbound is an event received from the simulation server.
type UpstreamInbound interface{ upstreamInbound() }

// UpstreamOutbound is an event the coordinator sends to the simulation
// server.
type UpstreamOutbound interface {
	upstreamOutbound()
	Event() string
}

// PlayerInbound is an event received from a player connection.
type PlayerInbound interface{ playerInbound() }

// GMInbound marks player events reserved for the session's GM. The role
// gate checks for this interface instead of an event-name allow-list.
type GMInbound interface {
	PlayerInbound
	gmOnly()
}

// PlayerOutbound is an event the coordinator sends to a player.
type PlayerOutbound interface {
	playerOutbound()
	Event() string
}

// ---- simulation server -> coordinator ----

type GameHandshake struct {
	GameID      string                         `json:"game_id"`
	Battlefield state.Battlefield              `json:"battlefield"`
	Characters  map[string]state.CharacterInfo `json:"characters"`
}

type RoundUpdate struct {
	RoundCount int `json:"round_count"`
}

type NewMessage struct {
	Message state.MessageEntry `json:"message"`
}

type BattlefieldUpdated struct {
	Battlefield state.Battlefield `json:"battlefield"`
}

type CharactersUpdated struct {
	Characters map[string]state.CharacterInfo `json:"characters"`
}

type BattleStarted struct{}

type PlayerTurn struct {
	UserToken   string         `json:"user_token"`
	CharacterID string         `json:"character_id"`
	Actions     map[string]any `json:"actions"`
}

type ActionResult struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	UserToken string `json:"user_token"`
}

type TurnOrderUpdated struct {
	Order []*string `json:"order"`
}

type BattleEnded struct {
	BattleResult string `json:"battle_result"`
}

type Ping struct{}

func (GameHandshake) upstreamInbound()      {}
func (RoundUpdate) upstreamInbound()        {}
func (NewMessage) upstreamInbound()         {}
func (BattlefieldUpdated) upstreamInbound() {}
func (CharactersUpdated) upstreamInbound()  {}
func (BattleStarted) upstreamInbound()      {}
func (PlayerTurn) upstreamInbound()         {}
func (ActionResult) upstreamInbound()       {}
func (TurnOrderUpdated) upstreamInbound()   {}
func (BattleEnded) upstreamInbound()        {}
func (Ping) upstreamInbound()               {}

// ---- coordinator -> simulation server ----

// SaveHandshake opens a game on the simulation server with the immutable
// initial save recorded at session creation.
type SaveHandshake struct {
	Save json.RawMessage `json:"save"`
}

type PlayerChoice struct {
	GameID    string         `json:"game_id"`
	UserToken string         `json:"user_token"`
	Choice    map[string]any `json:"choice"`
}

type Pong struct{}

func (SaveHandshake) upstreamOutbound() {}
func (PlayerChoice) upstreamOutbound()  {}
func (Pong) upstreamOutbound()          {}

func (SaveHandshake) Event() string { return "game_handshake" }
func (PlayerChoice) Event() string  { return "player_choice" }
func (Pong) Event() string          { return "pong" }

// ---- player -> coordinator ----

// TakeAction carries the raw choice payload; the session requires an
// "action" key before forwarding.
type TakeAction struct {
	Choice map[string]any `json:"choice"`
}

// Skip is shorthand for a take_action with {action: skip}.
type Skip struct{}

type RequestData struct {
	Type   string `json:"type"`
	Start  *int   `json:"start,omitempty"`
	End    *int   `json:"end,omitempty"`
	Square string `json:"square,omitempty"`
}

// Allocate, StartCombat and EndCombat are GM commands forwarded upstream
// untouched, so they implement both unions.
type Allocate struct {
	Filter     map[string]any `json:"filter"`
	Allocation map[string]any `json:"allocation"`
}

type StartCombat struct{}

type EndCombat struct{}

func (TakeAction) playerInbound()  {}
func (Skip) playerInbound()        {}
func (RequestData) playerInbound() {}
func (Allocate) playerInbound()    {}
func (StartCombat) playerInbound() {}
func (EndCombat) playerInbound()   {}

func (Allocate) gmOnly()    {}
func (StartCombat) gmOnly() {}
func (EndCombat) gmOnly()   {}

func (Allocate) upstreamOutbound()    {}
func (StartCombat) upstreamOutbound() {}
func (EndCombat) upstreamOutbound()   {}

func (Allocate) Event() string    { return "allocate" }
func (StartCombat) Event() string { return "start_combat" }
func (EndCombat) Event() string   { return "end_combat" }

// ---- coordinator -> player ----

// HandshakeView wraps the individualized snapshot for one player.
type HandshakeView struct {
	state.HandshakeView
}

type TurnOrderView struct {
	Order []*state.TooltipView `json:"order"`
}

type BattlefieldView struct {
	Battlefield map[string]state.SquareView `json:"battlefield"`
}

// CharactersView is the individualized characters_updated payload: the
// requester's controlled characters, or the full roster for the GM.
type CharactersView struct {
	Characters []state.FullView `json:"characters"`
}

type ActionTimestamp struct {
	Timestamp time.Time `json:"timestamp"`
}

// TakeActionPrompt tells the acting player upstream is waiting on them.
type TakeActionPrompt struct {
	CharacterID string         `json:"character_id"`
	Actions     map[string]any `json:"actions"`
}

// OfflinePlayerAction tells the GM the acting player is offline.
type OfflinePlayerAction struct {
	CharacterID string         `json:"characterId"`
	Actions     map[string]any `json:"actions"`
}

// NoCurrentCharacter tells the GM the acting character has no allocated
// player.
type NoCurrentCharacter struct {
	CharacterID string         `json:"characterId"`
	Actions     map[string]any `json:"actions"`
}

type HaltAction struct{}

type LobbyState struct {
	Players []state.LobbyPlayer `json:"players"`
}

type IncomingData struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ActionResultView struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (HandshakeView) playerOutbound()       {}
func (TurnOrderView) playerOutbound()       {}
func (BattlefieldView) playerOutbound()     {}
func (CharactersView) playerOutbound()      {}
func (ActionTimestamp) playerOutbound()     {}
func (TakeActionPrompt) playerOutbound()    {}
func (OfflinePlayerAction) playerOutbound() {}
func (NoCurrentCharacter) playerOutbound()  {}
func (HaltAction) playerOutbound()          {}
func (LobbyState) playerOutbound()          {}
func (IncomingData) playerOutbound()        {}
func (ActionResultView) playerOutbound()    {}
func (ErrorEvent) playerOutbound()          {}

func (HandshakeView) Event() string       { return "game_handshake" }
func (TurnOrderView) Event() string       { return "turn_order_updated" }
func (BattlefieldView) Event() string     { return "battlefield_updated" }
func (CharactersView) Event() string      { return "characters_updated" }
func (ActionTimestamp) Event() string     { return "action_timestamp" }
func (TakeActionPrompt) Event() string    { return "take_action" }
func (OfflinePlayerAction) Event() string { return "take_offline_player_action" }
func (NoCurrentCharacter) Event() string  { return "no_current_character" }
func (HaltAction) Event() string          { return "halt_action" }
func (LobbyState) Event() string          { return "game_lobby_state" }
func (IncomingData) Event() string        { return "incoming_data" }
func (ActionResultView) Event() string    { return "action_result" }
func (ErrorEvent) Event() string          { return "error" }

// Relayed events keep their upstream payload shape on the player channel.
func (RoundUpdate) playerOutbound()   {}
func (NewMessage) playerOutbound()    {}
func (BattleStarted) playerOutbound() {}
func (BattleEnded) playerOutbound()   {}

func (RoundUpdate) Event() string   { return "round_update" }
func (NewMessage) Event() string    { return "new_message" }
func (BattleStarted) Event() string { return "battle_started" }
func (BattleEnded) Event() string   { return "battle_ended" }
