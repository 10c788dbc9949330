package state

import "time"

// MessageLogCap bounds the combat message log. Older entries are dropped;
// late-joiner handshakes only ever need the newest few.
const MessageLogCap = 200

type BattleStatus string

const (
	StatusPending BattleStatus = "pending"
	StatusOngoing BattleStatus = "ongoing"
)

type ControllerType string

const (
	ControllerPlayer ControllerType = "player"
	ControllerAI     ControllerType = "ai"
	ControllerNone   ControllerType = "none"
)

type Controller struct {
	Type ControllerType `json:"type"`
	ID   string         `json:"id,omitempty"`
}

type CharacterInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	ControlledBy  Controller     `json:"controlledBy"`
	Health        int            `json:"health"`
	MaxHealth     int            `json:"maxHealth"`
	Armor         int            `json:"armor"`
	StatusEffects []string       `json:"statusEffects,omitempty"`
	Decorations   map[string]any `json:"decorations,omitempty"`
	Square        string         `json:"square,omitempty"`
	Stats         map[string]any `json:"stats,omitempty"`
}

// Square is one battlefield cell as reported by the simulation server.
type Square struct {
	CharacterID string   `json:"characterId,omitempty"`
	AreaEffects []string `json:"areaEffects,omitempty"`
}

type Battlefield map[string]Square

type MessageEntry struct {
	Key    string            `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

// TurnInfo mirrors the simulation server's view of whose turn it is.
// Order uses nil as the round-boundary sentinel.
type TurnInfo struct {
	Order           []*string
	CurrentPlayerID string
	Actions         map[string]any
	ActionTimestamp time.Time
}

// SessionState is the authoritative-mirror data model for one combat.
// It is owned and mutated exclusively by its CombatSession; there is no
// locking here and no I/O.
type SessionState struct {
	RoundCount   int
	BattleResult BattleStatus
	Battlefield  Battlefield
	Characters   map[string]CharacterInfo
	Turn         TurnInfo

	messages []MessageEntry
}

func New() *SessionState {
	return &SessionState{
		BattleResult: StatusPending,
		Battlefield:  Battlefield{},
		Characters:   map[string]CharacterInfo{},
	}
}

// ApplyHandshake resets every field from an authoritative snapshot. Called
// once per upstream connection; a re-handshake after an upstream reconnect
// starts the mirror over.
func (s *SessionState) ApplyHandshake(battlefield Battlefield, characters map[string]CharacterInfo) {
	s.RoundCount = 0
	s.BattleResult = StatusPending
	s.messages = nil
	s.Turn = TurnInfo{}

	s.Battlefield = Battlefield{}
	for sq, occ := range battlefield {
		s.Battlefield[sq] = occ
	}
	s.Characters = map[string]CharacterInfo{}
	for id, c := range characters {
		s.Characters[id] = c
	}
}

func (s *SessionState) SetRoundCount(n int) { s.RoundCount = n }

func (s *SessionState) AppendMessage(entry MessageEntry) {
	s.messages = append(s.messages, entry)
	if len(s.messages) > MessageLogCap {
		s.messages = s.messages[len(s.messages)-MessageLogCap:]
	}
}

// Messages returns the retained log. start/end index into the retained
// window; negative or out-of-range bounds are clamped.
func (s *SessionState) Messages(start, end int) []MessageEntry {
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(s.messages) {
		end = len(s.messages)
	}
	if start >= end {
		return []MessageEntry{}
	}
	out := make([]MessageEntry, end-start)
	copy(out, s.messages[start:end])
	return out
}

// LastMessages returns up to n newest entries, oldest first.
func (s *SessionState) LastMessages(n int) []MessageEntry {
	if n > len(s.messages) {
		n = len(s.messages)
	}
	return s.Messages(len(s.messages)-n, len(s.messages))
}

func (s *SessionState) ReplaceBattlefield(snapshot Battlefield) {
	s.Battlefield = Battlefield{}
	for sq, occ := range snapshot {
		s.Battlefield[sq] = occ
	}
}

// MergeCharacters shallow-merges by id: an incoming entry replaces the
// stored one wholesale, characters not named are untouched.
func (s *SessionState) MergeCharacters(partial map[string]CharacterInfo) {
	for id, c := range partial {
		s.Characters[id] = c
	}
}

func (s *SessionState) SetTurnOrder(order []*string) {
	s.Turn.Order = make([]*string, len(order))
	copy(s.Turn.Order, order)
}

// SetCurrentCharacter overwrites slot 0 of the order in place. The write is
// strictly positional: if upstream reissues a turn for a character already
// elsewhere in the order, the duplicate stands until the next
// turn_order_updated.
func (s *SessionState) SetCurrentCharacter(id string) {
	if len(s.Turn.Order) == 0 {
		s.Turn.Order = []*string{&id}
		return
	}
	s.Turn.Order[0] = &id
}

func (s *SessionState) SetCurrentPlayer(playerID string) { s.Turn.CurrentPlayerID = playerID }

func (s *SessionState) SetActions(actions map[string]any) { s.Turn.Actions = actions }

func (s *SessionState) RecordActionTimestamp(t time.Time) { s.Turn.ActionTimestamp = t }

// ClearTurn drops the current player, actions and timestamp but preserves
// the order sequence.
func (s *SessionState) ClearTurn() {
	s.Turn.CurrentPlayerID = ""
	s.Turn.Actions = nil
	s.Turn.ActionTimestamp = time.Time{}
}

func (s *SessionState) IsOngoing() bool { return s.BattleResult == StatusOngoing }

// IsTurnOf reports whether the battle is ongoing and playerID is the one
// upstream last named as acting.
func (s *SessionState) IsTurnOf(playerID string) bool {
	return s.IsOngoing() && playerID != "" && s.Turn.CurrentPlayerID == playerID
}

// CurrentCharacterID returns slot 0 of the order, if any.
func (s *SessionState) CurrentCharacterID() (string, bool) {
	if len(s.Turn.Order) == 0 || s.Turn.Order[0] == nil {
		return "", false
	}
	return *s.Turn.Order[0], true
}

func (s *SessionState) CharacterAt(square string) (CharacterInfo, bool) {
	occ, ok := s.Battlefield[square]
	if !ok || occ.CharacterID == "" {
		return CharacterInfo{}, false
	}
	return s.CharacterByID(occ.CharacterID)
}

func (s *SessionState) CharacterByID(id string) (CharacterInfo, bool) {
	c, ok := s.Characters[id]
	return c, ok
}
