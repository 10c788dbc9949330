package state

import (
	"sort"
	"time"
)

// HandshakeMessageCount is how many log entries a (re)connecting player
// receives inside the handshake view.
const HandshakeMessageCount = 10

// TooltipView is the reduced character projection safe to show to any
// player: enough for a hover card, never the full sheet.
type TooltipView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Health        int            `json:"health"`
	MaxHealth     int            `json:"maxHealth"`
	Armor         int            `json:"armor"`
	StatusEffects []string       `json:"statusEffects,omitempty"`
	Decorations   map[string]any `json:"decorations,omitempty"`
	Square        string         `json:"square,omitempty"`
	Yours         bool           `json:"yours"`
}

// FullView is the controller-only projection. It deliberately carries no
// controlledBy or other internal fields.
type FullView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Health        int            `json:"health"`
	MaxHealth     int            `json:"maxHealth"`
	Armor         int            `json:"armor"`
	StatusEffects []string       `json:"statusEffects,omitempty"`
	Decorations   map[string]any `json:"decorations,omitempty"`
	Square        string         `json:"square,omitempty"`
	Stats         map[string]any `json:"stats,omitempty"`
}

type SquareView struct {
	Character   *TooltipView `json:"character,omitempty"`
	AreaEffects []string     `json:"areaEffects,omitempty"`
}

type LobbyPlayer struct {
	ID        string `json:"id"`
	Handle    string `json:"handle,omitempty"`
	Connected bool   `json:"connected"`
	GM        bool   `json:"gm"`
}

// HandshakeView is the individualized snapshot sent to a player when the
// session comes up or the player (re)connects.
type HandshakeView struct {
	RoundCount      int                   `json:"roundCount"`
	Messages        []MessageEntry        `json:"messages"`
	CombatStatus    BattleStatus          `json:"combatStatus"`
	Battlefield     map[string]SquareView `json:"battlefield"`
	TurnOrder       []*TooltipView        `json:"turnOrder"`
	YourCharacters  []FullView            `json:"yourCharacters"`
	Lobby           []LobbyPlayer         `json:"lobby"`
	ActionTimestamp *time.Time            `json:"actionTimestamp,omitempty"`
}

func controlledBy(c CharacterInfo, viewer string) bool {
	return c.ControlledBy.Type == ControllerPlayer && c.ControlledBy.ID == viewer
}

// Tooltip projects one character for a given viewer.
func (s *SessionState) Tooltip(c CharacterInfo, viewer string) TooltipView {
	return TooltipView{
		ID:            c.ID,
		Name:          c.Name,
		Health:        c.Health,
		MaxHealth:     c.MaxHealth,
		Armor:         c.Armor,
		StatusEffects: c.StatusEffects,
		Decorations:   c.Decorations,
		Square:        c.Square,
		Yours:         controlledBy(c, viewer),
	}
}

func fullView(c CharacterInfo) FullView {
	return FullView{
		ID:            c.ID,
		Name:          c.Name,
		Health:        c.Health,
		MaxHealth:     c.MaxHealth,
		Armor:         c.Armor,
		StatusEffects: c.StatusEffects,
		Decorations:   c.Decorations,
		Square:        c.Square,
		Stats:         c.Stats,
	}
}

// TurnOrderView maps the canonical order for one viewer. The nil
// round-boundary sentinel stays nil; every id becomes a tooltip annotated
// with whether the viewer controls it.
func (s *SessionState) TurnOrderView(viewer string) []*TooltipView {
	out := make([]*TooltipView, len(s.Turn.Order))
	for i, id := range s.Turn.Order {
		if id == nil {
			continue
		}
		c, ok := s.CharacterByID(*id)
		if !ok {
			c = CharacterInfo{ID: *id}
		}
		tv := s.Tooltip(c, viewer)
		out[i] = &tv
	}
	return out
}

// ControlledCharacters lists the full views of every character whose
// controller is the given player, sorted by id.
func (s *SessionState) ControlledCharacters(viewer string) []FullView {
	out := []FullView{}
	for _, c := range s.Characters {
		if controlledBy(c, viewer) {
			out = append(out, fullView(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FullRoster is the GM projection: every character, full detail, still
// without controller internals.
func (s *SessionState) FullRoster() []FullView {
	out := []FullView{}
	for _, c := range s.Characters {
		out = append(out, fullView(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BattlefieldView projects occupied squares for one viewer. Squares with
// neither an occupant nor area effects are omitted, not emitted as null.
func (s *SessionState) BattlefieldView(viewer string) map[string]SquareView {
	out := map[string]SquareView{}
	for sq, occ := range s.Battlefield {
		if occ.CharacterID == "" && len(occ.AreaEffects) == 0 {
			continue
		}
		sv := SquareView{AreaEffects: occ.AreaEffects}
		if c, ok := s.CharacterByID(occ.CharacterID); ok {
			tv := s.Tooltip(c, viewer)
			sv.Character = &tv
		}
		out[sq] = sv
	}
	return out
}

// Handshake builds the individualized handshake view for one player. The
// GM sees the full roster where a player sees only their own characters.
func (s *SessionState) Handshake(viewer string, gm bool, lobby []LobbyPlayer) HandshakeView {
	var own []FullView
	if gm {
		own = s.FullRoster()
	} else {
		own = s.ControlledCharacters(viewer)
	}
	view := HandshakeView{
		RoundCount:     s.RoundCount,
		Messages:       s.LastMessages(HandshakeMessageCount),
		CombatStatus:   s.BattleResult,
		Battlefield:    s.BattlefieldView(viewer),
		TurnOrder:      s.TurnOrderView(viewer),
		YourCharacters: own,
		Lobby:          lobby,
	}
	if !s.Turn.ActionTimestamp.IsZero() {
		ts := s.Turn.ActionTimestamp
		view.ActionTimestamp = &ts
	}
	return view
}
