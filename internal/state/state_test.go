package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestSetCurrentCharacter_PositionalSlotZero(t *testing.T) {
	s := New()
	s.SetTurnOrder([]*string{strp("A"), nil, strp("B")})

	id, ok := s.CurrentCharacterID()
	require.True(t, ok)
	assert.Equal(t, "A", id)

	s.SetCurrentCharacter("B")

	id, ok = s.CurrentCharacterID()
	require.True(t, ok)
	assert.Equal(t, "B", id)

	// Strictly positional: the duplicate at slot 2 is not collapsed and
	// the sentinel stays put.
	require.Len(t, s.Turn.Order, 3)
	assert.Nil(t, s.Turn.Order[1])
	require.NotNil(t, s.Turn.Order[2])
	assert.Equal(t, "B", *s.Turn.Order[2])
}

func TestSetCurrentCharacter_EmptyOrder(t *testing.T) {
	s := New()
	s.SetCurrentCharacter("c1")

	id, ok := s.CurrentCharacterID()
	require.True(t, ok)
	assert.Equal(t, "c1", id)
}

func TestCurrentCharacterID_SentinelHead(t *testing.T) {
	s := New()
	s.SetTurnOrder([]*string{nil, strp("A")})

	_, ok := s.CurrentCharacterID()
	assert.False(t, ok)
}

func TestMessageLog_Bounded(t *testing.T) {
	s := New()
	for i := 0; i < MessageLogCap+25; i++ {
		s.AppendMessage(MessageEntry{Key: fmt.Sprintf("msg-%d", i)})
	}

	all := s.Messages(0, -1)
	require.Len(t, all, MessageLogCap)
	// Oldest retained entry is the one right past the overflow.
	assert.Equal(t, "msg-25", all[0].Key)
	assert.Equal(t, fmt.Sprintf("msg-%d", MessageLogCap+24), all[len(all)-1].Key)

	last := s.LastMessages(10)
	require.Len(t, last, 10)
	assert.Equal(t, fmt.Sprintf("msg-%d", MessageLogCap+15), last[0].Key)
}

func TestMergeCharacters_PerIDWholesale(t *testing.T) {
	s := New()
	s.MergeCharacters(map[string]CharacterInfo{
		"c1": {ID: "c1", Name: "Aldric", Health: 10, Armor: 2},
		"c2": {ID: "c2", Name: "Bryn", Health: 8},
	})
	s.MergeCharacters(map[string]CharacterInfo{
		"c1": {ID: "c1", Name: "Aldric", Health: 4},
	})

	c1, ok := s.CharacterByID("c1")
	require.True(t, ok)
	assert.Equal(t, 4, c1.Health)
	// Replaced wholesale, not field-merged.
	assert.Equal(t, 0, c1.Armor)

	c2, ok := s.CharacterByID("c2")
	require.True(t, ok)
	assert.Equal(t, 8, c2.Health)
}

func TestClearTurn_PreservesOrder(t *testing.T) {
	s := New()
	s.SetTurnOrder([]*string{strp("A"), nil})
	s.SetCurrentPlayer("p1")
	s.SetActions(map[string]any{"builtins:attack": true})
	s.RecordActionTimestamp(time.Now())

	s.ClearTurn()

	assert.Empty(t, s.Turn.CurrentPlayerID)
	assert.Nil(t, s.Turn.Actions)
	assert.True(t, s.Turn.ActionTimestamp.IsZero())
	assert.Len(t, s.Turn.Order, 2)
}

func TestIsTurnOf(t *testing.T) {
	s := New()
	s.SetCurrentPlayer("p1")

	// Pending battles have no turns.
	assert.False(t, s.IsTurnOf("p1"))

	s.BattleResult = StatusOngoing
	assert.True(t, s.IsTurnOf("p1"))
	assert.False(t, s.IsTurnOf("p2"))
	assert.False(t, s.IsTurnOf(""))
}

func TestApplyHandshake_ResetsEverything(t *testing.T) {
	s := New()
	s.SetRoundCount(7)
	s.BattleResult = StatusOngoing
	s.AppendMessage(MessageEntry{Key: "old"})
	s.SetCurrentPlayer("p1")

	s.ApplyHandshake(
		Battlefield{"a1": {CharacterID: "c1"}},
		map[string]CharacterInfo{"c1": {ID: "c1"}},
	)

	assert.Equal(t, 0, s.RoundCount)
	assert.Equal(t, StatusPending, s.BattleResult)
	assert.Empty(t, s.Messages(0, -1))
	assert.Empty(t, s.Turn.CurrentPlayerID)

	c, ok := s.CharacterAt("a1")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)
}

func TestCharacterAt_EmptySquare(t *testing.T) {
	s := New()
	s.ReplaceBattlefield(Battlefield{"a1": {AreaEffects: []string{"builtins:fire"}}})

	_, ok := s.CharacterAt("a1")
	assert.False(t, ok)
	_, ok = s.CharacterAt("zz")
	assert.False(t, ok)
}
