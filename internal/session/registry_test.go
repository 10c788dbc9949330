package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/battlegrid/coordinator/internal/upstream"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dial := func(ctx context.Context, sink upstream.Sink) (upstream.Link, error) {
		return newFakeUpstream(), nil
	}
	return NewRegistry(ctx, dial, zap.NewNop())
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg := testRegistry(t)

	s := reg.Create(CreateParams{
		Nickname: "Goblin Ambush",
		GMID:     "g1",
		Players:  []string{"p1"},
		Save:     json.RawMessage(`{}`),
	})
	require.NotNil(t, s)
	require.NotEmpty(t, s.ID)

	assert.Same(t, s, reg.Get(s.ID))
	assert.Nil(t, reg.Get("nope"))
}

func TestRegistry_SessionRemovesItselfOnTeardown(t *testing.T) {
	reg := testRegistry(t)
	s := reg.Create(CreateParams{GMID: "g1", Save: json.RawMessage(`{}`)})

	require.True(t, s.Post(Shutdown{}))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session never tore down")
	}

	// Lookups after teardown come back empty.
	assert.Nil(t, reg.Get(s.ID))
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := testRegistry(t)
	s := reg.Create(CreateParams{GMID: "g1", Save: json.RawMessage(`{}`)})

	reg.Remove(s.ID)
	reg.Remove(s.ID)
	assert.Nil(t, reg.Get(s.ID))
}

func TestRegistry_ShutdownEndsEverySession(t *testing.T) {
	reg := testRegistry(t)
	a := reg.Create(CreateParams{GMID: "g1", Save: json.RawMessage(`{}`)})
	b := reg.Create(CreateParams{GMID: "g2", Save: json.RawMessage(`{}`)})

	reg.Shutdown()

	for _, s := range []*CombatSession{a, b} {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("session %s never tore down", s.ID)
		}
	}
}
