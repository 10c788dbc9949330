package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire framing on both channels: a name and a payload
// whose shape depends on the name.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// EncodePlayer frames an outbound player event.
func EncodePlayer(ev PlayerOutbound) ([]byte, error) {
	return marshalEnvelope(ev.Event(), ev)
}

// EncodeUpstream frames an outbound simulation-server event.
func EncodeUpstream(ev UpstreamOutbound) ([]byte, error) {
	return marshalEnvelope(ev.Event(), ev)
}

func unmarshalPayload(env Envelope, into any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return nil
}

// DecodeUpstream parses one frame from the simulation server.
func DecodeUpstream(data []byte) (UpstreamInbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Event {
	case "game_handshake":
		var ev GameHandshake
		return ev, unmarshalPayload(env, &ev)
	case "round_update":
		var ev RoundUpdate
		return ev, unmarshalPayload(env, &ev)
	case "new_message":
		var ev NewMessage
		return ev, unmarshalPayload(env, &ev)
	case "battlefield_updated":
		var ev BattlefieldUpdated
		return ev, unmarshalPayload(env, &ev)
	case "characters_updated":
		var ev CharactersUpdated
		return ev, unmarshalPayload(env, &ev)
	case "battle_started":
		return BattleStarted{}, nil
	case "player_turn":
		var ev PlayerTurn
		return ev, unmarshalPayload(env, &ev)
	case "action_result":
		var ev ActionResult
		return ev, unmarshalPayload(env, &ev)
	case "turn_order_updated":
		var ev TurnOrderUpdated
		return ev, unmarshalPayload(env, &ev)
	case "battle_ended":
		var ev BattleEnded
		return ev, unmarshalPayload(env, &ev)
	case "ping":
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// DecodePlayer parses one frame from a player connection.
func DecodePlayer(data []byte) (PlayerInbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Event {
	case "take_action":
		// The payload is the choice map itself.
		choice := map[string]any{}
		if err := unmarshalPayload(env, &choice); err != nil {
			return nil, err
		}
		return TakeAction{Choice: choice}, nil
	case "skip":
		return Skip{}, nil
	case "request_data":
		var ev RequestData
		return ev, unmarshalPayload(env, &ev)
	case "allocate":
		var ev Allocate
		return ev, unmarshalPayload(env, &ev)
	case "start_combat":
		return StartCombat{}, nil
	case "end_combat":
		return EndCombat{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}
