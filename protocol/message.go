/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package protocol defines the messages exchanged over game data channels
// and the payloads relayed by hand during signaling.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Seednode/aliasbox/game"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Type tags every message on the wire.
type Type string

const (
	TypeJoinRequest     Type = "JOIN_REQUEST"
	TypeGameStateUpdate Type = "GAME_STATE_UPDATE"
	TypeTurnStart       Type = "TURN_START"
	TypeAction          Type = "ACTION"
	TypeTurnEnd         Type = "TURN_END"
	TypeGameEnd         Type = "GAME_END"
)

// Message is implemented by every application message.
type Message interface {
	Type() Type
}

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRequest struct {
	DisplayName string `json:"displayName"`
}

// GameStateUpdate carries a full snapshot. The session is the payload itself.
type GameStateUpdate struct {
	Session *game.Session
}

type TurnStart struct{}

type Action struct {
	Kind game.ActionKind `json:"kind"`
}

type TurnEnd struct {
	TurnScore       int    `json:"turnScore"`
	ParticipantName string `json:"participantName"`
}

type GameEnd struct {
	WinningTeamName string `json:"winningTeamName"`
}

func (JoinRequest) Type() Type     { return TypeJoinRequest }
func (GameStateUpdate) Type() Type { return TypeGameStateUpdate }
func (TurnStart) Type() Type       { return TypeTurnStart }
func (Action) Type() Type          { return TypeAction }
func (TurnEnd) Type() Type         { return TypeTurnEnd }
func (GameEnd) Type() Type         { return TypeGameEnd }

func (m GameStateUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Session)
}

func (m *GameStateUpdate) UnmarshalJSON(data []byte) error {
	m.Session = new(game.Session)
	return json.Unmarshal(data, m.Session)
}

// Notice converts a state machine notification into its wire message.
func Notice(n game.Notice) Message {
	switch n.Kind {
	case game.NoticeGameEnd:
		return GameEnd{WinningTeamName: n.WinningTeamName}
	default:
		return TurnEnd{TurnScore: n.TurnScore, ParticipantName: n.ParticipantName}
	}
}

// Encode wraps m in a tagged envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	return json.Marshal(envelope{Type: m.Type(), Payload: payload})
}

var decoders = map[Type]func() Message{
	TypeJoinRequest:     func() Message { return new(JoinRequest) },
	TypeGameStateUpdate: func() Message { return new(GameStateUpdate) },
	TypeTurnStart:       func() Message { return new(TurnStart) },
	TypeAction:          func() Message { return new(Action) },
	TypeTurnEnd:         func() Message { return new(TurnEnd) },
	TypeGameEnd:         func() Message { return new(GameEnd) },
}

// Decode parses one frame. The returned message is a value, not a pointer.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	newMessage, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	m := newMessage()

	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
	}

	return validate(m)
}

func validate(m Message) (Message, error) {
	switch v := m.(type) {
	case *JoinRequest:
		return *v, nil
	case *GameStateUpdate:
		if v.Session == nil || v.Session.Participants == nil || v.Session.Teams == nil {
			return nil, fmt.Errorf("%w: %s: incomplete session", ErrInvalidPayload, TypeGameStateUpdate)
		}
		return *v, nil
	case *TurnStart:
		return *v, nil
	case *Action:
		if v.Kind != game.ActionCorrect && v.Kind != game.ActionSkip {
			return nil, fmt.Errorf("%w: %s: kind %q", ErrInvalidPayload, TypeAction, v.Kind)
		}
		return *v, nil
	case *TurnEnd:
		return *v, nil
	case *GameEnd:
		return *v, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
}
