/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// CompactPrefix marks a relay payload that is zlib compressed and base64url encoded.
	CompactPrefix = "z:"

	// MaxRelayPayload bounds a decoded relay payload.
	MaxRelayPayload = 64 << 10

	// MaxIDLength bounds a participant id.
	MaxIDLength = 64
)

var (
	ErrMissingIdentity = errors.New("answer carries no participant id")
	ErrMissingSDP      = errors.New("payload carries no session description")
)

// SessionDescription is an opaque negotiation blob.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Answer is what a joining peer relays back to the host.
type Answer struct {
	ParticipantID string             `json:"peerId"`
	Description   SessionDescription `json:"sdp"`
}

// FinalAnswer completes the exchange for exactly one peer.
type FinalAnswer struct {
	Description SessionDescription `json:"sdp"`
}

// EncodeRelay renders v for relaying, optionally in compact form.
func EncodeRelay(v any, compact bool) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode relay payload: %w", err)
	}
	if !compact {
		return string(data), nil
	}

	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return CompactPrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// IsRelayPayload reports whether a line of input looks like a relayed payload
// rather than a command.
func IsRelayPayload(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "{") || strings.HasPrefix(line, CompactPrefix)
}

func DecodeOffer(data []byte) (SessionDescription, error) {
	var sd SessionDescription
	if err := decodeRelay(data, &sd); err != nil {
		return SessionDescription{}, err
	}
	if sd.Type != "offer" || sd.SDP == "" {
		return SessionDescription{}, fmt.Errorf("%w: expected an offer, got %q", ErrMissingSDP, sd.Type)
	}

	return sd, nil
}

func DecodeAnswer(data []byte) (Answer, error) {
	var a Answer
	if err := decodeRelay(data, &a); err != nil {
		return Answer{}, err
	}

	a.ParticipantID = strings.TrimSpace(a.ParticipantID)
	switch {
	case a.ParticipantID == "":
		return Answer{}, ErrMissingIdentity
	case len(a.ParticipantID) > MaxIDLength:
		return Answer{}, fmt.Errorf("%w: id longer than %d characters", ErrMalformed, MaxIDLength)
	case a.Description.SDP == "":
		return Answer{}, ErrMissingSDP
	}

	return a, nil
}

func DecodeFinalAnswer(data []byte) (FinalAnswer, error) {
	var f FinalAnswer
	if err := decodeRelay(data, &f); err != nil {
		return FinalAnswer{}, err
	}
	if f.Description.SDP == "" {
		return FinalAnswer{}, ErrMissingSDP
	}

	return f, nil
}

func decodeRelay(data []byte, v any) error {
	data = bytes.TrimSpace(data)

	if rest, ok := bytes.CutPrefix(data, []byte(CompactPrefix)); ok {
		raw, err := base64.RawURLEncoding.DecodeString(string(rest))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		defer r.Close()

		data, err = io.ReadAll(io.LimitReader(r, MaxRelayPayload+1))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if len(data) > MaxRelayPayload {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformed, MaxRelayPayload)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return nil
}
