/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package signaling runs the three message handshake (invitation, answer,
// final answer) over a relay that depends on a human carrying each payload
// between devices. Any step may be lost or garbled, so both engines recover
// by discarding the attempt and waiting for the next payload.
package signaling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChannelTimeout bounds how long a completed handshake may take to
// produce an open channel.
const DefaultChannelTimeout = 30 * time.Second

// ErrRelayClosed is returned by a Relay whose input is gone for good.
var ErrRelayClosed = errors.New("relay closed")

// Kind says what a published payload is, so the relay can label it for the
// person carrying it.
type Kind string

const (
	KindInvitation  Kind = "invitation"
	KindAnswer      Kind = "answer"
	KindFinalAnswer Kind = "final-answer"
)

// Relay is a one-shot, unreliable carrier for small text payloads.
type Relay interface {
	// Publish makes payload available to the other side, replacing whatever
	// was published before.
	Publish(ctx context.Context, kind Kind, payload string) error
	// Await blocks until a payload is handed in.
	Await(ctx context.Context) ([]byte, error)
}

// NewParticipantID returns a fresh id for a joining device.
func NewParticipantID() string {
	return "p_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

func nopLogf(string, ...any) {}
