/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package transport negotiates bidirectional data channels between the host
// and joining devices. Descriptions are opaque to callers; they are relayed
// by the signaling engine.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/Seednode/aliasbox/protocol"
)

// Label names the data channel carrying game messages.
const Label = "gameData"

var (
	ErrClosed              = errors.New("channel closed")
	ErrNotOpen             = errors.New("channel not open")
	ErrUnexpectedSDP       = errors.New("unexpected session description")
	ErrFingerprintMismatch = errors.New("final answer does not come from the invited host")
	ErrConnectionFailed    = errors.New("connection failed before the channel opened")
)

// Channel is an ordered, reliable message pipe. Messages are delivered until
// Closed fires; after that Send returns ErrClosed.
type Channel interface {
	Send(data []byte) error
	Open() bool
	Messages() <-chan []byte
	Closed() <-chan struct{}
	Close() error
}

// Negotiation is one in-flight attempt to open a channel. It is never reused:
// a failed attempt is closed and a new one created.
type Negotiation interface {
	Local() protocol.SessionDescription
	Await(ctx context.Context) (Channel, error)
	Close() error
}

// Offering is the joining side of a negotiation, which needs the host's
// reply before it can complete.
type Offering interface {
	Negotiation
	Complete(remote protocol.SessionDescription) error
}

// Negotiator creates negotiations.
type Negotiator interface {
	// Invite produces the host's broadcast invitation.
	Invite(ctx context.Context) (protocol.SessionDescription, error)
	// Offer starts a joining attempt in response to an invitation.
	Offer(ctx context.Context, invitation protocol.SessionDescription) (Offering, error)
	// Answer starts the host side of an attempt for one peer.
	Answer(ctx context.Context, remote protocol.SessionDescription) (Negotiation, error)
}

const messageBuffer = 64

// pipe holds the state common to every Channel implementation.
type pipe struct {
	messages chan []byte
	opened   chan struct{}
	closed   chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once
}

func newPipe() *pipe {
	return &pipe{
		messages: make(chan []byte, messageBuffer),
		opened:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (p *pipe) markOpen() {
	p.openOnce.Do(func() { close(p.opened) })
}

// markClosed reports whether this call did the closing.
func (p *pipe) markClosed() bool {
	done := false
	p.closeOnce.Do(func() {
		close(p.closed)
		done = true
	})
	return done
}

func (p *pipe) deliver(data []byte) {
	select {
	case p.messages <- data:
	case <-p.closed:
	}
}

func (p *pipe) Open() bool {
	select {
	case <-p.closed:
		return false
	default:
	}

	select {
	case <-p.opened:
		return true
	default:
		return false
	}
}

func (p *pipe) Messages() <-chan []byte {
	return p.messages
}

func (p *pipe) Closed() <-chan struct{} {
	return p.closed
}

func (p *pipe) awaitOpen(ctx context.Context) error {
	select {
	case <-p.opened:
		return nil
	case <-p.closed:
		return ErrConnectionFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}
