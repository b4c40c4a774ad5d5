/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package signaling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/transport"
	"github.com/google/uuid"
)

// Registrar takes ownership of channels once they open.
type Registrar interface {
	Register(id string, ch transport.Channel) error
}

type HostOptions struct {
	Compact        bool
	ChannelTimeout time.Duration
	Logf           func(format string, args ...any)

	// Reserved ids are never handed to a peer, such as the host's own.
	Reserved []string
}

// Host invites peers and answers them one at a time. Every answer gets its
// own negotiation, kept in a map keyed by participant id until its channel
// opens or times out.
type Host struct {
	negotiator transport.Negotiator
	relay      Relay
	registrar  Registrar
	compact    bool
	timeout    time.Duration
	logf       func(format string, args ...any)
	reserved   []string

	mu         sync.Mutex
	invitation string
	attempts   map[string]*attempt
	wg         sync.WaitGroup
}

type attempt struct {
	id          string
	negotiation transport.Negotiation
}

func NewHost(negotiator transport.Negotiator, relay Relay, registrar Registrar, opts HostOptions) *Host {
	h := &Host{
		negotiator: negotiator,
		relay:      relay,
		registrar:  registrar,
		compact:    opts.Compact,
		timeout:    opts.ChannelTimeout,
		logf:       opts.Logf,
		reserved:   slices.Clone(opts.Reserved),
		attempts:   make(map[string]*attempt),
	}
	if h.timeout <= 0 {
		h.timeout = DefaultChannelTimeout
	}
	if h.logf == nil {
		h.logf = nopLogf
	}

	return h
}

// Run publishes the invitation and answers peers until ctx is cancelled or
// the relay closes. Pending attempts are closed before it returns.
func (h *Host) Run(ctx context.Context) error {
	defer h.shutdown()

	invitation, err := h.negotiator.Invite(ctx)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	payload, err := protocol.EncodeRelay(invitation, h.compact)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.invitation = payload
	h.mu.Unlock()

	if err := h.Invite(ctx); err != nil {
		return err
	}

	for {
		data, err := h.relay.Await(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrRelayClosed):
			return err
		case err != nil:
			h.logf("SIGNAL: relay error: %v", err)
			continue
		}

		h.handle(ctx, data)
	}
}

// Invite republishes the invitation so the next peer can scan it.
func (h *Host) Invite(ctx context.Context) error {
	h.mu.Lock()
	payload := h.invitation
	h.mu.Unlock()

	if payload == "" {
		return errors.New("invitation not ready")
	}

	if err := h.relay.Publish(ctx, KindInvitation, payload); err != nil {
		return fmt.Errorf("publish invitation: %w", err)
	}
	h.logf("SIGNAL: invitation published")

	return nil
}

// Pending counts handshakes in flight.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.attempts)
}

func (h *Host) handle(ctx context.Context, data []byte) {
	answer, err := protocol.DecodeAnswer(data)
	if err != nil {
		h.logf("SIGNAL: rejected payload: %v", err)
		return
	}
	if slices.Contains(h.reserved, answer.ParticipantID) {
		h.logf("SIGNAL: rejected answer claiming reserved id %q", answer.ParticipantID)
		return
	}

	negotiation, err := h.negotiator.Answer(ctx, answer.Description)
	if err != nil {
		h.logf("SIGNAL: could not answer %s: %v", answer.ParticipantID, err)
		return
	}

	a := &attempt{id: uuid.NewString()[:8], negotiation: negotiation}

	h.mu.Lock()
	previous := h.attempts[answer.ParticipantID]
	h.attempts[answer.ParticipantID] = a
	h.mu.Unlock()

	if previous != nil {
		h.logf("SIGNAL: replacing attempt %s for %s", previous.id, answer.ParticipantID)
		previous.negotiation.Close()
	}

	final, err := protocol.EncodeRelay(protocol.FinalAnswer{Description: negotiation.Local()}, h.compact)
	if err == nil {
		err = h.relay.Publish(ctx, KindFinalAnswer, final)
	}
	if err != nil {
		h.logf("SIGNAL: could not publish final answer for %s: %v", answer.ParticipantID, err)
		h.discard(answer.ParticipantID, a)
		return
	}

	h.logf("SIGNAL: final answer for %s published (attempt %s)", answer.ParticipantID, a.id)

	h.wg.Go(func() {
		h.await(ctx, answer.ParticipantID, a)
	})
}

func (h *Host) await(ctx context.Context, participantID string, a *attempt) {
	actx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ch, err := a.negotiation.Await(actx)

	h.mu.Lock()
	current := h.attempts[participantID] == a
	if current {
		delete(h.attempts, participantID)
	}
	h.mu.Unlock()

	switch {
	case err != nil:
		h.logf("SIGNAL: attempt %s for %s failed: %v", a.id, participantID, err)
		a.negotiation.Close()
	case !current:
		a.negotiation.Close()
	default:
		if err := h.registrar.Register(participantID, ch); err != nil {
			h.logf("SIGNAL: could not register %s: %v", participantID, err)
			ch.Close()
		} else {
			h.logf("SIGNAL: %s connected (attempt %s)", participantID, a.id)
		}
	}

	if ctx.Err() == nil && current {
		if err := h.Invite(ctx); err != nil {
			h.logf("SIGNAL: %v", err)
		}
	}
}

func (h *Host) discard(participantID string, a *attempt) {
	h.mu.Lock()
	if h.attempts[participantID] == a {
		delete(h.attempts, participantID)
	}
	h.mu.Unlock()

	a.negotiation.Close()
}

func (h *Host) shutdown() {
	h.mu.Lock()
	attempts := h.attempts
	h.attempts = make(map[string]*attempt)
	h.mu.Unlock()

	for _, a := range attempts {
		a.negotiation.Close()
	}

	h.wg.Wait()
}
