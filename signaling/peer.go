/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/transport"
)

type PeerOptions struct {
	ParticipantID  string
	Compact        bool
	ChannelTimeout time.Duration
	Logf           func(format string, args ...any)
}

// Peer joins a host. A failed attempt is thrown away entirely and the peer
// goes back to waiting for an invitation.
type Peer struct {
	negotiator transport.Negotiator
	relay      Relay
	id         string
	compact    bool
	timeout    time.Duration
	logf       func(format string, args ...any)
}

func NewPeer(negotiator transport.Negotiator, relay Relay, opts PeerOptions) *Peer {
	p := &Peer{
		negotiator: negotiator,
		relay:      relay,
		id:         opts.ParticipantID,
		compact:    opts.Compact,
		timeout:    opts.ChannelTimeout,
		logf:       opts.Logf,
	}
	if p.id == "" {
		p.id = NewParticipantID()
	}
	if p.timeout <= 0 {
		p.timeout = DefaultChannelTimeout
	}
	if p.logf == nil {
		p.logf = nopLogf
	}

	return p
}

// ID is the participant id this peer announces.
func (p *Peer) ID() string {
	return p.id
}

// Join retries until a channel to the host is open, ctx is cancelled, or the
// relay closes.
func (p *Peer) Join(ctx context.Context) (transport.Channel, error) {
	for {
		ch, err := p.attempt(ctx)
		switch {
		case err == nil:
			return ch, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrRelayClosed):
			return nil, err
		}

		p.logf("SIGNAL: join attempt failed: %v; waiting for a new invitation", err)
	}
}

func (p *Peer) attempt(ctx context.Context) (transport.Channel, error) {
	invitation, err := p.awaitInvitation(ctx)
	if err != nil {
		return nil, err
	}

	offering, err := p.negotiator.Offer(ctx, invitation)
	if err != nil {
		return nil, fmt.Errorf("start negotiation: %w", err)
	}

	ch, err := p.complete(ctx, offering)
	if err != nil {
		offering.Close()
		return nil, err
	}

	return ch, nil
}

func (p *Peer) awaitInvitation(ctx context.Context) (protocol.SessionDescription, error) {
	for {
		data, err := p.relay.Await(ctx)
		if err != nil {
			return protocol.SessionDescription{}, err
		}

		invitation, err := protocol.DecodeOffer(data)
		if err == nil {
			return invitation, nil
		}
		p.logf("SIGNAL: not an invitation: %v", err)
	}
}

func (p *Peer) complete(ctx context.Context, offering transport.Offering) (transport.Channel, error) {
	answer, err := protocol.EncodeRelay(protocol.Answer{ParticipantID: p.id, Description: offering.Local()}, p.compact)
	if err != nil {
		return nil, err
	}
	if err := p.relay.Publish(ctx, KindAnswer, answer); err != nil {
		return nil, fmt.Errorf("publish answer: %w", err)
	}
	p.logf("SIGNAL: answer published as %s", p.id)

	data, err := p.relay.Await(ctx)
	if err != nil {
		return nil, err
	}

	final, err := protocol.DecodeFinalAnswer(data)
	if err != nil {
		return nil, err
	}
	if err := offering.Complete(final.Description); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch, err := offering.Await(actx)
	if err != nil {
		return nil, fmt.Errorf("channel did not open: %w", err)
	}
	p.logf("SIGNAL: channel open")

	return ch, nil
}
