/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package peer is the joining side of a game: it mirrors the host's session
// and sends the few messages a player is allowed to send.
package peer

import (
	"context"
	"errors"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/replication"
	"github.com/Seednode/aliasbox/transport"
)

var (
	ErrHostLost    = errors.New("connection to host lost")
	ErrNotYourTurn = errors.New("it is not your turn")
	ErrTurnRunning = errors.New("the countdown is already running")
	ErrNoTurn      = errors.New("no countdown is running")
)

type Options struct {
	DisplayName string
	Logf        func(format string, args ...any)
	// Views receive every snapshot and notice the host sends, unfiltered.
	Views []replication.View
}

type Client struct {
	id      string
	name    string
	ch      transport.Channel
	replica *replication.Replica
	views   []replication.View
	logf    func(format string, args ...any)
}

func New(id string, ch transport.Channel, opts Options) *Client {
	c := &Client{
		id:      id,
		name:    opts.DisplayName,
		ch:      ch,
		replica: replication.NewReplica(),
		views:   opts.Views,
		logf:    opts.Logf,
	}
	if c.logf == nil {
		c.logf = func(string, ...any) {}
	}

	return c
}

func (c *Client) ID() string {
	return c.id
}

// Session returns the latest snapshot, or nil before the first one arrives.
func (c *Client) Session() *game.Session {
	return c.replica.Session()
}

// Updated is closed when the next snapshot is applied.
func (c *Client) Updated() <-chan struct{} {
	return c.replica.Updated()
}

// Run announces the client and applies everything the host sends until the
// channel closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer c.ch.Close()

	if err := c.send(protocol.JoinRequest{DisplayName: c.name}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ch.Closed():
			return ErrHostLost
		case data := <-c.ch.Messages():
			c.handle(data)
		}
	}
}

func (c *Client) handle(data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		c.logf("PEER: dropping frame: %v", err)
		return
	}

	switch msg := m.(type) {
	case protocol.GameStateUpdate:
		if !c.replica.Accept(msg.Session) {
			c.logf("PEER: dropping stale or empty snapshot")
			return
		}
		for _, v := range c.views {
			v.Apply(msg.Session.Clone())
		}
	case protocol.TurnEnd, protocol.GameEnd:
		for _, v := range c.views {
			v.Notify(msg)
		}
	default:
		c.logf("PEER: unexpected %s from host", m.Type())
	}
}

// FlipCard asks the host to start this player's countdown. It is only sent
// when the local copy says the turn is ours and idle.
func (c *Client) FlipCard() error {
	s := c.replica.Session()
	if !c.holdsTurn(s) {
		return ErrNotYourTurn
	}
	if s.TurnPhase != game.TurnIdle {
		return ErrTurnRunning
	}

	return c.send(protocol.TurnStart{})
}

func (c *Client) Correct() error {
	return c.act(game.ActionCorrect)
}

func (c *Client) Skip() error {
	return c.act(game.ActionSkip)
}

func (c *Client) act(kind game.ActionKind) error {
	s := c.replica.Session()
	if !c.holdsTurn(s) {
		return ErrNotYourTurn
	}
	if !s.GameActive() {
		return ErrNoTurn
	}

	return c.send(protocol.Action{Kind: kind})
}

func (c *Client) holdsTurn(s *game.Session) bool {
	return s != nil && s.GameStarted() && s.Turn != nil && s.Turn.ParticipantID == c.id
}

func (c *Client) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := c.ch.Send(data); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrHostLost
		}
		return err
	}

	return nil
}
