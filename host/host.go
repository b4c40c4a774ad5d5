/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package host runs the authoritative side of a game: one goroutine owns the
// session and is the only caller of the state machine.
package host

import (
	"context"
	"errors"
	"time"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/registry"
	"github.com/Seednode/aliasbox/replication"
)

// DefaultTickInterval is how often the round countdown is checked while a
// turn is active.
const DefaultTickInterval = 250 * time.Millisecond

var ErrStopped = errors.New("host stopped")

type Options struct {
	TickInterval time.Duration
	Now          func() time.Time
	Logf         func(format string, args ...any)
	// Views receive every snapshot the host publishes, in order.
	Views []replication.View
}

type Host struct {
	machine   *game.Machine
	session   *game.Session
	registry  *registry.Registry
	publisher *replication.Publisher

	frames   chan frame
	leaves   chan string
	commands chan command
	done     chan struct{}

	ticker   *time.Ticker
	tick     <-chan time.Time
	timerSeq int

	interval time.Duration
	now      func() time.Time
	logf     func(format string, args ...any)
}

type frame struct {
	from string
	data []byte
}

type command struct {
	event game.Event
	read  func(s *game.Session)
	reply chan error
}

func New(machine *game.Machine, session *game.Session, opts Options) *Host {
	h := &Host{
		machine:  machine,
		session:  session,
		frames:   make(chan frame),
		leaves:   make(chan string),
		commands: make(chan command),
		done:     make(chan struct{}),
		interval: opts.TickInterval,
		now:      opts.Now,
		logf:     opts.Logf,
	}
	if h.interval <= 0 {
		h.interval = DefaultTickInterval
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logf == nil {
		h.logf = func(string, ...any) {}
	}

	h.registry = registry.New(registry.HandlerFuncs{
		OnMessage: h.receive,
		OnLeft:    h.left,
	}, h.logf)
	h.publisher = replication.NewPublisher(h.registry, h.logf, opts.Views...)

	return h
}

// Registry is where the signaling engine hands over opened channels.
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// HostID is the participant id of the local operator.
func (h *Host) HostID() string {
	return h.session.HostID
}

func (h *Host) receive(id string, data []byte) {
	select {
	case h.frames <- frame{from: id, data: data}:
	case <-h.done:
	}
}

func (h *Host) left(id string) {
	select {
	case h.leaves <- id:
	case <-h.done:
	}
}

// Run owns the session until ctx is cancelled, then closes every channel.
func (h *Host) Run(ctx context.Context) error {
	defer func() {
		h.stopTimer()
		close(h.done)
		h.registry.Close()
	}()

	if err := h.publisher.Publish(h.session, nil); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-h.frames:
			h.handleFrame(f)

		case id := <-h.leaves:
			h.apply(game.Leave(id))

		case cmd := <-h.commands:
			if cmd.read != nil {
				cmd.read(h.session)
				cmd.reply <- nil
				continue
			}
			cmd.reply <- h.apply(cmd.event)

		case <-h.tick:
			h.apply(game.Tick(h.timerSeq, h.now()))
		}
	}
}

func (h *Host) handleFrame(f frame) {
	m, err := protocol.Decode(f.data)
	if err != nil {
		h.logf("GAMES: dropping frame from %s: %v", f.from, err)
		return
	}

	switch msg := m.(type) {
	case protocol.JoinRequest:
		before := h.session.Version
		h.apply(game.Join(f.from, msg.DisplayName, h.now()))
		if h.session.Version == before {
			h.sendSnapshot(f.from)
		}
	case protocol.TurnStart:
		h.apply(game.TurnStart(f.from, h.now()))
	case protocol.Action:
		h.apply(game.Action(f.from, msg.Kind))
	default:
		h.logf("GAMES: %s sent host-only message %s", f.from, m.Type())
	}
}

// apply runs ev and publishes the result. Only called from Run.
func (h *Host) apply(ev game.Event) error {
	out, err := h.machine.Apply(h.session, ev)
	if err != nil {
		h.logf("GAMES: %s rejected: %v", ev.Kind, err)
		return err
	}

	switch out.Timer {
	case game.TimerStart:
		h.startTimer()
	case game.TimerStop:
		h.stopTimer()
	}

	if !out.Changed {
		return nil
	}

	h.logf("GAMES: %s applied, version %d", ev.Kind, h.session.Version)

	return h.publisher.Publish(h.session, out.Notices)
}

func (h *Host) sendSnapshot(id string) {
	data, err := protocol.Encode(protocol.GameStateUpdate{Session: h.session})
	if err != nil {
		h.logf("GAMES: %v", err)
		return
	}
	h.registry.Send(id, data)
}

func (h *Host) startTimer() {
	h.stopTimer()
	if h.session.Turn == nil {
		return
	}
	h.timerSeq = h.session.Turn.Seq
	h.ticker = time.NewTicker(h.interval)
	h.tick = h.ticker.C
}

func (h *Host) stopTimer() {
	if h.ticker != nil {
		h.ticker.Stop()
	}
	h.ticker = nil
	h.tick = nil
}

// Do runs an operator event on the loop and returns the guard error, if any.
func (h *Host) Do(ctx context.Context, ev game.Event) error {
	return h.send(ctx, command{event: ev, reply: make(chan error, 1)})
}

// FlipCard starts the host's own turn.
func (h *Host) FlipCard(ctx context.Context) error {
	return h.Do(ctx, game.TurnStart(h.HostID(), h.now()))
}

// Act reports a result for the word on the host's own card.
func (h *Host) Act(ctx context.Context, kind game.ActionKind) error {
	return h.Do(ctx, game.Action(h.HostID(), kind))
}

// Snapshot returns a copy of the current session.
func (h *Host) Snapshot(ctx context.Context) (*game.Session, error) {
	var s *game.Session
	err := h.send(ctx, command{
		read:  func(cur *game.Session) { s = cur.Clone() },
		reply: make(chan error, 1),
	})
	return s, err
}

func (h *Host) send(ctx context.Context, cmd command) error {
	select {
	case h.commands <- cmd:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
