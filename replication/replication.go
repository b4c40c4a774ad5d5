/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package replication pushes full session snapshots from the host to every
// peer and keeps the read-only copies those peers render from.
package replication

import (
	"sync"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
)

// Broadcaster is satisfied by the connection registry.
type Broadcaster interface {
	Broadcast(data []byte)
}

// View is a local consumer of snapshots and notices.
type View interface {
	Apply(s *game.Session)
	Notify(m protocol.Message)
}

// Publisher sends snapshots to every peer and mirrors them to local views.
type Publisher struct {
	out   Broadcaster
	views []View
	logf  func(format string, args ...any)
}

func NewPublisher(out Broadcaster, logf func(format string, args ...any), views ...View) *Publisher {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Publisher{out: out, views: views, logf: logf}
}

// Publish sends the whole session, then every notice raised by the mutation
// that produced it. Local views get a clone before Publish returns.
func (p *Publisher) Publish(s *game.Session, notices []game.Notice) error {
	frame, err := protocol.Encode(protocol.GameStateUpdate{Session: s})
	if err != nil {
		return err
	}
	p.out.Broadcast(frame)

	for _, v := range p.views {
		v.Apply(s.Clone())
	}

	for _, n := range notices {
		m := protocol.Notice(n)

		frame, err := protocol.Encode(m)
		if err != nil {
			return err
		}
		p.out.Broadcast(frame)

		for _, v := range p.views {
			v.Notify(m)
		}
	}

	p.logf("GAMES: published version %d (%d notices)", s.Version, len(notices))

	return nil
}

// Replica is a peer's cached copy of the host's session. It is replaced
// wholesale on every snapshot and never merged.
type Replica struct {
	mu      sync.RWMutex
	session *game.Session
	updated chan struct{}
}

func NewReplica() *Replica {
	return &Replica{updated: make(chan struct{})}
}

// Apply stores s unless it is older than the cached snapshot.
func (r *Replica) Apply(s *game.Session) {
	r.Accept(s)
}

// Accept caches s unless it is older than the snapshot already held, and
// reports whether it did.
func (r *Replica) Accept(s *game.Session) bool {
	if s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && s.Version < r.session.Version {
		return false
	}
	r.session = s

	close(r.updated)
	r.updated = make(chan struct{})

	return true
}

// Notify is a no-op; notices are transient and not part of the snapshot.
func (r *Replica) Notify(protocol.Message) {}

// Session returns a copy of the cached snapshot, or nil before the first one.
func (r *Replica) Session() *game.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.session.Clone()
}

// Updated returns a channel that is closed on the next accepted snapshot.
func (r *Replica) Updated() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.updated
}
