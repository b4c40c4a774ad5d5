/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package registry tracks the live data channel of every joined participant.
package registry

import (
	"errors"
	"slices"
	"sync"

	"github.com/Seednode/aliasbox/transport"
)

var ErrAlreadyConnected = errors.New("participant already has an open channel")

// Handler receives everything the registry observes on its channels. Calls
// are made from per-channel goroutines.
type Handler interface {
	Message(id string, data []byte)
	Left(id string)
}

// HandlerFuncs adapts two functions to a Handler.
type HandlerFuncs struct {
	OnMessage func(id string, data []byte)
	OnLeft    func(id string)
}

func (h HandlerFuncs) Message(id string, data []byte) {
	if h.OnMessage != nil {
		h.OnMessage(id, data)
	}
}

func (h HandlerFuncs) Left(id string) {
	if h.OnLeft != nil {
		h.OnLeft(id)
	}
}

type Registry struct {
	mu       sync.Mutex
	channels map[string]transport.Channel
	handler  Handler
	logf     func(format string, args ...any)
	wg       sync.WaitGroup
}

func New(handler Handler, logf func(format string, args ...any)) *Registry {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Registry{
		channels: make(map[string]transport.Channel),
		handler:  handler,
		logf:     logf,
	}
}

// Register binds ch to id and starts forwarding its messages. A channel that
// is still open for id is never replaced.
func (r *Registry) Register(id string, ch transport.Channel) error {
	r.mu.Lock()
	if old, ok := r.channels[id]; ok && old.Open() {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.channels[id] = ch
	r.mu.Unlock()

	r.logf("REGISTRY: %s connected", id)

	r.wg.Go(func() {
		r.pump(id, ch)
	})

	return nil
}

func (r *Registry) pump(id string, ch transport.Channel) {
	for {
		select {
		case data := <-ch.Messages():
			r.handler.Message(id, data)
		case <-ch.Closed():
			r.OnChannelClosed(id, ch)
			return
		}
	}
}

// OnChannelClosed drops id if ch is still the channel registered for it and
// reports the participant as gone.
func (r *Registry) OnChannelClosed(id string, ch transport.Channel) {
	r.mu.Lock()
	current, ok := r.channels[id]
	if !ok || current != ch {
		r.mu.Unlock()
		return
	}
	delete(r.channels, id)
	r.mu.Unlock()

	r.logf("REGISTRY: %s left", id)

	r.handler.Left(id)
}

// Send delivers data to id, silently dropping it when id has no open channel.
func (r *Registry) Send(id string, data []byte) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	r.mu.Unlock()

	if !ok || !ch.Open() {
		return
	}

	if err := ch.Send(data); err != nil {
		r.logf("REGISTRY: send to %s failed: %v", id, err)
	}
}

// Broadcast sends data to every open channel.
func (r *Registry) Broadcast(data []byte) {
	r.mu.Lock()
	targets := make(map[string]transport.Channel, len(r.channels))
	for id, ch := range r.channels {
		targets[id] = ch
	}
	r.mu.Unlock()

	for id, ch := range targets {
		if !ch.Open() {
			continue
		}
		if err := ch.Send(data); err != nil {
			r.logf("REGISTRY: send to %s failed: %v", id, err)
		}
	}
}

// Connected reports whether id has an open channel.
func (r *Registry) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	return ok && ch.Open()
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.channels)
}

// Close closes every channel and waits for the pumps to drain.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := make([]transport.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}

	r.wg.Wait()
}
