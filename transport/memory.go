/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Seednode/aliasbox/protocol"
)

const memoryScheme = "mem:"

// Memory is an in-process Negotiator. Endpoints created from the same Memory
// share one network, so a host endpoint and any number of peer endpoints can
// negotiate with each other without sockets.
type Memory struct {
	net *memoryNet
	id  string
}

type memoryNet struct {
	mu      sync.Mutex
	next    int
	pending map[string]*memoryOffering
}

func NewMemory() *Memory {
	net := &memoryNet{pending: make(map[string]*memoryOffering)}
	return &Memory{net: net, id: net.newID("endpoint")}
}

// Endpoint returns another negotiator on the same network with its own identity.
func (m *Memory) Endpoint() *Memory {
	return &Memory{net: m.net, id: m.net.newID("endpoint")}
}

func (n *memoryNet) newID(kind string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	return kind + "-" + strconv.Itoa(n.next)
}

func (m *Memory) Invite(ctx context.Context) (protocol.SessionDescription, error) {
	return protocol.SessionDescription{Type: "offer", SDP: memoryScheme + "invite:" + m.id}, nil
}

func (m *Memory) Offer(ctx context.Context, invitation protocol.SessionDescription) (Offering, error) {
	host, ok := strings.CutPrefix(invitation.SDP, memoryScheme+"invite:")
	if invitation.Type != "offer" || !ok || host == "" {
		return nil, fmt.Errorf("%w: not an invitation", ErrUnexpectedSDP)
	}

	o := &memoryOffering{
		net:     m.net,
		token:   m.net.newID("offer"),
		pinned:  host,
		channel: &memoryChannel{pipe: newPipe()},
	}

	m.net.mu.Lock()
	m.net.pending[o.token] = o
	m.net.mu.Unlock()

	return o, nil
}

func (m *Memory) Answer(ctx context.Context, remote protocol.SessionDescription) (Negotiation, error) {
	token, ok := strings.CutPrefix(remote.SDP, memoryScheme+"offer:")
	if remote.Type != "offer" || !ok {
		return nil, fmt.Errorf("%w: not a peer offer", ErrUnexpectedSDP)
	}

	m.net.mu.Lock()
	o, ok := m.net.pending[token]
	m.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown offer %q", ErrUnexpectedSDP, token)
	}

	a := &memoryAnswer{
		local:   protocol.SessionDescription{Type: "answer", SDP: memoryScheme + "answer:" + m.id + ":" + token},
		channel: &memoryChannel{pipe: newPipe()},
	}

	o.mu.Lock()
	o.answers = append(o.answers, a)
	o.mu.Unlock()

	return a, nil
}

type memoryOffering struct {
	net     *memoryNet
	token   string
	pinned  string
	channel *memoryChannel

	mu      sync.Mutex
	answers []*memoryAnswer
}

func (o *memoryOffering) Local() protocol.SessionDescription {
	return protocol.SessionDescription{Type: "offer", SDP: memoryScheme + "offer:" + o.token}
}

func (o *memoryOffering) Complete(remote protocol.SessionDescription) error {
	rest, ok := strings.CutPrefix(remote.SDP, memoryScheme+"answer:")
	host, token, found := strings.Cut(rest, ":")
	if remote.Type != "answer" || !ok || !found {
		return fmt.Errorf("%w: not an answer", ErrUnexpectedSDP)
	}
	if host != o.pinned {
		return ErrFingerprintMismatch
	}
	if token != o.token {
		return fmt.Errorf("%w: answer for another offer", ErrUnexpectedSDP)
	}

	o.mu.Lock()
	var answer *memoryAnswer
	for _, a := range o.answers {
		if a.local.SDP == remote.SDP {
			answer = a
		}
	}
	o.mu.Unlock()
	if answer == nil {
		return fmt.Errorf("%w: answer was never issued", ErrUnexpectedSDP)
	}

	o.net.mu.Lock()
	delete(o.net.pending, o.token)
	o.net.mu.Unlock()

	link(o.channel, answer.channel)

	return nil
}

func (o *memoryOffering) Await(ctx context.Context) (Channel, error) {
	if err := o.channel.awaitOpen(ctx); err != nil {
		return nil, err
	}
	return o.channel, nil
}

func (o *memoryOffering) Close() error {
	o.net.mu.Lock()
	delete(o.net.pending, o.token)
	o.net.mu.Unlock()

	return o.channel.Close()
}

type memoryAnswer struct {
	local   protocol.SessionDescription
	channel *memoryChannel
}

func (a *memoryAnswer) Local() protocol.SessionDescription {
	return a.local
}

func (a *memoryAnswer) Await(ctx context.Context) (Channel, error) {
	if err := a.channel.awaitOpen(ctx); err != nil {
		return nil, err
	}
	return a.channel, nil
}

func (a *memoryAnswer) Close() error {
	return a.channel.Close()
}

type memoryChannel struct {
	*pipe

	mu   sync.Mutex
	peer *memoryChannel
}

// Pipe returns two connected, already open channels.
func Pipe() (Channel, Channel) {
	a := &memoryChannel{pipe: newPipe()}
	b := &memoryChannel{pipe: newPipe()}
	link(a, b)
	return a, b
}

func link(a, b *memoryChannel) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()

	a.markOpen()
	b.markOpen()
}

func (c *memoryChannel) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer == nil || !c.Open() {
		return ErrNotOpen
	}

	peer.deliver(append([]byte(nil), data...))

	return nil
}

func (c *memoryChannel) Close() error {
	if !c.markClosed() {
		return nil
	}

	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.Close()
	}

	return nil
}
