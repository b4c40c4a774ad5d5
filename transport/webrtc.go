/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/Seednode/aliasbox/protocol"
	"github.com/pion/webrtc/v3"
)

// DefaultSTUNServers is used when no servers are configured.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Option configures a WebRTC negotiator.
type Option func(*WebRTC)

// WithSTUNServers replaces the default STUN servers. Passing none disables
// server reflexive candidates, which is enough on a single LAN.
func WithSTUNServers(servers ...string) Option {
	return func(w *WebRTC) {
		w.stunServers = servers
	}
}

func WithLogf(logf func(format string, args ...any)) Option {
	return func(w *WebRTC) {
		if logf != nil {
			w.logf = logf
		}
	}
}

// WebRTC negotiates data channels with pion. Every negotiation gets its own
// PeerConnection; all of them share one DTLS certificate so that joining
// peers can pin the host's identity from the invitation.
type WebRTC struct {
	stunServers []string
	certificate webrtc.Certificate
	logf        func(format string, args ...any)
}

func NewWebRTC(opts ...Option) (*WebRTC, error) {
	w := &WebRTC{
		stunServers: DefaultSTUNServers,
		logf:        func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(w)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate dtls certificate: %w", err)
	}
	w.certificate = *cert

	return w, nil
}

func (w *WebRTC) configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{
		Certificates: []webrtc.Certificate{w.certificate},
	}
	if len(w.stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: w.stunServers}}
	}
	return cfg
}

// Invite creates an offer on a throwaway connection. Only its certificate
// fingerprint matters to the peers that scan it, so no candidates are gathered.
func (w *WebRTC) Invite(ctx context.Context) (protocol.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(w.configuration())
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create bootstrap connection: %w", err)
	}
	defer pc.Close()

	if _, err := pc.CreateDataChannel(Label, nil); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create bootstrap channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create invitation: %w", err)
	}

	return fromPion(offer), nil
}

// Offer is run by a joining peer. It opens the game data channel itself and
// pins the fingerprint found in the invitation.
func (w *WebRTC) Offer(ctx context.Context, invitation protocol.SessionDescription) (Offering, error) {
	if invitation.Type != webrtc.SDPTypeOffer.String() {
		return nil, fmt.Errorf("%w: invitation of type %q", ErrUnexpectedSDP, invitation.Type)
	}
	pinned, err := fingerprint(invitation)
	if err != nil {
		return nil, err
	}

	n, err := w.newNegotiation()
	if err != nil {
		return nil, err
	}
	n.pinned = pinned

	dc, err := n.pc.CreateDataChannel(Label, nil)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	n.attach(dc)

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := n.setLocal(ctx, offer); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// Answer is run by the host for each relayed peer offer.
func (w *WebRTC) Answer(ctx context.Context, remote protocol.SessionDescription) (Negotiation, error) {
	if remote.Type != webrtc.SDPTypeOffer.String() {
		return nil, fmt.Errorf("%w: expected an offer, got %q", ErrUnexpectedSDP, remote.Type)
	}

	n, err := w.newNegotiation()
	if err != nil {
		return nil, err
	}

	n.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != Label {
			w.logf("SIGNAL: ignoring unexpected data channel %q", dc.Label())
			return
		}
		n.attach(dc)
	})

	if err := n.pc.SetRemoteDescription(toPion(remote)); err != nil {
		n.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedSDP, err)
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := n.setLocal(ctx, answer); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func (w *WebRTC) newNegotiation() (*negotiation, error) {
	pc, err := webrtc.NewPeerConnection(w.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	n := &negotiation{
		pc:   pc,
		pipe: newPipe(),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.logf("SIGNAL: connection state %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.Close()
		}
	})

	return n, nil
}

type negotiation struct {
	*pipe

	pc     *webrtc.PeerConnection
	local  protocol.SessionDescription
	pinned string

	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (n *negotiation) attach(dc *webrtc.DataChannel) {
	n.mu.Lock()
	if n.dc != nil {
		n.mu.Unlock()
		return
	}
	n.dc = dc
	n.mu.Unlock()

	dc.OnOpen(n.markOpen)
	dc.OnClose(func() { n.Close() })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		n.deliver(msg.Data)
	})
}

// setLocal applies desc and waits for ICE gathering to finish so the
// published description carries every candidate.
func (n *negotiation) setLocal(ctx context.Context, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(n.pc)

	if err := n.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.local = fromPion(*n.pc.LocalDescription())

	return nil
}

func (n *negotiation) Local() protocol.SessionDescription {
	return n.local
}

func (n *negotiation) Complete(remote protocol.SessionDescription) error {
	if remote.Type != webrtc.SDPTypeAnswer.String() {
		return fmt.Errorf("%w: expected an answer, got %q", ErrUnexpectedSDP, remote.Type)
	}

	got, err := fingerprint(remote)
	if err != nil {
		return err
	}
	if got != n.pinned {
		return ErrFingerprintMismatch
	}

	if err := n.pc.SetRemoteDescription(toPion(remote)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedSDP, err)
	}

	return nil
}

func (n *negotiation) Await(ctx context.Context) (Channel, error) {
	if err := n.awaitOpen(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *negotiation) Send(data []byte) error {
	n.mu.Lock()
	dc := n.dc
	n.mu.Unlock()

	select {
	case <-n.closed:
		return ErrClosed
	default:
	}
	if !n.Open() || dc == nil {
		return ErrNotOpen
	}

	return dc.SendText(string(data))
}

func (n *negotiation) Close() error {
	if !n.markClosed() {
		return nil
	}

	n.mu.Lock()
	dc := n.dc
	n.mu.Unlock()

	if dc != nil {
		dc.Close()
	}

	return n.pc.Close()
}

// fingerprint returns the normalised DTLS certificate fingerprint of desc,
// looking at session level first and then at each media section.
func fingerprint(desc protocol.SessionDescription) (string, error) {
	pd := toPion(desc)
	parsed, err := pd.Unmarshal()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnexpectedSDP, err)
	}

	value, ok := parsed.Attribute("fingerprint")
	if !ok {
		for _, media := range parsed.MediaDescriptions {
			if value, ok = media.Attribute("fingerprint"); ok {
				break
			}
		}
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: no certificate fingerprint", ErrUnexpectedSDP)
	}

	return strings.ToLower(strings.Join(strings.Fields(value), " ")), nil
}

func fromPion(desc webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

func toPion(desc protocol.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}
