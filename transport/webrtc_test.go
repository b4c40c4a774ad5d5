/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Seednode/aliasbox/protocol"
)

func TestFingerprint(t *testing.T) {
	desc := protocol.SessionDescription{
		Type: "offer",
		SDP: "v=0\r\n" +
			"o=- 1 2 IN IP4 127.0.0.1\r\n" +
			"s=-\r\n" +
			"t=0 0\r\n" +
			"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"a=fingerprint:sha-256 AB:CD:EF\r\n",
	}

	got, err := fingerprint(desc)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if want := "sha-256 ab:cd:ef"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	desc.SDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	if _, err := fingerprint(desc); !errors.Is(err, ErrUnexpectedSDP) {
		t.Errorf("got %v, want %v", err, ErrUnexpectedSDP)
	}
}

func TestWebRTCPinsHostCertificate(t *testing.T) {
	if testing.Short() {
		t.Skip("creates peer connections")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host, err := NewWebRTC(WithSTUNServers())
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewWebRTC(WithSTUNServers())
	if err != nil {
		t.Fatal(err)
	}
	peer, err := NewWebRTC(WithSTUNServers())
	if err != nil {
		t.Fatal(err)
	}

	invitation, err := host.Invite(ctx)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	offering, err := peer.Offer(ctx, invitation)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	defer offering.Close()

	if offering.Local().Type != "offer" {
		t.Errorf("peer description type %q, want offer", offering.Local().Type)
	}

	forged, err := other.Answer(ctx, offering.Local())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	defer forged.Close()

	if err := offering.Complete(forged.Local()); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("got %v, want %v", err, ErrFingerprintMismatch)
	}

	answer, err := host.Answer(ctx, offering.Local())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	defer answer.Close()

	if err := offering.Complete(answer.Local()); err != nil {
		t.Errorf("Complete with the invited host: %v", err)
	}
}

func TestWebRTCRejectsWrongTypes(t *testing.T) {
	w, err := NewWebRTC(WithSTUNServers())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := w.Offer(ctx, protocol.SessionDescription{Type: "answer", SDP: "v=0"}); !errors.Is(err, ErrUnexpectedSDP) {
		t.Errorf("Offer: got %v, want %v", err, ErrUnexpectedSDP)
	}
	if _, err := w.Answer(ctx, protocol.SessionDescription{Type: "answer", SDP: "v=0"}); !errors.Is(err, ErrUnexpectedSDP) {
		t.Errorf("Answer: got %v, want %v", err, ErrUnexpectedSDP)
	}
}
