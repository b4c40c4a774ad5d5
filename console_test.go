/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/aliasbox/game"
)

func TestConsoleDispatch(t *testing.T) {
	defer func(d time.Duration) { submitTimeout = d }(submitTimeout)
	submitTimeout = 10 * time.Millisecond

	cfg := &Config{}
	var out bytes.Buffer
	var calls [][]string

	commands := map[string]command{
		"assign": {usage: "assign <participant> <team>", args: 2, run: func(_ context.Context, args []string) error {
			calls = append(calls, args)
			return nil
		}},
		"start": {usage: "start", run: func(context.Context, []string) error {
			return game.ErrUnassignedParticipants
		}},
	}

	relay := newManualRelay(cfg, io.Discard, nil)
	c := newConsole(cfg, &out, relay, commands)

	input := strings.Join([]string{
		"",
		"ASSIGN Ann Team A",
		"assign Ann",
		"dance",
		"start",
		`{"type":"offer","sdp":"v=0"}`,
		"help",
	}, "\n")

	if err := c.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(calls) != 1 || !slices.Equal(calls[0], []string{"Ann", "Team", "A"}) {
		t.Errorf("assign called with %q", calls)
	}

	got := out.String()
	for _, want := range []string{
		"usage: assign <participant> <team>",
		`unknown command "dance"`,
		"start: " + game.ErrUnassignedParticipants.Error(),
		"relay: " + ErrRelayIdle.Error(),
		"  help\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsoleHandsPayloadsToRelay(t *testing.T) {
	cfg := &Config{}
	relay := newManualRelay(cfg, io.Discard, nil)
	c := newConsole(cfg, io.Discard, relay, map[string]command{})

	received := make(chan []byte, 1)
	go func() {
		data, _ := relay.Await(context.Background())
		received <- data
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, feed := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, in) }()

	io.WriteString(feed, "  z:eNqrVg==  \n")

	select {
	case got := <-received:
		if string(got) != "z:eNqrVg==" {
			t.Errorf("relay got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("payload never reached the relay")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run returned %v", err)
	}
	feed.Close()
}

func lobby(t *testing.T) *game.Session {
	t.Helper()

	s, err := game.NewSession("0", "Host", []string{"Red", "Blue"}, game.DefaultSettings, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	s.Participants["p_ann"] = &game.Participant{ID: "p_ann", DisplayName: "Ann", Connected: true}
	s.Participants["p_bob"] = &game.Participant{ID: "p_bob", DisplayName: "Bob", Connected: false}
	s.Participants["p_bo"] = &game.Participant{ID: "p_bo", DisplayName: "bob", Connected: true}

	return s
}

func TestFindParticipant(t *testing.T) {
	s := lobby(t)

	tests := []struct {
		query string
		want  string
		err   error
	}{
		{"p_ann", "p_ann", nil},
		{"ann", "p_ann", nil},
		{"0", "0", nil},
		{"BOB", "", ErrAmbiguous},
		{"Cat", "", ErrNoSuchParticipant},
	}

	for _, tt := range tests {
		got, err := findParticipant(s, tt.query)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("findParticipant(%q) = %q, %v, want %q, %v", tt.query, got, err, tt.want, tt.err)
		}
	}
}

func TestFindTeam(t *testing.T) {
	s := lobby(t)

	tests := []struct {
		query string
		want  string
		err   error
	}{
		{"team-2", "team-2", nil},
		{"red", "team-1", nil},
		{"2", "team-2", nil},
		{"3", "", ErrNoSuchTeam},
		{"Green", "", ErrNoSuchTeam},
	}

	for _, tt := range tests {
		got, err := findTeam(s, tt.query)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("findTeam(%q) = %q, %v, want %q, %v", tt.query, got, err, tt.want, tt.err)
		}
	}
}

func TestDescribe(t *testing.T) {
	s := lobby(t)
	s.Teams["team-1"].MemberOrder = []string{"0", "p_ann"}
	s.Participants["0"].TeamID = "team-1"
	s.Participants["p_ann"].TeamID = "team-1"

	got := describe(s, "p_ann", time.Unix(0, 0))
	for _, want := range []string{
		"lobby, first to 20 points, 1m0s turns",
		"1. Red: 0",
		"Ann (p_ann) [you]",
		"Host (0) [host]",
		"unassigned:",
		"Bob (p_bob) [disconnected]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("lobby output missing %q:\n%s", want, got)
		}
	}

	started := time.Unix(100, 0)
	s.Phase = game.PhasePlaying
	s.TurnPhase = game.TurnActive
	s.TurnCount = 1
	s.Turn = &game.Turn{Seq: 1, TeamID: "team-1", ParticipantID: "p_ann", Word: "lamp", Points: 2, StartedAt: started}

	got = describe(s, "p_ann", started.Add(15*time.Second))
	if !strings.Contains(got, "Ann for Red, active, 45s left, 2 this turn") {
		t.Errorf("turn line missing:\n%s", got)
	}
	if !strings.Contains(got, "your word: lamp") {
		t.Errorf("holder does not see the word:\n%s", got)
	}

	if got := describe(s, "0", started); strings.Contains(got, "lamp") {
		t.Errorf("word leaked to another player:\n%s", got)
	}

	if got := describe(s, "p_ann", started.Add(time.Hour)); !strings.Contains(got, "0s left") {
		t.Errorf("expired countdown not clamped:\n%s", got)
	}
}
