/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
)

var (
	ErrNoSuchParticipant = errors.New("no such participant")
	ErrNoSuchTeam        = errors.New("no such team")
	ErrAmbiguous         = errors.New("more than one match")
)

// lockedWriter keeps relay output and command replies from interleaving.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, args []string) error
}

// console reads stdin. Lines that look like relay payloads go to the relay,
// everything else is a command.
type console struct {
	cfg      *Config
	out      io.Writer
	relay    *manualRelay
	commands map[string]command
}

func newConsole(cfg *Config, out io.Writer, relay *manualRelay, commands map[string]command) *console {
	c := &console{
		cfg:      cfg,
		out:      out,
		relay:    relay,
		commands: commands,
	}
	c.commands["help"] = command{usage: "help", run: c.help}

	return c
}

// run returns nil when in reaches EOF.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), 2*protocol.MaxRelayPayload)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}
			c.handle(ctx, line)
		}
	}
}

func (c *console) handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if protocol.IsRelayPayload(line) {
		if err := c.relay.Submit(ctx, []byte(line)); err != nil {
			fmt.Fprintf(c.out, "relay: %v\n", err)
		}
		return
	}

	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])

	cmd, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q, try help\n", fields[0])
		return
	}
	if len(fields)-1 < cmd.args {
		fmt.Fprintf(c.out, "usage: %s\n", cmd.usage)
		return
	}

	if err := cmd.run(ctx, fields[1:]); err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", name, err)
	}
}

func (c *console) help(context.Context, []string) error {
	usages := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		usages = append(usages, cmd.usage)
	}
	slices.Sort(usages)

	fmt.Fprintf(c.out, "commands:\n  %s\npaste a relayed code on its own line to hand it over\n", strings.Join(usages, "\n  "))

	return nil
}

// findParticipant matches an id exactly, or a display name ignoring case.
func findParticipant(s *game.Session, query string) (string, error) {
	if _, ok := s.Participants[query]; ok {
		return query, nil
	}

	var found []string
	for id, p := range s.Participants {
		if strings.EqualFold(p.DisplayName, query) {
			found = append(found, id)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrNoSuchParticipant, query)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrAmbiguous, query)
	}
}

// findTeam matches a team id, a team name ignoring case, or a 1-based
// position in turn order.
func findTeam(s *game.Session, query string) (string, error) {
	if _, ok := s.Teams[query]; ok {
		return query, nil
	}
	for _, id := range s.TeamOrder {
		if strings.EqualFold(s.Teams[id].Name, query) {
			return id, nil
		}
	}
	if n, err := strconv.Atoi(query); err == nil && n >= 1 && n <= len(s.TeamOrder) {
		return s.TeamOrder[n-1], nil
	}

	return "", fmt.Errorf("%w: %q", ErrNoSuchTeam, query)
}

// describe renders a session for the terminal. The current word is only
// shown to whoever holds the turn.
func describe(s *game.Session, self string, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s, first to %d points, %s turns (version %d)\n",
		s.Phase, s.Settings.WinningScore, s.Settings.RoundTime(), s.Version)

	member := func(id string) {
		p, ok := s.Participants[id]
		if !ok {
			return
		}
		fmt.Fprintf(&b, "    %s (%s)", p.DisplayName, p.ID)
		if id == self {
			b.WriteString(" [you]")
		}
		if id == s.HostID {
			b.WriteString(" [host]")
		}
		if !p.Connected {
			b.WriteString(" [disconnected]")
		}
		b.WriteString("\n")
	}

	for i, id := range s.TeamOrder {
		t := s.Teams[id]
		fmt.Fprintf(&b, "  %d. %s: %d\n", i+1, t.Name, t.Score)
		for _, m := range t.MemberOrder {
			member(m)
		}
	}

	if unassigned := s.Unassigned(); len(unassigned) > 0 {
		b.WriteString("  unassigned:\n")
		for _, id := range unassigned {
			member(id)
		}
	}

	if s.Phase != game.PhasePlaying || s.Turn == nil {
		return b.String()
	}

	team := s.Turn.TeamID
	if t, ok := s.Teams[team]; ok {
		team = t.Name
	}
	fmt.Fprintf(&b, "turn %d: %s for %s, %s", s.TurnCount, s.DisplayName(s.Turn.ParticipantID), team, s.TurnPhase)

	switch s.TurnPhase {
	case game.TurnActive:
		left := max(s.Turn.StartedAt.Add(s.Settings.RoundTime()).Sub(now), 0)
		fmt.Fprintf(&b, ", %s left, %d this turn", left.Round(time.Second), s.Turn.Points)
		if s.Turn.ParticipantID == self {
			fmt.Fprintf(&b, "\nyour word: %s", s.Turn.Word)
		}
	case game.TurnOver:
		fmt.Fprintf(&b, ", scored %d", s.Turn.Points)
	}
	b.WriteString("\n")

	return b.String()
}
