/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/host"
	"github.com/Seednode/aliasbox/peer"
	"github.com/Seednode/aliasbox/replication"
	"github.com/Seednode/aliasbox/signaling"
	"github.com/Seednode/aliasbox/transport"
)

const hostID = "0"

var ErrNotJoined = errors.New("not connected to a host yet")

func runHost(ctx context.Context, cfg *Config, in io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logf(cfg, "START: aliasbox v%s", releaseVersion)

	words, err := game.LoadWords(cfg.words)
	if err != nil {
		return err
	}
	logf(cfg, "GAMES: Loaded %d words", len(words))

	machine, err := game.NewMachine(words, nil)
	if err != nil {
		return err
	}

	session, err := game.NewSession(hostID, cmp.Or(cfg.name, "Host"), cfg.teams, cfg.settings(), time.Now())
	if err != nil {
		return err
	}

	negotiator, err := transport.NewWebRTC(
		transport.WithSTUNServers(cfg.stun...),
		transport.WithLogf(logger(cfg)),
	)
	if err != nil {
		return err
	}

	out := &lockedWriter{w: stdout}
	obs := newObserver(cfg, hostID)
	defer obs.Close()
	relay := newManualRelay(cfg, out, obs.relayPublished)
	defer relay.Close()

	h := host.New(machine, session, host.Options{
		Logf:  logger(cfg),
		Views: []replication.View{obs},
	})
	engine := signaling.NewHost(negotiator, relay, h.Registry(), signaling.HostOptions{
		Compact:        cfg.compact,
		ChannelTimeout: cfg.channelTimeout,
		Logf:           logger(cfg),
		Reserved:       []string{hostID},
	})

	con := newConsole(cfg, out, relay, hostCommands(h, engine, out))

	errs := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Go(func() { errs <- h.Run(ctx) })
	wg.Go(func() { errs <- engine.Run(ctx) })
	if cfg.port != 0 {
		wg.Go(func() { errs <- ServePage(ctx, cfg, surface{relay: relay, observer: obs}) })
	}

	go func() {
		if err := con.run(ctx, in); err == nil && cfg.port == 0 {
			cancel()
		}
	}()

	fmt.Fprintf(out, "Hosting as %s. Type help for commands.\n", session.DisplayName(hostID))

	err = <-errs
	cancel()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hostCommands(h *host.Host, engine *signaling.Host, out io.Writer) map[string]command {
	do := func(ev game.Event) func(ctx context.Context, args []string) error {
		return func(ctx context.Context, _ []string) error {
			return h.Do(ctx, ev)
		}
	}

	assign := func(ctx context.Context, who, team string) error {
		s, err := h.Snapshot(ctx)
		if err != nil {
			return err
		}
		id, err := findParticipant(s, who)
		if err != nil {
			return err
		}
		if team != "" {
			if team, err = findTeam(s, team); err != nil {
				return err
			}
		}
		return h.Do(ctx, game.AssignTeam(id, team))
	}

	return map[string]command{
		"status": {usage: "status", run: func(ctx context.Context, _ []string) error {
			s, err := h.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(out, describe(s, h.HostID(), time.Now()))
			return nil
		}},
		"assign": {usage: "assign <participant> <team>", args: 2, run: func(ctx context.Context, args []string) error {
			return assign(ctx, args[0], strings.Join(args[1:], " "))
		}},
		"unassign": {usage: "unassign <participant>", args: 1, run: func(ctx context.Context, args []string) error {
			return assign(ctx, strings.Join(args, " "), "")
		}},
		"evict": {usage: "evict <participant>", args: 1, run: func(ctx context.Context, args []string) error {
			s, err := h.Snapshot(ctx)
			if err != nil {
				return err
			}
			id, err := findParticipant(s, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return h.Do(ctx, game.Evict(id))
		}},
		"settings": {usage: "settings <winning score> <round seconds>", args: 2, run: func(ctx context.Context, args []string) error {
			score, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			seconds, err := strconv.Atoi(strings.TrimSuffix(args[1], "s"))
			if err != nil {
				return err
			}
			return h.Do(ctx, game.Configure(game.Settings{WinningScore: score, RoundTimeSeconds: seconds}))
		}},
		"start":   {usage: "start", run: do(game.Start())},
		"next":    {usage: "next", run: do(game.NextTurn())},
		"restart": {usage: "restart", run: do(game.Restart())},
		"flip": {usage: "flip", run: func(ctx context.Context, _ []string) error {
			return h.FlipCard(ctx)
		}},
		"correct": {usage: "correct", run: func(ctx context.Context, _ []string) error {
			return h.Act(ctx, game.ActionCorrect)
		}},
		"skip": {usage: "skip", run: func(ctx context.Context, _ []string) error {
			return h.Act(ctx, game.ActionSkip)
		}},
		"invite": {usage: "invite", run: func(ctx context.Context, _ []string) error {
			return engine.Invite(ctx)
		}},
	}
}

// joined holds the client once the handshake has produced a channel.
type joined struct {
	mu     sync.Mutex
	client *peer.Client
}

func (j *joined) set(c *peer.Client) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.client = c
}

func (j *joined) get() (*peer.Client, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.client == nil {
		return nil, ErrNotJoined
	}
	return j.client, nil
}

func peerCommands(state *joined, out io.Writer) map[string]command {
	call := func(f func(c *peer.Client) error) func(context.Context, []string) error {
		return func(context.Context, []string) error {
			c, err := state.get()
			if err != nil {
				return err
			}
			return f(c)
		}
	}

	return map[string]command{
		"status": {usage: "status", run: call(func(c *peer.Client) error {
			s := c.Session()
			if s == nil {
				fmt.Fprintln(out, "connected, waiting for the first update from the host")
				return nil
			}
			fmt.Fprint(out, describe(s, c.ID(), time.Now()))
			return nil
		})},
		"flip":    {usage: "flip", run: call((*peer.Client).FlipCard)},
		"correct": {usage: "correct", run: call((*peer.Client).Correct)},
		"skip":    {usage: "skip", run: call((*peer.Client).Skip)},
	}
}

func runJoin(ctx context.Context, cfg *Config, in io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logf(cfg, "START: aliasbox v%s", releaseVersion)

	negotiator, err := transport.NewWebRTC(
		transport.WithSTUNServers(cfg.stun...),
		transport.WithLogf(logger(cfg)),
	)
	if err != nil {
		return err
	}

	id := cmp.Or(cfg.id, signaling.NewParticipantID())
	name := cmp.Or(cfg.name, "Player")

	out := &lockedWriter{w: stdout}
	obs := newObserver(cfg, id)
	defer obs.Close()
	relay := newManualRelay(cfg, out, obs.relayPublished)
	defer relay.Close()

	engine := signaling.NewPeer(negotiator, relay, signaling.PeerOptions{
		ParticipantID:  id,
		Compact:        cfg.compact,
		ChannelTimeout: cfg.channelTimeout,
		Logf:           logger(cfg),
	})

	state := &joined{}
	con := newConsole(cfg, out, relay, peerCommands(state, out))

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if cfg.port != 0 {
		wg.Go(func() {
			if err := ServePage(ctx, cfg, surface{relay: relay, observer: obs}); err != nil {
				fmt.Fprintf(out, "web page: %v\n", err)
			}
		})
	}

	go func() {
		if err := con.run(ctx, in); err == nil && cfg.port == 0 {
			cancel()
		}
	}()

	fmt.Fprintf(out, "Joining as %s (%s). Scan or paste the host's invitation.\n", name, id)

	ch, err := engine.Join(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	client := peer.New(id, ch, peer.Options{
		DisplayName: name,
		Logf:        logger(cfg),
		Views:       []replication.View{obs},
	})
	state.set(client)

	fmt.Fprintln(out, "Connected to the host. Type help for commands.")

	err = client.Run(ctx)
	cancel()

	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, peer.ErrHostLost):
		fmt.Fprintln(out, "The host went away, the game is over.")
	}

	return err
}
