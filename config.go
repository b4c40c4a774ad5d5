/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Seednode/aliasbox/game"
	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/signaling"
	"github.com/Seednode/aliasbox/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	channelTimeout time.Duration
	compact        bool
	port           int
	prefix         string
	profile        bool
	stun           []string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	name string

	// host only
	teams        []string
	winningScore int
	roundTime    time.Duration
	words        string

	// join only
	id string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 0 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 0-65535 inclusive): %d", c.port)
	}
	if c.channelTimeout <= 0 {
		return fmt.Errorf("invalid channel timeout (must be positive): %s", c.channelTimeout)
	}
	return nil
}

func (c *Config) validateHost() error {
	if err := c.validate(); err != nil {
		return err
	}
	if len(c.teams) == 0 {
		return errors.New("at least one --team is required")
	}

	seen := make(map[string]bool, len(c.teams))
	for _, name := range c.teams {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return errors.New("team names must not be empty")
		}
		if seen[key] {
			return fmt.Errorf("duplicate team name: %q", name)
		}
		seen[key] = true
	}

	if c.winningScore < 1 {
		return fmt.Errorf("invalid winning score (must be at least 1): %d", c.winningScore)
	}
	if c.roundTime < time.Second {
		return fmt.Errorf("invalid round time (must be at least 1s): %s", c.roundTime)
	}
	if c.roundTime%time.Second != 0 {
		return fmt.Errorf("invalid round time (must be whole seconds): %s", c.roundTime)
	}
	return nil
}

func (c *Config) validateJoin() error {
	if err := c.validate(); err != nil {
		return err
	}
	if len(c.id) > protocol.MaxIDLength || strings.ContainsFunc(c.id, func(r rune) bool { return r <= ' ' }) {
		return fmt.Errorf("invalid participant id: %q", c.id)
	}
	if c.id == hostID {
		return fmt.Errorf("invalid participant id (reserved for the host): %q", c.id)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) settings() game.Settings {
	return game.Settings{
		WinningScore:     c.winningScore,
		RoundTimeSeconds: int(c.roundTime / time.Second),
	}
}

func loadTimeZone() error {
	timeZone := os.Getenv("TZ")
	if timeZone == "" {
		return nil
	}

	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return err
	}
	time.Local = loc

	return nil
}

func normalize(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// bindEnv fills every flag the user did not set from its ALIASBOX_* variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ALIASBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "aliasbox",
		Short:   "A team word-guessing party game played over direct device-to-device connections.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadTimeZone()
		},
	}

	pfs := cmd.PersistentFlags()
	normalize(pfs)

	pfs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address to bind the local web page to (env: ALIASBOX_BIND)")
	pfs.DurationVar(&cfg.channelTimeout, "channel-timeout", signaling.DefaultChannelTimeout, "time allowed for a connection to open once both sides have answered (env: ALIASBOX_CHANNEL_TIMEOUT)")
	pfs.BoolVar(&cfg.compact, "compact", true, "compress relayed payloads so they fit in a QR code (env: ALIASBOX_COMPACT)")
	pfs.StringVar(&cfg.name, "name", "", "display name shown to the other players (env: ALIASBOX_NAME)")
	pfs.IntVarP(&cfg.port, "port", "p", 8080, "port for the local web page, 0 to disable (env: ALIASBOX_PORT)")
	pfs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: ALIASBOX_PREFIX)")
	pfs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: ALIASBOX_PROFILE)")
	pfs.StringSliceVar(&cfg.stun, "stun", transport.DefaultSTUNServers, "STUN server used to discover public addresses, repeatable (env: ALIASBOX_STUN)")
	pfs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: ALIASBOX_TLS_CERT)")
	pfs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: ALIASBOX_TLS_KEY)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: ALIASBOX_VERBOSE)")

	fs := cmd.Flags()
	normalize(fs)
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: ALIASBOX_VERSION)")

	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "Host a game on this device and invite players.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateHost(); err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	hfs := hostCmd.Flags()
	normalize(hfs)
	hfs.DurationVar(&cfg.roundTime, "round-time", game.DefaultSettings.RoundTime(), "length of each turn's countdown (env: ALIASBOX_ROUND_TIME)")
	hfs.StringSliceVar(&cfg.teams, "team", []string{"Team A", "Team B"}, "team name, repeatable, in turn order (env: ALIASBOX_TEAM)")
	hfs.IntVar(&cfg.winningScore, "winning-score", game.DefaultSettings.WinningScore, "points needed to win (env: ALIASBOX_WINNING_SCORE)")
	hfs.StringVar(&cfg.words, "words", "", "word list file, one word per line (env: ALIASBOX_WORDS)")

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a game hosted on another device.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateJoin(); err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	jfs := joinCmd.Flags()
	normalize(jfs)
	jfs.StringVar(&cfg.id, "id", "", "participant id to join as, generated when empty (env: ALIASBOX_ID)")

	for _, set := range []*pflag.FlagSet{pfs, fs, hfs, jfs} {
		bindEnv(v, set)
	}

	cmd.AddCommand(hostCmd, joinCmd)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("aliasbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
