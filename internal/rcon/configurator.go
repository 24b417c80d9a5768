// Package rcon pushes match settings onto a live game server over the
// remote console protocol. Commands are idempotent, so a re-run after a
// partial failure is always safe.
package rcon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorcon/rcon"
	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

// Console is one authenticated remote-console session.
type Console interface {
	Execute(command string) (string, error)
	Close() error
}

// DialFunc opens a console session. Production uses gorcon; tests swap in
// a fake.
type DialFunc func(address, password string, timeout time.Duration) (Console, error)

func gorconDial(address, password string, timeout time.Duration) (Console, error) {
	return rcon.Dial(address, password,
		rcon.SetDialTimeout(timeout),
		rcon.SetDeadline(timeout),
	)
}

// Settings is everything a game needs pushed to its server.
type Settings struct {
	MatchPassword string
	FirstMap      string
	ConfigName    string
	Hostname      string
}

type Configurator struct {
	dial    DialFunc
	timeout time.Duration
}

type Option func(*Configurator)

func WithDialFunc(dial DialFunc) Option {
	return func(c *Configurator) { c.dial = dial }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Configurator) { c.timeout = d }
}

func NewConfigurator(opts ...Option) *Configurator {
	c := &Configurator{
		dial:    gorconDial,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply connects to the server and pushes the settings in order: exec the
// league config, set the join password, rename the server, then change
// map last so everything is in place when the level loads. Any failure
// returns domain.ErrConfigurationFailed; the caller decides retry policy.
func (c *Configurator) Apply(ctx context.Context, address, rconPassword string, s Settings) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigurationFailed, err)
	}

	conn, err := c.dial(address, rconPassword, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrConfigurationFailed, address, err)
	}
	defer conn.Close()

	for _, cmd := range buildCommands(s) {
		out, err := conn.Execute(cmd)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", domain.ErrConfigurationFailed, commandName(cmd), err)
		}
		obslog.L().Debug("rcon_command_applied",
			zap.String("address", address),
			zap.String("command", commandName(cmd)),
			zap.Int("response_len", len(out)))
	}
	return nil
}

func buildCommands(s Settings) []string {
	cmds := make([]string, 0, 4)
	if s.ConfigName != "" {
		cmds = append(cmds, "exec "+s.ConfigName)
	}
	if s.MatchPassword != "" {
		cmds = append(cmds, fmt.Sprintf("sv_password %q", s.MatchPassword))
	}
	if s.Hostname != "" {
		cmds = append(cmds, fmt.Sprintf("hostname %q", s.Hostname))
	}
	if s.FirstMap != "" {
		cmds = append(cmds, "changelevel "+s.FirstMap)
	}
	return cmds
}

// commandName strips arguments so passwords never reach the logs.
func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}
