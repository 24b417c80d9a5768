package rcon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
)

type fakeConsole struct {
	commands []string
	failOn   string
	closed   bool
}

func (f *fakeConsole) Execute(cmd string) (string, error) {
	if f.failOn != "" && strings.HasPrefix(cmd, f.failOn) {
		return "", errors.New("connection reset")
	}
	f.commands = append(f.commands, cmd)
	return "ok", nil
}

func (f *fakeConsole) Close() error {
	f.closed = true
	return nil
}

func fakeDial(console *fakeConsole, dialErr error) DialFunc {
	return func(_, _ string, _ time.Duration) (Console, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return console, nil
	}
}

func TestApplyCommandOrder(t *testing.T) {
	console := &fakeConsole{}
	c := NewConfigurator(WithDialFunc(fakeDial(console, nil)))

	err := c.Apply(context.Background(), "203.0.113.9:27015", "scrim.rcon.x", Settings{
		MatchPassword: "scrim.abc12345",
		FirstMap:      "cp_process_f12",
		ConfigName:    "rgl_6s_5cp_scrim",
		Hostname:      "scrim vs froyotech",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []string{
		"exec rgl_6s_5cp_scrim",
		`sv_password "scrim.abc12345"`,
		`hostname "scrim vs froyotech"`,
		"changelevel cp_process_f12",
	}
	if len(console.commands) != len(want) {
		t.Fatalf("commands = %v, want %v", console.commands, want)
	}
	for i, cmd := range want {
		if console.commands[i] != cmd {
			t.Errorf("command[%d] = %q, want %q", i, console.commands[i], cmd)
		}
	}
	if !console.closed {
		t.Error("console not closed")
	}
}

func TestApplySkipsEmptySettings(t *testing.T) {
	console := &fakeConsole{}
	c := NewConfigurator(WithDialFunc(fakeDial(console, nil)))

	if err := c.Apply(context.Background(), "a:1", "p", Settings{MatchPassword: "pw"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(console.commands) != 1 || !strings.HasPrefix(console.commands[0], "sv_password") {
		t.Fatalf("commands = %v, want only sv_password", console.commands)
	}
}

func TestApplyDialFailure(t *testing.T) {
	c := NewConfigurator(WithDialFunc(fakeDial(nil, errors.New("no route to host"))))

	err := c.Apply(context.Background(), "a:1", "p", Settings{MatchPassword: "pw"})
	if !errors.Is(err, domain.ErrConfigurationFailed) {
		t.Fatalf("err = %v, want ErrConfigurationFailed", err)
	}
}

func TestApplyCommandFailureOmitsSecrets(t *testing.T) {
	console := &fakeConsole{failOn: "sv_password"}
	c := NewConfigurator(WithDialFunc(fakeDial(console, nil)))

	err := c.Apply(context.Background(), "a:1", "p", Settings{MatchPassword: "scrim.topsecret"})
	if !errors.Is(err, domain.ErrConfigurationFailed) {
		t.Fatalf("err = %v, want ErrConfigurationFailed", err)
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Fatalf("error leaks password: %v", err)
	}
	if !console.closed {
		t.Error("console not closed after failure")
	}
}

func TestApplyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewConfigurator(WithDialFunc(fakeDial(&fakeConsole{}, nil)))
	err := c.Apply(ctx, "a:1", "p", Settings{MatchPassword: "pw"})
	if !errors.Is(err, domain.ErrConfigurationFailed) {
		t.Fatalf("err = %v, want ErrConfigurationFailed", err)
	}
}
