package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func baseGame(state GameState) *Game {
	return &Game{
		GuildID:        42,
		Timestamp:      time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
		Format:         FormatSixes,
		State:          state,
		OpponentUserID: 7,
		EventRef:       "evt-1",
	}
}

func TestValidateProvisioningExclusivity(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Game)
		wantErr bool
	}{
		{"undecided clean", func(g *Game) {}, false},
		{"hosted with reservation", func(g *Game) {
			g.State = StateHosted
			g.ReservationID = 101
		}, false},
		{"joined with connect", func(g *Game) {
			g.State = StateJoined
			g.ServerAddress = "10.0.0.5:27015"
			g.ServerPassword = "abc123"
		}, false},
		{"reservation and connect together", func(g *Game) {
			g.State = StateHosted
			g.ReservationID = 101
			g.ServerAddress = "10.0.0.5:27015"
			g.ServerPassword = "abc123"
		}, true},
		{"address without password", func(g *Game) {
			g.State = StateJoined
			g.ServerAddress = "10.0.0.5:27015"
		}, true},
		{"password without address", func(g *Game) {
			g.State = StateJoined
			g.ServerPassword = "abc123"
		}, true},
		{"undecided with reservation", func(g *Game) {
			g.ReservationID = 101
		}, true},
		{"hosted without reservation", func(g *Game) {
			g.State = StateHosted
		}, true},
		{"configured without server", func(g *Game) {
			g.State = StateConfigured
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := baseGame(StateUndecided)
			tc.mutate(g)
			err := g.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateKindExclusivity(t *testing.T) {
	g := baseGame(StateUndecided)
	g.Map1 = "cp_process_f12"
	if err := g.Validate(); err != nil {
		t.Fatalf("scrim with maps should be valid: %v", err)
	}

	g.RGLMatchID = 555
	if err := g.Validate(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("official match with maps must be invalid, got %v", err)
	}

	g.Map1 = ""
	if err := g.Validate(); err != nil {
		t.Fatalf("official match without maps should be valid: %v", err)
	}
}

func TestParseConnectInfo(t *testing.T) {
	cases := []struct {
		in   string
		want ConnectInfo
		ok   bool
	}{
		{`connect 10.0.0.5:27015; password "abc123"`, ConnectInfo{"10.0.0.5:27015", "abc123"}, true},
		{`connect "chi1.serveme.tf:27075"; password scrim.x1`, ConnectInfo{"chi1.serveme.tf:27075", "scrim.x1"}, true},
		{`  connect 1.2.3.4:5;password "p"  `, ConnectInfo{"1.2.3.4:5", "p"}, true},
		{`1.2.3.4:5 password p`, ConnectInfo{}, false},
		{`connect 1.2.3.4:5`, ConnectInfo{}, false},
		{`connect ; password "p"`, ConnectInfo{}, false},
	}
	for _, tc := range cases {
		got, err := ParseConnectInfo(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseConnectInfo(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseConnectInfo(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		} else if err == nil {
			t.Fatalf("ParseConnectInfo(%q): expected error, got %+v", tc.in, got)
		}
	}
}

func TestReservationWindow(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	start, end := ReservationWindow(ts)
	if got := ts.Sub(start); got != 15*time.Minute {
		t.Fatalf("warmup lead = %v", got)
	}
	if got := end.Sub(ts); got != 75*time.Minute {
		t.Fatalf("window tail = %v", got)
	}
}

func TestGeneratedPasswords(t *testing.T) {
	pw := NewMatchPassword()
	if !strings.HasPrefix(pw, "scrim.") || len(pw) != len("scrim.")+8 {
		t.Fatalf("unexpected match password %q", pw)
	}
	rc := NewRconPassword()
	if !strings.HasPrefix(rc, "scrim.rcon.") || len(rc) != len("scrim.rcon.")+32 {
		t.Fatalf("unexpected rcon password %q", rc)
	}
	if NewMatchPassword() == pw {
		t.Fatalf("passwords must not repeat")
	}
}
