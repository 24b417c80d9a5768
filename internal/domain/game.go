package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// GameFormat is the competitive format a guild plays.
type GameFormat string

const (
	FormatSixes      GameFormat = "sixes"
	FormatHighlander GameFormat = "highlander"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (GameFormat, error) {
	switch GameFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSixes:
		return FormatSixes, nil
	case FormatHighlander:
		return FormatHighlander, nil
	default:
		return "", fmt.Errorf("unknown game format %q", s)
	}
}

// GameState is the lifecycle state of a confirmed match.
type GameState string

const (
	StateUndecided  GameState = "UNDECIDED"
	StateHosted     GameState = "HOSTED"
	StateJoined     GameState = "JOINED"
	StateConfigured GameState = "CONFIGURED"
	StateCompleted  GameState = "COMPLETED"
	StateCancelled  GameState = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s GameState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Guild is one chat community. Created on first registration, mutated by
// admin commands, never deleted.
type Guild struct {
	ID                int64
	RGLTeamID         int64 // 0 = not linked
	Format            GameFormat
	ScheduleChannelID int64
	ServemeKey        string // reservation provider credential, "" = unset
	UpdatedAt         time.Time
}

// Scrim is an open or scheduled slot, keyed by (GuildID, Timestamp).
type Scrim struct {
	GuildID   int64
	Timestamp time.Time
	Format    GameFormat
	Hosted    bool // does this guild intend to host
	Map1      string
	Map2      string
	Opponent  string // free-form opponent label
	SignupRef string // registration artifact, opaque to the core

	// GameTimestamp links the realized game, if any. The reference is
	// one-directional: Game never points back at its Scrim.
	GameTimestamp time.Time

	CreatedAt time.Time
}

// Matched reports whether the scrim already spawned a game.
func (s *Scrim) Matched() bool { return !s.GameTimestamp.IsZero() }

// Game is a confirmed match, keyed by (GuildID, Timestamp).
//
// Optional fields use zero values as "unset": ReservationID and RGLMatchID
// are 0, string fields are empty. Validate enforces the cross-field
// invariants on every store write.
type Game struct {
	GuildID   int64
	Timestamp time.Time
	Format    GameFormat
	State     GameState

	OpponentUserID int64
	EventRef       string // external scheduled-event reference, unique
	MessageRef     string // announce message reference, unique once set

	ReservationID  int64
	ServerAddress  string
	ServerPassword string

	Map1       string
	Map2       string
	RGLMatchID int64

	ResultWinner string
	ResultScore  string

	ConfigAttempts int

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the compound slot key.
func (g *Game) Key() GameKey { return GameKey{GuildID: g.GuildID, Timestamp: g.Timestamp} }

// GameKey identifies a game slot.
type GameKey struct {
	GuildID   int64
	Timestamp time.Time
}

func (k GameKey) String() string {
	return fmt.Sprintf("%d@%s", k.GuildID, k.Timestamp.UTC().Format(time.RFC3339))
}

// Official reports whether the result is tracked by the league.
func (g *Game) Official() bool { return g.RGLMatchID != 0 }

// hasReservation / hasConnect describe the provisioning shape.
func (g *Game) hasReservation() bool { return g.ReservationID != 0 }
func (g *Game) hasConnect() bool     { return g.ServerAddress != "" && g.ServerPassword != "" }

// Validate enforces provisioning exclusivity, kind exclusivity, and
// state/field consistency. The store calls this on every write; a failure
// is ErrInvalidState and indicates a controller bug.
func (g *Game) Validate() error {
	if (g.ServerAddress == "") != (g.ServerPassword == "") {
		return fmt.Errorf("%w: server address and password must be set together", ErrInvalidState)
	}
	if g.hasReservation() && g.hasConnect() {
		return fmt.Errorf("%w: reservation and connect info are mutually exclusive", ErrInvalidState)
	}
	if g.Official() && (g.Map1 != "" || g.Map2 != "") {
		return fmt.Errorf("%w: official match must not carry scrim maps", ErrInvalidState)
	}

	switch g.State {
	case StateUndecided:
		if g.hasReservation() || g.hasConnect() {
			return fmt.Errorf("%w: undecided game must carry no server info", ErrInvalidState)
		}
	case StateHosted:
		if !g.hasReservation() {
			return fmt.Errorf("%w: hosted game requires a reservation id", ErrInvalidState)
		}
	case StateJoined:
		if !g.hasConnect() {
			return fmt.Errorf("%w: joined game requires connect info", ErrInvalidState)
		}
	case StateConfigured:
		if !g.hasReservation() && !g.hasConnect() {
			return fmt.Errorf("%w: configured game requires a server", ErrInvalidState)
		}
	case StateCompleted, StateCancelled:
		// Terminal records keep whatever provisioning history they have.
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidState, g.State)
	}
	return nil
}

// ConnectInfo is the (address, password) pair a player needs to join.
type ConnectInfo struct {
	Address  string
	Password string
}

func (c ConnectInfo) String() string {
	return fmt.Sprintf("connect %s; password \"%s\"", c.Address, c.Password)
}

// ParseConnectInfo parses the in-game connect command form,
// `connect ip:port; password "pw"`, with optional quoting on both parts.
func ParseConnectInfo(s string) (ConnectInfo, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "connect ")
	if !ok {
		return ConnectInfo{}, fmt.Errorf("invalid connect command %q", s)
	}
	addr, rest, ok := strings.Cut(rest, ";")
	if !ok {
		return ConnectInfo{}, fmt.Errorf("invalid connect command %q", s)
	}
	pw, ok := strings.CutPrefix(strings.TrimSpace(rest), "password ")
	if !ok {
		return ConnectInfo{}, fmt.Errorf("invalid connect command %q", s)
	}
	ci := ConnectInfo{
		Address:  unquote(strings.TrimSpace(addr)),
		Password: unquote(strings.TrimSpace(pw)),
	}
	if ci.Address == "" || ci.Password == "" {
		return ConnectInfo{}, fmt.Errorf("invalid connect command %q", s)
	}
	return ci, nil
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// MatchResult is the parsed official result for a league match.
type MatchResult struct {
	MatchID   int64
	Winner    string
	Score     string
	Finalized bool
}

// ReservationWindow returns the booking window around a match timestamp:
// 15 minutes of warmup before, one hour of play plus 15 minutes after.
func ReservationWindow(ts time.Time) (start, end time.Time) {
	return ts.Add(-15 * time.Minute), ts.Add(75 * time.Minute)
}

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randAlnum(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for credential generation
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i := range b {
		b[i] = alnum[int(b[i])%len(alnum)]
	}
	return string(b)
}

// NewMatchPassword generates the join password handed to both teams.
func NewMatchPassword() string { return "scrim." + randAlnum(8) }

// NewRconPassword generates the remote-console credential for a hosted
// reservation.
func NewRconPassword() string { return "scrim.rcon." + randAlnum(32) }
