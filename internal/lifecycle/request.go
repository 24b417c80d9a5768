package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
)

// Request is the closed set of operations the chat layer can ask for.
// The marker method keeps the set sealed to this package; Dispatch is the
// single entry point the command layer calls.
type Request interface {
	lifecycleRequest()
}

// PublishScrim opens a scrim slot.
type PublishScrim struct {
	GuildID   int64
	Timestamp time.Time
	Hosted    bool
	Map1      string
	Map2      string
	Opponent  string
	SignupRef string
}

// MatchScrim confirms an opponent for a published slot.
type MatchScrim struct {
	GuildID        int64
	Timestamp      time.Time
	OpponentUserID int64
	EventRef       string
}

// CreateGame schedules a game directly (official league matches).
type CreateGame struct {
	GuildID        int64
	Timestamp      time.Time
	OpponentUserID int64
	EventRef       string
	RGLMatchID     int64
}

// DecideHost books a server for the game.
type DecideHost struct{ Key domain.GameKey }

// DecideJoin records an opponent-supplied connect command.
type DecideJoin struct {
	Key     domain.GameKey
	Connect string
}

// Configure pushes match settings to the game's server.
type Configure struct{ Key domain.GameKey }

// Complete finishes a configured game.
type Complete struct{ Key domain.GameKey }

// Cancel aborts a non-terminal game.
type Cancel struct{ Key domain.GameKey }

// EditMaps changes a scrim game's maps.
type EditMaps struct {
	Key  domain.GameKey
	Map1 string
	Map2 string
}

// RecordAnnouncement stores the posted announcement's message reference.
type RecordAnnouncement struct {
	Key        domain.GameKey
	MessageRef string
}

func (PublishScrim) lifecycleRequest()       {}
func (MatchScrim) lifecycleRequest()         {}
func (CreateGame) lifecycleRequest()         {}
func (DecideHost) lifecycleRequest()         {}
func (DecideJoin) lifecycleRequest()         {}
func (Configure) lifecycleRequest()          {}
func (Complete) lifecycleRequest()           {}
func (Cancel) lifecycleRequest()             {}
func (EditMaps) lifecycleRequest()           {}
func (RecordAnnouncement) lifecycleRequest() {}

// Dispatch routes a request to its operation. The scrim variant returns a
// *domain.Scrim; every other variant returns the resulting *domain.Game.
func (m *Manager) Dispatch(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case PublishScrim:
		return m.PublishScrim(ctx, r)
	case MatchScrim:
		return m.MatchScrim(ctx, r)
	case CreateGame:
		return m.CreateGame(ctx, r)
	case DecideHost:
		return m.DecideHost(ctx, r.Key)
	case DecideJoin:
		return m.DecideJoin(ctx, r.Key, r.Connect)
	case Configure:
		return m.Configure(ctx, r.Key)
	case Complete:
		return m.Complete(ctx, r.Key)
	case Cancel:
		return m.Cancel(ctx, r.Key)
	case EditMaps:
		return m.EditMaps(ctx, r.Key, r.Map1, r.Map2)
	case RecordAnnouncement:
		return m.RecordAnnouncement(ctx, r.Key, r.MessageRef)
	default:
		return nil, fmt.Errorf("unknown lifecycle request %T", req)
	}
}
