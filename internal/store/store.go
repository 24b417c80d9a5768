package store

import (
	"context"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
)

// Store is the single writer of persisted scheduling state. All writes for
// one game key are serialized through TransitionGame's compare-and-set
// discipline; other components never cache authoritative state.
type Store interface {
	UpsertGuild(ctx context.Context, guild *domain.Guild) error
	GetGuild(ctx context.Context, id int64) (*domain.Guild, error)

	CreateScrim(ctx context.Context, scrim *domain.Scrim) error
	GetScrim(ctx context.Context, key domain.GameKey) (*domain.Scrim, error)
	// ListUnmatchedScrimsBefore returns open scrims whose timestamp passed
	// before cutoff without spawning a game.
	ListUnmatchedScrimsBefore(ctx context.Context, cutoff time.Time) ([]*domain.Scrim, error)
	// LinkScrimGame records the one-directional reference from a scrim to
	// the game it spawned.
	LinkScrimGame(ctx context.Context, key domain.GameKey, gameTS time.Time) error
	DeleteScrim(ctx context.Context, key domain.GameKey) error

	// CreateGame inserts a new game. A taken (guild, timestamp) slot is
	// ErrDuplicateSlot; no partial record becomes visible.
	CreateGame(ctx context.Context, game *domain.Game) error
	GetGame(ctx context.Context, key domain.GameKey) (*domain.Game, error)
	// TransitionGame reads the current record, applies mutate to a copy,
	// validates it, and writes it back only if the record is unchanged
	// since the read (ErrConflict otherwise). Invariant violations are
	// ErrInvalidState and are never written.
	TransitionGame(ctx context.Context, key domain.GameKey, mutate func(*domain.Game) error) (*domain.Game, error)
	FindGameByEventRef(ctx context.Context, ref string) (*domain.Game, error)
	FindGameByMessageRef(ctx context.Context, ref string) (*domain.Game, error)
	ListGamesInState(ctx context.Context, state domain.GameState) ([]*domain.Game, error)

	Close() error
}
