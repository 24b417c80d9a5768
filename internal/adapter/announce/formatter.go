// Package announce renders lifecycle outcomes into the text the chat
// layer posts. It is the one place error kinds and game states turn into
// user-facing wording; the core packages never format messages.
package announce

import (
	"errors"
	"strings"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/msgcat"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

type Formatter struct {
	catalog *msgcat.Catalog
}

func NewFormatter(catalog *msgcat.Catalog) *Formatter {
	return &Formatter{catalog: catalog}
}

func when(ts time.Time) string {
	return ts.UTC().Format("Mon Jan 2 15:04 MST")
}

// ScrimPublished announces a freshly listed scrim.
func (f *Formatter) ScrimPublished(scrim *domain.Scrim) string {
	maps := scrim.Map1
	if scrim.Map2 != "" {
		if maps != "" {
			maps += ", "
		}
		maps += scrim.Map2
	}
	return f.render("scrim.published", map[string]any{
		"When":   when(scrim.Timestamp),
		"Format": string(scrim.Format),
		"Maps":   maps,
	}, "Scrim listed.")
}

// ScrimExpired announces a listing removed without finding an opponent.
func (f *Formatter) ScrimExpired(scrim *domain.Scrim) string {
	return f.render("scrim.expired", map[string]any{
		"When": when(scrim.Timestamp),
	}, "Scrim listing expired.")
}

// ScrimMatched announces a confirmed opponent.
func (f *Formatter) ScrimMatched(scrim *domain.Scrim) string {
	opponent := scrim.Opponent
	if opponent == "" {
		opponent = "an opponent"
	}
	return f.render("scrim.matched", map[string]any{
		"When":     when(scrim.Timestamp),
		"Opponent": opponent,
	}, "Scrim matched.")
}

// Game announces the game's current state.
func (f *Formatter) Game(game *domain.Game) string {
	data := map[string]any{
		"When":          when(game.Timestamp),
		"ReservationID": game.ReservationID,
		"Winner":        game.ResultWinner,
		"Score":         game.ResultScore,
		"Connect":       "",
	}
	if game.ServerAddress != "" && game.ServerPassword != "" {
		connect := domain.ConnectInfo{Address: game.ServerAddress, Password: game.ServerPassword}
		data["Connect"] = connect.String()
	}

	switch game.State {
	case domain.StateHosted:
		return f.render("game.hosted", data, "We host.")
	case domain.StateJoined:
		return f.render("game.joined", data, "We join.")
	case domain.StateConfigured:
		return f.render("game.configured", data, "Server is ready.")
	case domain.StateCompleted:
		return f.render("game.completed", data, "Game is done.")
	case domain.StateCancelled:
		return f.render("game.cancelled", data, "Game was cancelled.")
	default:
		return f.render("scrim.matched", map[string]any{
			"When":     data["When"],
			"Opponent": "the opponent",
		}, "Game scheduled.")
	}
}

// Error translates an error kind into its user-facing explanation.
func (f *Formatter) Error(err error) string {
	key := "error.invalid_state"
	switch {
	case errors.Is(err, domain.ErrDuplicateSlot):
		key = "error.duplicate_slot"
	case errors.Is(err, domain.ErrAlreadyDecided):
		key = "error.already_decided"
	case errors.Is(err, domain.ErrConflict):
		key = "error.conflict"
	case errors.Is(err, domain.ErrReservationUnavailable):
		key = "error.reservation_unavailable"
	case errors.Is(err, domain.ErrConfigurationFailed):
		key = "error.configuration_failed"
	case errors.Is(err, domain.ErrFetchFailed):
		key = "error.fetch_failed"
	case errors.Is(err, domain.ErrUnparseableResult):
		key = "error.unparseable_result"
	case errors.Is(err, domain.ErrNoServemeKey):
		key = "error.no_serveme_key"
	case errors.Is(err, domain.ErrNotFound):
		key = "error.not_found"
	}
	return f.render(key, nil, "Something went wrong.")
}

func (f *Formatter) render(key string, data any, fallback string) string {
	text, err := f.catalog.Render(key, data)
	if err != nil {
		obslog.L().Error("message_render_failed", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(text)
}
