// Package lifecycle drives a game through its states: a published scrim
// slot is matched into an undecided game, a host or join decision
// provisions a server, configuration pushes match settings onto it, and
// completion records the result. The manager owns every game transition;
// external clients only supply facts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/locks"
	"github.com/teamtf/scrim-bot/internal/mapcat"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"github.com/teamtf/scrim-bot/internal/rcon"
	"github.com/teamtf/scrim-bot/internal/serveme"
	"github.com/teamtf/scrim-bot/internal/store"
	"go.uber.org/zap"
)

// ReservationClient books and releases game servers. *serveme.Client
// satisfies it.
type ReservationClient interface {
	FindServers(ctx context.Context, apiKey string, start, end time.Time) ([]serveme.Server, error)
	Create(ctx context.Context, apiKey string, req serveme.CreateRequest) (*serveme.Reservation, error)
	Get(ctx context.Context, apiKey string, id int64) (*serveme.Reservation, error)
	Edit(ctx context.Context, apiKey string, id int64, req serveme.EditRequest) (*serveme.Reservation, error)
	Delete(ctx context.Context, apiKey string, id int64) error
}

// ServerConfigurator pushes settings over remote console.
type ServerConfigurator interface {
	Apply(ctx context.Context, address, rconPassword string, s rcon.Settings) error
}

// ResultSource answers official match lookups. *rgl.Cache satisfies it.
type ResultSource interface {
	Match(ctx context.Context, matchID int64) (*domain.MatchResult, error)
}

// Leaser hands out per-game leases so configuration runs once at a time.
type Leaser interface {
	Acquire(ctx context.Context, name string) (*locks.Lease, bool, error)
	Extend(ctx context.Context, lease *locks.Lease) (bool, error)
	Release(ctx context.Context, lease *locks.Lease) error
}

// Announcer carries user-facing notifications out to the chat layer.
// Optional; a nil announcer drops them.
type Announcer interface {
	ScrimExpired(ctx context.Context, channelID int64, scrim *domain.Scrim) error
}

type Manager struct {
	store        store.Store
	reservations ReservationClient
	configurator ServerConfigurator
	results      ResultSource
	leases       Leaser
	maps         *mapcat.Catalog
	announcer    Announcer

	serverPrefixes []string
	maxConfigTries int
}

type Options struct {
	Store          store.Store
	Reservations   ReservationClient
	Configurator   ServerConfigurator
	Results        ResultSource
	Leases         Leaser
	Maps           *mapcat.Catalog
	Announcer      Announcer
	ServerPrefixes []string
	MaxConfigTries int
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		store:          opts.Store,
		reservations:   opts.Reservations,
		configurator:   opts.Configurator,
		results:        opts.Results,
		leases:         opts.Leases,
		maps:           opts.Maps,
		announcer:      opts.Announcer,
		serverPrefixes: opts.ServerPrefixes,
		maxConfigTries: opts.MaxConfigTries,
	}
	if m.maxConfigTries <= 0 {
		m.maxConfigTries = 5
	}
	return m
}

// PublishScrim opens a scrim slot for the guild.
func (m *Manager) PublishScrim(ctx context.Context, req PublishScrim) (*domain.Scrim, error) {
	guild, err := m.store.GetGuild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	for _, mapName := range []string{req.Map1, req.Map2} {
		if mapName != "" && !m.maps.Contains(guild.Format, mapName) {
			return nil, fmt.Errorf("map %q is not in the %s pool", mapName, guild.Format)
		}
	}

	scrim := &domain.Scrim{
		GuildID:   req.GuildID,
		Timestamp: req.Timestamp.UTC(),
		Format:    guild.Format,
		Hosted:    req.Hosted,
		Map1:      req.Map1,
		Map2:      req.Map2,
		Opponent:  req.Opponent,
		SignupRef: req.SignupRef,
	}
	if err := m.store.CreateScrim(ctx, scrim); err != nil {
		return nil, err
	}
	obslog.L().Info("scrim_published",
		zap.Int64("guild_id", scrim.GuildID),
		zap.Time("timestamp", scrim.Timestamp),
		zap.Bool("hosted", scrim.Hosted))
	return scrim, nil
}

// MatchScrim confirms an opponent for a published scrim, spawning an
// undecided game in the same slot.
func (m *Manager) MatchScrim(ctx context.Context, req MatchScrim) (*domain.Game, error) {
	key := domain.GameKey{GuildID: req.GuildID, Timestamp: req.Timestamp.UTC()}
	scrim, err := m.store.GetScrim(ctx, key)
	if err != nil {
		return nil, err
	}
	if scrim.Matched() {
		return nil, fmt.Errorf("%w: scrim %s already matched", domain.ErrAlreadyDecided, key)
	}

	game := &domain.Game{
		GuildID:        key.GuildID,
		Timestamp:      key.Timestamp,
		Format:         scrim.Format,
		State:          domain.StateUndecided,
		OpponentUserID: req.OpponentUserID,
		EventRef:       req.EventRef,
		Map1:           scrim.Map1,
		Map2:           scrim.Map2,
	}
	if err := m.store.CreateGame(ctx, game); err != nil {
		return nil, err
	}
	if err := m.store.LinkScrimGame(ctx, key, game.Timestamp); err != nil {
		obslog.L().Error("scrim_link_failed", zap.String("key", key.String()), zap.Error(err))
	}
	obslog.L().Info("scrim_matched",
		zap.String("key", key.String()),
		zap.Int64("opponent_user_id", req.OpponentUserID))
	return game, nil
}

// CreateGame schedules a game directly, bypassing the scrim listing. This
// is how official league matches enter the system.
func (m *Manager) CreateGame(ctx context.Context, req CreateGame) (*domain.Game, error) {
	guild, err := m.store.GetGuild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	game := &domain.Game{
		GuildID:        req.GuildID,
		Timestamp:      req.Timestamp.UTC(),
		Format:         guild.Format,
		State:          domain.StateUndecided,
		OpponentUserID: req.OpponentUserID,
		EventRef:       req.EventRef,
		RGLMatchID:     req.RGLMatchID,
	}
	if err := game.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.CreateGame(ctx, game); err != nil {
		return nil, err
	}
	obslog.L().Info("game_created",
		zap.String("key", game.Key().String()),
		zap.Int64("rgl_match_id", game.RGLMatchID))
	return game, nil
}

// DecideHost books a reservation for the slot and moves the game to
// Hosted. The reservation is created before the store write; if the write
// loses a decision race the fresh reservation is released again so
// nothing leaks.
func (m *Manager) DecideHost(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	game, err := m.store.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	if game.State != domain.StateUndecided {
		return nil, fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, game.State)
	}
	guild, err := m.store.GetGuild(ctx, game.GuildID)
	if err != nil {
		return nil, err
	}
	if guild.ServemeKey == "" {
		return nil, fmt.Errorf("%w: guild %d", domain.ErrNoServemeKey, guild.ID)
	}

	reservation, err := m.reserve(ctx, guild, game)
	if err != nil {
		return nil, err
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State != domain.StateUndecided {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.State = domain.StateHosted
		g.ReservationID = reservation.ID
		return nil
	})
	if err != nil {
		m.releaseQuietly(ctx, guild.ServemeKey, reservation.ID)
		return nil, m.mapDecisionRace(ctx, key, err)
	}
	obslog.L().Info("game_hosted",
		zap.String("key", key.String()),
		zap.Int64("reservation_id", reservation.ID))
	return updated, nil
}

func (m *Manager) reserve(ctx context.Context, guild *domain.Guild, game *domain.Game) (*serveme.Reservation, error) {
	start, end := domain.ReservationWindow(game.Timestamp)
	servers, err := m.reservations.FindServers(ctx, guild.ServemeKey, start, end)
	if err != nil {
		return nil, err
	}
	server, ok := serveme.PickServer(servers, m.serverPrefixes)
	if !ok {
		return nil, fmt.Errorf("%w: no servers free for %s", domain.ErrReservationUnavailable, game.Key())
	}

	create := serveme.CreateRequest{
		StartsAt:      start,
		EndsAt:        end,
		ServerID:      server.ID,
		Password:      domain.NewMatchPassword(),
		Rcon:          domain.NewRconPassword(),
		EnablePlugins: true,
		EnableDemosTF: true,
	}
	if game.Map1 != "" {
		create.FirstMap = game.Map1
		if cfg, ok := m.maps.ConfigFor(game.Format, game.Map1); ok {
			create.ServerConfigID = cfg.ID
		}
	}
	return m.reservations.Create(ctx, guild.ServemeKey, create)
}

// DecideJoin records the opponent-supplied server and moves the game to
// Joined. connectRaw is the in-game connect command as pasted by a user.
func (m *Manager) DecideJoin(ctx context.Context, key domain.GameKey, connectRaw string) (*domain.Game, error) {
	info, err := domain.ParseConnectInfo(connectRaw)
	if err != nil {
		return nil, err
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State != domain.StateUndecided {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.State = domain.StateJoined
		g.ServerAddress = info.Address
		g.ServerPassword = info.Password
		return nil
	})
	if err != nil {
		return nil, m.mapDecisionRace(ctx, key, err)
	}
	obslog.L().Info("game_joined", zap.String("key", key.String()), zap.String("address", info.Address))
	return updated, nil
}

// Configure pushes match settings to the game's server. For a hosted game
// that means waiting for the reservation to come up, then driving its
// remote console; a joined game's server is the opponent's problem, so the
// transition is pure bookkeeping. At most one configuration attempt runs
// per game across all workers.
func (m *Manager) Configure(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	game, err := m.store.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}

	switch game.State {
	case domain.StateJoined:
		return m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
			if g.State != domain.StateJoined {
				return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
			}
			g.State = domain.StateConfigured
			return nil
		})
	case domain.StateHosted:
		// handled below
	case domain.StateConfigured:
		return game, nil
	default:
		return nil, fmt.Errorf("%w: cannot configure game %s in %s", domain.ErrInvalidState, key, game.State)
	}

	lease, ok, err := m.leases.Acquire(ctx, "configure:"+key.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another worker is already on it.
		return game, nil
	}
	defer func() {
		if releaseErr := m.leases.Release(ctx, lease); releaseErr != nil {
			obslog.L().Warn("configure_lease_release_failed", zap.String("key", key.String()), zap.Error(releaseErr))
		}
	}()

	guild, err := m.store.GetGuild(ctx, game.GuildID)
	if err != nil {
		return nil, err
	}

	// A slow dial plus full command sequence can outlive the initial TTL.
	if _, err := m.leases.Extend(ctx, lease); err != nil {
		obslog.L().Warn("configure_lease_extend_failed", zap.String("key", key.String()), zap.Error(err))
	}

	if err := m.pushConfiguration(ctx, guild, game); err != nil {
		if _, recordErr := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
			if g.State != domain.StateHosted {
				return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
			}
			g.ConfigAttempts++
			return nil
		}); recordErr != nil {
			obslog.L().Error("config_attempt_record_failed", zap.String("key", key.String()), zap.Error(recordErr))
		}
		return nil, err
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State != domain.StateHosted {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.State = domain.StateConfigured
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_configured", zap.String("key", key.String()))
	return updated, nil
}

func (m *Manager) pushConfiguration(ctx context.Context, guild *domain.Guild, game *domain.Game) error {
	reservation, err := m.reservations.Get(ctx, guild.ServemeKey, game.ReservationID)
	if err != nil {
		return fmt.Errorf("%w: reservation %d: %v", domain.ErrConfigurationFailed, game.ReservationID, err)
	}
	if !reservation.Ready() {
		return fmt.Errorf("%w: reservation %d not ready (status %s)",
			domain.ErrConfigurationFailed, reservation.ID, reservation.Status)
	}

	settings := rcon.Settings{
		MatchPassword: reservation.Password,
		FirstMap:      game.Map1,
	}
	if game.Map1 != "" {
		if cfg, ok := m.maps.ConfigFor(game.Format, game.Map1); ok {
			settings.ConfigName = cfg.Name
		}
	}
	return m.configurator.Apply(ctx, reservation.Server.Address, reservation.Rcon, settings)
}

// Complete finishes a configured game. Official games take their result
// from the league; a result that is not yet finalized leaves the game
// Configured for a later attempt. Scrim games complete bare.
func (m *Manager) Complete(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	game, err := m.store.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	if game.State != domain.StateConfigured {
		return nil, fmt.Errorf("%w: cannot complete game %s in %s", domain.ErrInvalidState, key, game.State)
	}

	var result *domain.MatchResult
	if game.Official() {
		result, err = m.results.Match(ctx, game.RGLMatchID)
		if err != nil {
			return nil, err
		}
		if !result.Finalized {
			obslog.L().Debug("result_not_finalized", zap.String("key", key.String()), zap.Int64("match_id", game.RGLMatchID))
			return game, nil
		}
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State != domain.StateConfigured {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.State = domain.StateCompleted
		if result != nil {
			g.ResultWinner = result.Winner
			g.ResultScore = result.Score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.ReservationID != 0 {
		guild, guildErr := m.store.GetGuild(ctx, updated.GuildID)
		if guildErr == nil && guild.ServemeKey != "" {
			m.releaseQuietly(ctx, guild.ServemeKey, updated.ReservationID)
		}
	}
	obslog.L().Info("game_completed",
		zap.String("key", key.String()),
		zap.String("winner", updated.ResultWinner))
	return updated, nil
}

// Cancel aborts a game from any non-terminal state. A held reservation is
// released first; if the provider cannot confirm the release the game
// stays put rather than leaking a live booking behind a cancelled record.
func (m *Manager) Cancel(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	game, err := m.store.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	if game.State.Terminal() {
		return nil, fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, game.State)
	}

	if game.ReservationID != 0 {
		guild, err := m.store.GetGuild(ctx, game.GuildID)
		if err != nil {
			return nil, err
		}
		if err := m.reservations.Delete(ctx, guild.ServemeKey, game.ReservationID); err != nil {
			return nil, fmt.Errorf("release reservation %d before cancel: %w", game.ReservationID, err)
		}
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State.Terminal() {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.State = domain.StateCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_cancelled", zap.String("key", key.String()))
	return updated, nil
}

// RecordAnnouncement stores the chat message reference for a game once
// the chat layer has posted its announcement. The reference is unique
// across games; recording the same reference again is a no-op, but a game
// cannot be re-announced under a different one.
func (m *Manager) RecordAnnouncement(ctx context.Context, key domain.GameKey, messageRef string) (*domain.Game, error) {
	if messageRef == "" {
		return nil, fmt.Errorf("empty message reference for game %s", key)
	}
	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.MessageRef == messageRef {
			return nil
		}
		if g.MessageRef != "" {
			return fmt.Errorf("%w: game %s already announced as %s", domain.ErrAlreadyDecided, key, g.MessageRef)
		}
		g.MessageRef = messageRef
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_announced",
		zap.String("key", key.String()),
		zap.String("message_ref", messageRef))
	return updated, nil
}

// EditMaps changes a scrim game's maps. Hosted and configured games also
// push the first map to the reservation so the server loads it.
func (m *Manager) EditMaps(ctx context.Context, key domain.GameKey, map1, map2 string) (*domain.Game, error) {
	game, err := m.store.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	if game.Official() {
		return nil, fmt.Errorf("%w: official match maps are set by the league", domain.ErrInvalidState)
	}
	for _, mapName := range []string{map1, map2} {
		if mapName != "" && !m.maps.Contains(game.Format, mapName) {
			return nil, fmt.Errorf("map %q is not in the %s pool", mapName, game.Format)
		}
	}

	updated, err := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
		if g.State.Terminal() {
			return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
		}
		g.Map1 = map1
		g.Map2 = map2
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.ReservationID != 0 && map1 != "" {
		guild, guildErr := m.store.GetGuild(ctx, updated.GuildID)
		if guildErr == nil && guild.ServemeKey != "" {
			edit := serveme.EditRequest{FirstMap: map1}
			if cfg, ok := m.maps.ConfigFor(updated.Format, map1); ok {
				edit.ServerConfigID = cfg.ID
			}
			if _, editErr := m.reservations.Edit(ctx, guild.ServemeKey, updated.ReservationID, edit); editErr != nil {
				obslog.L().Warn("reservation_map_edit_failed",
					zap.String("key", key.String()),
					zap.Int64("reservation_id", updated.ReservationID),
					zap.Error(editErr))
			}
		}
	}
	return updated, nil
}

// Reconcile runs at startup: stored reservation ids are only trusted after
// the provider confirms them. A hosted game whose reservation vanished
// while the process was down reverts to Undecided so it can be re-decided.
func (m *Manager) Reconcile(ctx context.Context) error {
	hosted, err := m.store.ListGamesInState(ctx, domain.StateHosted)
	if err != nil {
		return err
	}
	for _, game := range hosted {
		guild, err := m.store.GetGuild(ctx, game.GuildID)
		if err != nil || guild.ServemeKey == "" {
			continue
		}
		_, err = m.reservations.Get(ctx, guild.ServemeKey, game.ReservationID)
		switch {
		case err == nil:
			continue
		case errors.Is(err, domain.ErrNotFound):
			key := game.Key()
			if _, revertErr := m.store.TransitionGame(ctx, key, func(g *domain.Game) error {
				if g.State != domain.StateHosted {
					return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, g.State)
				}
				g.State = domain.StateUndecided
				g.ReservationID = 0
				return nil
			}); revertErr != nil {
				obslog.L().Error("reconcile_revert_failed", zap.String("key", key.String()), zap.Error(revertErr))
				continue
			}
			obslog.L().Warn("reservation_vanished",
				zap.String("key", key.String()),
				zap.Int64("reservation_id", game.ReservationID))
		default:
			obslog.L().Warn("reconcile_lookup_failed",
				zap.String("key", game.Key().String()),
				zap.Error(err))
		}
	}
	return nil
}

// mapDecisionRace turns a stale-write conflict on a decide operation into
// the benign race-loser answer when the game has in fact been decided.
func (m *Manager) mapDecisionRace(ctx context.Context, key domain.GameKey, err error) error {
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	current, readErr := m.store.GetGame(ctx, key)
	if readErr != nil {
		return err
	}
	if current.State != domain.StateUndecided {
		return fmt.Errorf("%w: game %s is %s", domain.ErrAlreadyDecided, key, current.State)
	}
	return err
}

func (m *Manager) releaseQuietly(ctx context.Context, apiKey string, reservationID int64) {
	if err := m.reservations.Delete(ctx, apiKey, reservationID); err != nil {
		obslog.L().Warn("reservation_release_failed",
			zap.Int64("reservation_id", reservationID),
			zap.Error(err))
	}
}
