package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

// The invariants of §domain are enforced at the storage boundary too: the
// CHECK constraints reject any row an application bug tries to write.
const schema = `
CREATE TABLE IF NOT EXISTS guilds (
	id                  BIGINT PRIMARY KEY,
	rgl_team_id         INTEGER,
	game_format         TEXT NOT NULL,
	schedule_channel_id BIGINT,
	serveme_key         TEXT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scrims (
	guild_id       BIGINT NOT NULL REFERENCES guilds(id),
	ts             TIMESTAMPTZ NOT NULL,
	game_format    TEXT NOT NULL,
	hosted         BOOLEAN NOT NULL,
	map_1          TEXT,
	map_2          TEXT,
	opponent       TEXT,
	signup_ref     TEXT,
	game_ts        TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, ts)
);

CREATE TABLE IF NOT EXISTS games (
	guild_id        BIGINT NOT NULL REFERENCES guilds(id),
	ts              TIMESTAMPTZ NOT NULL,
	game_format     TEXT NOT NULL,
	state           TEXT NOT NULL,
	opponent_user_id BIGINT NOT NULL,
	event_ref       TEXT UNIQUE,
	message_ref     TEXT UNIQUE,
	reservation_id  INTEGER,
	server_address  TEXT,
	server_password TEXT,
	map_1           TEXT,
	map_2           TEXT,
	rgl_match_id    INTEGER,
	result_winner   TEXT,
	result_score    TEXT,
	config_attempts INTEGER NOT NULL DEFAULT 0,
	version         BIGINT NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, ts),
	CHECK ((server_address IS NULL) = (server_password IS NULL)),
	CHECK (reservation_id IS NULL OR server_address IS NULL),
	CHECK (rgl_match_id IS NULL OR (map_1 IS NULL AND map_2 IS NULL))
);

CREATE INDEX IF NOT EXISTS games_state_idx ON games (state);
CREATE INDEX IF NOT EXISTS scrims_game_ts_idx ON scrims (guild_id, game_ts);
`

const gameColumns = `guild_id, ts, game_format, state, opponent_user_id,
	event_ref, message_ref, reservation_id, server_address, server_password,
	map_1, map_2, rgl_match_id, result_winner, result_score,
	config_attempts, version, created_at, updated_at`

type postgres struct {
	db *sql.DB
}

// NewPostgres opens the database, verifies connectivity, and bootstraps the
// schema.
func NewPostgres(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &postgres{db: db}, nil
}

func (p *postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *postgres) UpsertGuild(ctx context.Context, guild *domain.Guild) error {
	if guild == nil || guild.ID == 0 {
		return fmt.Errorf("invalid guild payload")
	}
	const q = `INSERT INTO guilds (id, rgl_team_id, game_format, schedule_channel_id, serveme_key, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET
			rgl_team_id=EXCLUDED.rgl_team_id,
			game_format=EXCLUDED.game_format,
			schedule_channel_id=EXCLUDED.schedule_channel_id,
			serveme_key=EXCLUDED.serveme_key,
			updated_at=now()`
	_, err := p.db.ExecContext(ctx, q,
		guild.ID, nullInt64(guild.RGLTeamID), string(guild.Format),
		nullInt64(guild.ScheduleChannelID), nullString(guild.ServemeKey))
	return err
}

func (p *postgres) GetGuild(ctx context.Context, id int64) (*domain.Guild, error) {
	const q = `SELECT id, rgl_team_id, game_format, schedule_channel_id, serveme_key, updated_at
		FROM guilds WHERE id = $1`
	var (
		g       domain.Guild
		teamID  sql.NullInt64
		channel sql.NullInt64
		key     sql.NullString
		format  string
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(&g.ID, &teamID, &format, &channel, &key, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get guild: %w", err)
	}
	g.RGLTeamID = teamID.Int64
	g.ScheduleChannelID = channel.Int64
	g.ServemeKey = key.String
	g.Format = domain.GameFormat(format)
	return &g, nil
}

func (p *postgres) CreateScrim(ctx context.Context, scrim *domain.Scrim) error {
	if scrim == nil {
		return fmt.Errorf("nil scrim payload")
	}
	const q = `INSERT INTO scrims (guild_id, ts, game_format, hosted, map_1, map_2, opponent, signup_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := p.db.ExecContext(ctx, q,
		scrim.GuildID, scrim.Timestamp.UTC(), string(scrim.Format), scrim.Hosted,
		nullString(scrim.Map1), nullString(scrim.Map2),
		nullString(scrim.Opponent), nullString(scrim.SignupRef))
	return translatePQ(err)
}

func (p *postgres) GetScrim(ctx context.Context, key domain.GameKey) (*domain.Scrim, error) {
	const q = `SELECT guild_id, ts, game_format, hosted, map_1, map_2, opponent, signup_ref, game_ts, created_at
		FROM scrims WHERE guild_id = $1 AND ts = $2`
	return scanScrim(p.db.QueryRowContext(ctx, q, key.GuildID, key.Timestamp.UTC()))
}

func (p *postgres) ListUnmatchedScrimsBefore(ctx context.Context, cutoff time.Time) ([]*domain.Scrim, error) {
	const q = `SELECT guild_id, ts, game_format, hosted, map_1, map_2, opponent, signup_ref, game_ts, created_at
		FROM scrims WHERE game_ts IS NULL AND ts < $1 ORDER BY ts ASC`
	rows, err := p.db.QueryContext(ctx, q, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list scrims: %w", err)
	}
	defer rows.Close()
	var out []*domain.Scrim
	for rows.Next() {
		s, err := scanScrim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *postgres) LinkScrimGame(ctx context.Context, key domain.GameKey, gameTS time.Time) error {
	const q = `UPDATE scrims SET game_ts = $3 WHERE guild_id = $1 AND ts = $2`
	res, err := p.db.ExecContext(ctx, q, key.GuildID, key.Timestamp.UTC(), gameTS.UTC())
	if err != nil {
		return fmt.Errorf("link scrim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *postgres) DeleteScrim(ctx context.Context, key domain.GameKey) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM scrims WHERE guild_id = $1 AND ts = $2`,
		key.GuildID, key.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("delete scrim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *postgres) CreateGame(ctx context.Context, game *domain.Game) error {
	if game == nil {
		return fmt.Errorf("nil game payload")
	}
	if err := game.Validate(); err != nil {
		obslog.L().Error("game_create_invalid", zap.String("key", game.Key().String()), zap.Error(err))
		return err
	}
	const q = `INSERT INTO games (
			guild_id, ts, game_format, state, opponent_user_id,
			event_ref, message_ref, reservation_id, server_address, server_password,
			map_1, map_2, rgl_match_id, result_winner, result_score, config_attempts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING version, created_at, updated_at`
	err := p.db.QueryRowContext(ctx, q,
		game.GuildID, game.Timestamp.UTC(), string(game.Format), string(game.State),
		game.OpponentUserID, nullString(game.EventRef), nullString(game.MessageRef),
		nullInt64(game.ReservationID), nullString(game.ServerAddress), nullString(game.ServerPassword),
		nullString(game.Map1), nullString(game.Map2), nullInt64(game.RGLMatchID),
		nullString(game.ResultWinner), nullString(game.ResultScore), game.ConfigAttempts,
	).Scan(&game.Version, &game.CreatedAt, &game.UpdatedAt)
	return translatePQ(err)
}

func (p *postgres) GetGame(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE guild_id = $1 AND ts = $2`
	return scanGame(p.db.QueryRowContext(ctx, q, key.GuildID, key.Timestamp.UTC()))
}

func (p *postgres) TransitionGame(ctx context.Context, key domain.GameKey, mutate func(*domain.Game) error) (*domain.Game, error) {
	game, err := p.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	readVersion := game.Version

	if err := mutate(game); err != nil {
		return nil, err
	}
	if err := game.Validate(); err != nil {
		obslog.L().Error("game_transition_invalid", zap.String("key", key.String()), zap.Error(err))
		return nil, err
	}

	const q = `UPDATE games SET
			state=$3, opponent_user_id=$4, event_ref=$5, message_ref=$6,
			reservation_id=$7, server_address=$8, server_password=$9,
			map_1=$10, map_2=$11, rgl_match_id=$12,
			result_winner=$13, result_score=$14, config_attempts=$15,
			version=version+1, updated_at=now()
		WHERE guild_id=$1 AND ts=$2 AND version=$16
		RETURNING version, updated_at`
	err = p.db.QueryRowContext(ctx, q,
		key.GuildID, key.Timestamp.UTC(),
		string(game.State), game.OpponentUserID,
		nullString(game.EventRef), nullString(game.MessageRef),
		nullInt64(game.ReservationID), nullString(game.ServerAddress), nullString(game.ServerPassword),
		nullString(game.Map1), nullString(game.Map2), nullInt64(game.RGLMatchID),
		nullString(game.ResultWinner), nullString(game.ResultScore), game.ConfigAttempts,
		readVersion,
	).Scan(&game.Version, &game.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Row vanished or version moved; distinguish for the caller.
		if _, getErr := p.GetGame(ctx, key); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, translatePQ(err)
	}
	return game, nil
}

func (p *postgres) FindGameByEventRef(ctx context.Context, ref string) (*domain.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE event_ref = $1`
	return scanGame(p.db.QueryRowContext(ctx, q, ref))
}

func (p *postgres) FindGameByMessageRef(ctx context.Context, ref string) (*domain.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE message_ref = $1`
	return scanGame(p.db.QueryRowContext(ctx, q, ref))
}

func (p *postgres) ListGamesInState(ctx context.Context, state domain.GameState) ([]*domain.Game, error) {
	q := `SELECT ` + gameColumns + ` FROM games WHERE state = $1 ORDER BY ts ASC`
	rows, err := p.db.QueryContext(ctx, q, string(state))
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()
	var out []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.Game, error) {
	var (
		g                         domain.Game
		format, state             string
		eventRef, messageRef      sql.NullString
		reservationID, rglMatchID sql.NullInt64
		addr, pass, map1, map2    sql.NullString
		winner, score             sql.NullString
	)
	err := row.Scan(
		&g.GuildID, &g.Timestamp, &format, &state, &g.OpponentUserID,
		&eventRef, &messageRef, &reservationID, &addr, &pass,
		&map1, &map2, &rglMatchID, &winner, &score,
		&g.ConfigAttempts, &g.Version, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game: %w", err)
	}
	g.Format = domain.GameFormat(format)
	g.State = domain.GameState(state)
	g.EventRef = eventRef.String
	g.MessageRef = messageRef.String
	g.ReservationID = reservationID.Int64
	g.ServerAddress = addr.String
	g.ServerPassword = pass.String
	g.Map1 = map1.String
	g.Map2 = map2.String
	g.RGLMatchID = rglMatchID.Int64
	g.ResultWinner = winner.String
	g.ResultScore = score.String
	g.Timestamp = g.Timestamp.UTC()
	return &g, nil
}

func scanScrim(row rowScanner) (*domain.Scrim, error) {
	var (
		s                            domain.Scrim
		format                       string
		map1, map2, opponent, signup sql.NullString
		gameTS                       sql.NullTime
	)
	err := row.Scan(&s.GuildID, &s.Timestamp, &format, &s.Hosted,
		&map1, &map2, &opponent, &signup, &gameTS, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scrim: %w", err)
	}
	s.Format = domain.GameFormat(format)
	s.Map1 = map1.String
	s.Map2 = map2.String
	s.Opponent = opponent.String
	s.SignupRef = signup.String
	if gameTS.Valid {
		s.GameTimestamp = gameTS.Time.UTC()
	}
	s.Timestamp = s.Timestamp.UTC()
	return &s, nil
}

// translatePQ maps postgres constraint failures onto the domain taxonomy.
func translatePQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return domain.ErrDuplicateSlot
		case "23514": // check_violation
			obslog.L().Error("storage_check_violation", zap.String("constraint", pqErr.Constraint), zap.Error(err))
			return domain.ErrInvalidState
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
