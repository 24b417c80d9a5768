package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

// memory is an in-memory Store used by tests and DB-less development. It
// keeps the same compare-and-set and uniqueness semantics as the postgres
// implementation.
type memory struct {
	mu sync.RWMutex

	guilds map[int64]*domain.Guild
	scrims map[domain.GameKey]*domain.Scrim
	games  map[domain.GameKey]*domain.Game

	byEventRef   map[string]domain.GameKey
	byMessageRef map[string]domain.GameKey
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memory{
		guilds:       make(map[int64]*domain.Guild),
		scrims:       make(map[domain.GameKey]*domain.Scrim),
		games:        make(map[domain.GameKey]*domain.Game),
		byEventRef:   make(map[string]domain.GameKey),
		byMessageRef: make(map[string]domain.GameKey),
	}
}

func (m *memory) UpsertGuild(ctx context.Context, guild *domain.Guild) error {
	if guild == nil || guild.ID == 0 {
		return fmt.Errorf("invalid guild payload")
	}
	cp := *guild
	cp.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	m.guilds[cp.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memory) GetGuild(ctx context.Context, id int64) (*domain.Guild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guilds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memory) CreateScrim(ctx context.Context, scrim *domain.Scrim) error {
	if scrim == nil {
		return fmt.Errorf("nil scrim payload")
	}
	key := domain.GameKey{GuildID: scrim.GuildID, Timestamp: scrim.Timestamp}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scrims[key]; exists {
		return domain.ErrDuplicateSlot
	}
	cp := *scrim
	cp.CreatedAt = time.Now().UTC()
	m.scrims[key] = &cp
	return nil
}

func (m *memory) GetScrim(ctx context.Context, key domain.GameKey) (*domain.Scrim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scrims[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memory) ListUnmatchedScrimsBefore(ctx context.Context, cutoff time.Time) ([]*domain.Scrim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Scrim
	for _, s := range m.scrims {
		if !s.Matched() && s.Timestamp.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memory) LinkScrimGame(ctx context.Context, key domain.GameKey, gameTS time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scrims[key]
	if !ok {
		return domain.ErrNotFound
	}
	s.GameTimestamp = gameTS
	return nil
}

func (m *memory) DeleteScrim(ctx context.Context, key domain.GameKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scrims[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.scrims, key)
	return nil
}

func (m *memory) CreateGame(ctx context.Context, game *domain.Game) error {
	if game == nil {
		return fmt.Errorf("nil game payload")
	}
	if err := game.Validate(); err != nil {
		obslog.L().Error("game_create_invalid", zap.String("key", game.Key().String()), zap.Error(err))
		return err
	}
	key := game.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[key]; exists {
		return domain.ErrDuplicateSlot
	}
	if game.EventRef != "" {
		if _, exists := m.byEventRef[game.EventRef]; exists {
			return domain.ErrDuplicateSlot
		}
	}
	if game.MessageRef != "" {
		if _, exists := m.byMessageRef[game.MessageRef]; exists {
			return domain.ErrDuplicateSlot
		}
	}
	cp := *game
	cp.Version = 1
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.games[key] = &cp
	if cp.EventRef != "" {
		m.byEventRef[cp.EventRef] = key
	}
	if cp.MessageRef != "" {
		m.byMessageRef[cp.MessageRef] = key
	}
	*game = cp
	return nil
}

func (m *memory) GetGame(ctx context.Context, key domain.GameKey) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memory) TransitionGame(ctx context.Context, key domain.GameKey, mutate func(*domain.Game) error) (*domain.Game, error) {
	// Snapshot read; mutate runs outside the lock so a concurrent writer
	// surfaces as ErrConflict, same as the SQL compare-and-set.
	snap, err := m.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	readVersion := snap.Version

	if err := mutate(snap); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		obslog.L().Error("game_transition_invalid", zap.String("key", key.String()), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if cur.Version != readVersion {
		return nil, domain.ErrConflict
	}
	if snap.MessageRef != "" && snap.MessageRef != cur.MessageRef {
		if _, taken := m.byMessageRef[snap.MessageRef]; taken {
			return nil, domain.ErrDuplicateSlot
		}
		delete(m.byMessageRef, cur.MessageRef)
		m.byMessageRef[snap.MessageRef] = key
	}
	snap.Version = readVersion + 1
	snap.UpdatedAt = time.Now().UTC()
	cp := *snap
	m.games[key] = &cp
	return snap, nil
}

func (m *memory) FindGameByEventRef(ctx context.Context, ref string) (*domain.Game, error) {
	m.mu.RLock()
	key, ok := m.byEventRef[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetGame(ctx, key)
}

func (m *memory) FindGameByMessageRef(ctx context.Context, ref string) (*domain.Game, error) {
	m.mu.RLock()
	key, ok := m.byMessageRef[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetGame(ctx, key)
}

func (m *memory) ListGamesInState(ctx context.Context, state domain.GameState) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Game
	for _, g := range m.games {
		if g.State == state {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memory) Close() error { return nil }
