package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
)

var slotTime = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

func newGame(eventRef string) *domain.Game {
	return &domain.Game{
		GuildID:        42,
		Timestamp:      slotTime,
		Format:         domain.FormatSixes,
		State:          domain.StateUndecided,
		OpponentUserID: 7,
		EventRef:       eventRef,
	}
}

func TestCreateGameDuplicateSlot(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.CreateGame(ctx, newGame("evt-1")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	err := s.CreateGame(ctx, newGame("evt-2"))
	if !errors.Is(err, domain.ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got %v", err)
	}

	// Second event ref was never registered by the failed create.
	if _, err := s.FindGameByEventRef(ctx, "evt-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("partial record visible after duplicate create: %v", err)
	}
}

func TestTransitionGameConflict(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.CreateGame(ctx, newGame("evt-1")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	key := domain.GameKey{GuildID: 42, Timestamp: slotTime}

	// Two transitions race on the same snapshot: a barrier inside mutate
	// makes both read version 1 before either writes.
	var barrier sync.WaitGroup
	barrier.Add(2)
	results := make(chan error, 2)
	decide := func(apply func(*domain.Game)) {
		_, err := s.TransitionGame(ctx, key, func(g *domain.Game) error {
			barrier.Done()
			barrier.Wait()
			if g.State != domain.StateUndecided {
				return domain.ErrAlreadyDecided
			}
			apply(g)
			return nil
		})
		results <- err
	}
	go decide(func(g *domain.Game) {
		g.State = domain.StateHosted
		g.ReservationID = 101
	})
	go decide(func(g *domain.Game) {
		g.State = domain.StateJoined
		g.ServerAddress = "10.0.0.5:27015"
		g.ServerPassword = "pw"
	})

	var conflicts, wins int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected transition error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got wins=%d conflicts=%d", wins, conflicts)
	}

	g, err := s.GetGame(ctx, key)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.State != domain.StateHosted && g.State != domain.StateJoined {
		t.Fatalf("final state %q", g.State)
	}
	if g.Version != 2 {
		t.Fatalf("version = %d, want 2", g.Version)
	}
}

func TestTransitionGameRejectsInvalidWrite(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.CreateGame(ctx, newGame("evt-1")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	key := domain.GameKey{GuildID: 42, Timestamp: slotTime}

	_, err := s.TransitionGame(ctx, key, func(g *domain.Game) error {
		g.State = domain.StateHosted // no reservation id set
		return nil
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	g, err := s.GetGame(ctx, key)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.State != domain.StateUndecided || g.Version != 1 {
		t.Fatalf("invalid write leaked: state=%s version=%d", g.State, g.Version)
	}
}

func TestFindGameByRefs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.CreateGame(ctx, newGame("evt-1")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	key := domain.GameKey{GuildID: 42, Timestamp: slotTime}

	g, err := s.FindGameByEventRef(ctx, "evt-1")
	if err != nil || g.GuildID != 42 {
		t.Fatalf("FindGameByEventRef: %v", err)
	}

	if _, err := s.TransitionGame(ctx, key, func(g *domain.Game) error {
		g.MessageRef = "msg-9"
		return nil
	}); err != nil {
		t.Fatalf("set message ref: %v", err)
	}
	g, err = s.FindGameByMessageRef(ctx, "msg-9")
	if err != nil || g.EventRef != "evt-1" {
		t.Fatalf("FindGameByMessageRef: %v (game %+v)", err, g)
	}
}

func TestScrimLinkAndExpiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	scrim := &domain.Scrim{
		GuildID:   42,
		Timestamp: slotTime,
		Format:    domain.FormatSixes,
		Hosted:    true,
		Map1:      "cp_process_f12",
	}
	if err := s.CreateScrim(ctx, scrim); err != nil {
		t.Fatalf("CreateScrim: %v", err)
	}
	if err := s.CreateScrim(ctx, scrim); !errors.Is(err, domain.ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot, got %v", err)
	}

	key := domain.GameKey{GuildID: 42, Timestamp: slotTime}
	expired, err := s.ListUnmatchedScrimsBefore(ctx, slotTime.Add(time.Hour))
	if err != nil || len(expired) != 1 {
		t.Fatalf("ListUnmatchedScrimsBefore: %v (%d)", err, len(expired))
	}

	if err := s.LinkScrimGame(ctx, key, slotTime); err != nil {
		t.Fatalf("LinkScrimGame: %v", err)
	}
	expired, err = s.ListUnmatchedScrimsBefore(ctx, slotTime.Add(time.Hour))
	if err != nil || len(expired) != 0 {
		t.Fatalf("matched scrim still listed as unmatched: %v (%d)", err, len(expired))
	}

	if err := s.DeleteScrim(ctx, key); err != nil {
		t.Fatalf("DeleteScrim: %v", err)
	}
	if _, err := s.GetScrim(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("scrim survived delete: %v", err)
	}
}

func TestUpsertGuild(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	g := &domain.Guild{ID: 42, Format: domain.FormatSixes}
	if err := s.UpsertGuild(ctx, g); err != nil {
		t.Fatalf("UpsertGuild: %v", err)
	}
	g.ServemeKey = "key-123"
	g.Format = domain.FormatHighlander
	if err := s.UpsertGuild(ctx, g); err != nil {
		t.Fatalf("UpsertGuild update: %v", err)
	}

	got, err := s.GetGuild(ctx, 42)
	if err != nil {
		t.Fatalf("GetGuild: %v", err)
	}
	if got.ServemeKey != "key-123" || got.Format != domain.FormatHighlander {
		t.Fatalf("guild not updated: %+v", got)
	}
}

func TestCreateGameDuplicateMessageRef(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first := newGame("evt-1")
	first.MessageRef = "msg-1"
	if err := s.CreateGame(ctx, first); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	second := newGame("evt-2")
	second.Timestamp = slotTime.Add(2 * time.Hour)
	second.MessageRef = "msg-1"
	if err := s.CreateGame(ctx, second); !errors.Is(err, domain.ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot for reused message ref, got %v", err)
	}
}

func TestTransitionGameMessageRefUniqueAcrossGames(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.CreateGame(ctx, newGame("evt-1")); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	other := newGame("evt-2")
	other.Timestamp = slotTime.Add(2 * time.Hour)
	if err := s.CreateGame(ctx, other); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	setRef := func(key domain.GameKey) error {
		_, err := s.TransitionGame(ctx, key, func(g *domain.Game) error {
			g.MessageRef = "msg-1"
			return nil
		})
		return err
	}

	if err := setRef(domain.GameKey{GuildID: 42, Timestamp: slotTime}); err != nil {
		t.Fatalf("first announce: %v", err)
	}
	err := setRef(domain.GameKey{GuildID: 42, Timestamp: slotTime.Add(2 * time.Hour)})
	if !errors.Is(err, domain.ErrDuplicateSlot) {
		t.Fatalf("expected ErrDuplicateSlot for second game, got %v", err)
	}

	found, err := s.FindGameByMessageRef(ctx, "msg-1")
	if err != nil {
		t.Fatalf("FindGameByMessageRef: %v", err)
	}
	if !found.Timestamp.Equal(slotTime) {
		t.Fatalf("message ref resolves to %v, want the first game", found.Timestamp)
	}
}
