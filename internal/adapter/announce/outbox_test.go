package announce

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/msgcat"
)

func testOutbox(t *testing.T) (*Outbox, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewOutbox(rdb), mr
}

func TestOutboxPublish(t *testing.T) {
	outbox, mr := testOutbox(t)

	if err := outbox.Publish(context.Background(), 42, "server is ready"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, err := mr.Lpop(outboxKey)
	if err != nil {
		t.Fatalf("Lpop: %v", err)
	}
	var entry outboxEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.ChannelID != 42 || entry.Text != "server is ready" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.QueuedAt.IsZero() {
		t.Fatal("queued_at not set")
	}
}

func TestNotifierScrimExpired(t *testing.T) {
	outbox, mr := testOutbox(t)

	catalog, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	notifier := NewNotifier(NewFormatter(catalog), outbox)

	scrim := &domain.Scrim{GuildID: 1, Timestamp: slotTime(), Format: domain.FormatSixes}
	if err := notifier.ScrimExpired(context.Background(), 99, scrim); err != nil {
		t.Fatalf("ScrimExpired: %v", err)
	}

	raw, err := mr.Lpop(outboxKey)
	if err != nil {
		t.Fatalf("Lpop: %v", err)
	}
	var entry outboxEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.ChannelID != 99 || !strings.Contains(entry.Text, "no opponent") {
		t.Fatalf("entry = %+v", entry)
	}
}
