package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teamtf/scrim-bot/internal/domain"
)

const outboxKey = "scrimbot:announcements"

// Sink delivers rendered announcement text toward a chat channel.
type Sink interface {
	Publish(ctx context.Context, channelID int64, text string) error
}

// Outbox queues announcements on a redis list for the chat-platform
// bridge to drain. The core never talks to the chat transport directly.
type Outbox struct {
	rdb *redis.Client
	key string
}

func NewOutbox(rdb *redis.Client) *Outbox {
	return &Outbox{rdb: rdb, key: outboxKey}
}

type outboxEntry struct {
	ChannelID int64     `json:"channel_id"`
	Text      string    `json:"text"`
	QueuedAt  time.Time `json:"queued_at"`
}

func (o *Outbox) Publish(ctx context.Context, channelID int64, text string) error {
	payload, err := json.Marshal(outboxEntry{
		ChannelID: channelID,
		Text:      text,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := o.rdb.LPush(ctx, o.key, payload).Err(); err != nil {
		return fmt.Errorf("queue announcement: %w", err)
	}
	return nil
}

// Notifier pairs the formatter with a sink; it is what the lifecycle
// layer holds to emit user-facing notifications.
type Notifier struct {
	formatter *Formatter
	sink      Sink
}

func NewNotifier(formatter *Formatter, sink Sink) *Notifier {
	return &Notifier{formatter: formatter, sink: sink}
}

func (n *Notifier) ScrimExpired(ctx context.Context, channelID int64, scrim *domain.Scrim) error {
	return n.sink.Publish(ctx, channelID, n.formatter.ScrimExpired(scrim))
}
