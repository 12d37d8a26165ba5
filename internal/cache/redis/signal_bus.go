package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/predictlabs/settled/internal/domain"
)

const (
	// streamMaxLen caps the settlement stream via XADD MAXLEN ~. Archived
	// events live in blob storage; the stream only needs recent history
	// for reconnecting consumers.
	streamMaxLen int64 = 10000

	// streamPayloadField is the single field each stream entry carries.
	streamPayloadField = "payload"

	// subscribeBuffer absorbs bursts of announcements while a consumer
	// is momentarily slow. Beyond this the pump blocks on the consumer.
	subscribeBuffer = 128
)

// SignalBus fans out settlement announcements. Pub/Sub carries ephemeral
// notifications to live subscribers; a Redis stream keeps an ordered,
// trimmed log that late consumers can replay.
type SignalBus struct {
	rdb *redis.Client
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to every current subscriber of channel. Messages
// published while nobody listens are dropped; durable delivery goes through
// StreamAppend.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription on an exact channel name and pumps
// its payloads into the returned channel. The subscription and the channel
// are torn down when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)

	// Receive the subscription confirmation before handing the channel
	// out, so a Publish immediately after Subscribe is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go sb.pump(ctx, pubsub, out)
	return out, nil
}

func (sb *SignalBus) pump(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// StreamAppend records payload in the named stream. Old entries are trimmed
// approximately once the stream exceeds streamMaxLen.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{streamPayloadField: payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries recorded after lastID. Pass "0" to
// replay from the start of the retained window. An empty stream yields
// (nil, nil) rather than an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1, // never wait for new entries
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, entry := range s.Messages {
			data, ok := entryPayload(entry)
			if !ok {
				continue
			}
			messages = append(messages, domain.StreamMessage{
				ID:      entry.ID,
				Payload: data,
			})
		}
	}
	return messages, nil
}

// entryPayload extracts the payload field from a stream entry. Entries
// written by other tools without the field are skipped.
func entryPayload(entry redis.XMessage) ([]byte, bool) {
	raw, ok := entry.Values[streamPayloadField]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
