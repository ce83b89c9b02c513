package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Transport = (*RedisTransport)(nil)

// RedisTransport carries messages over Redis pub/sub. A channel exists only
// while someone subscribes to it, so reply channels clean themselves up once
// their subscription is closed. Pub/sub fans out, so a message a handler
// declines is simply left for the other subscribers of that channel.
type RedisTransport struct {
	redis *redis.Client

	mu     sync.Mutex
	subs   map[string]*redisSubscription
	owners map[string]string // exclusive destination -> token
}

type redisSubscription struct {
	destination string
	exclusive   bool
	pubsub      *redis.PubSub
	done        chan struct{}
}

func NewRedisTransport(redis *redis.Client) *RedisTransport {
	return &RedisTransport{
		redis:  redis,
		subs:   make(map[string]*redisSubscription),
		owners: make(map[string]string),
	}
}

// Publish sends the message body as the channel payload. Pub/sub carries no
// headers, so the correlation id and reply destination travel in the body.
func (t *RedisTransport) Publish(ctx context.Context, destination string, msg Message) error {
	if len(msg.Body) == 0 {
		return fmt.Errorf("publish %s: empty message body", destination)
	}
	if err := t.redis.Publish(ctx, destination, string(msg.Body)).Err(); err != nil {
		return fmt.Errorf("t.redis.Publish(%s): %w", destination, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, destination string, handler Handler, opts SubscribeOptions) (string, error) {
	token := uuid.NewString()

	t.mu.Lock()
	if _, taken := t.owners[destination]; taken {
		t.mu.Unlock()
		return "", fmt.Errorf("destination %s already has an exclusive subscriber", destination)
	}
	if opts.Exclusive {
		t.owners[destination] = token
	}
	t.mu.Unlock()

	pubsub := t.redis.Subscribe(ctx, destination)
	// Wait for the confirmation so a reply published right after we return
	// cannot be lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		t.release(token, destination)
		return "", fmt.Errorf("subscribe %s: %w", destination, err)
	}

	sub := &redisSubscription{
		destination: destination,
		exclusive:   opts.Exclusive,
		pubsub:      pubsub,
		done:        make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[token] = sub
	t.mu.Unlock()

	go t.consume(sub, handler)
	return token, nil
}

func (t *RedisTransport) Cancel(ctx context.Context, token string) error {
	t.mu.Lock()
	sub, ok := t.subs[token]
	delete(t.subs, token)
	if ok && sub.exclusive {
		delete(t.owners, sub.destination)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription %s", token)
	}
	err := sub.pubsub.Close()
	<-sub.done
	return err
}

// ActiveSubscriptions returns how many subscriptions are still open.
func (t *RedisTransport) ActiveSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *RedisTransport) consume(sub *redisSubscription, handler Handler) {
	defer close(sub.done)
	for m := range sub.pubsub.Channel() {
		var routing struct {
			CorrelationID string `json:"correlationId"`
			ReplyTo       string `json:"replyTo"`
		}
		if err := json.Unmarshal([]byte(m.Payload), &routing); err != nil {
			slog.Warn("prediction: undecodable message", "channel", m.Channel, "error", err)
			continue
		}
		msg := Message{
			CorrelationID: routing.CorrelationID,
			ReplyTo:       routing.ReplyTo,
			Body:          json.RawMessage(m.Payload),
		}
		if !handler(msg) {
			slog.Debug("prediction: message left unconsumed", "channel", m.Channel, "correlationID", msg.CorrelationID)
		}
	}
}

func (t *RedisTransport) release(token, destination string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owners[destination] == token {
		delete(t.owners, destination)
	}
}
