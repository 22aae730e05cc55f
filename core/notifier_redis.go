package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "studyroom:room:"

// RedisNotifier publishes inserts to a pub/sub channel per room so that
// every process subscribed to the room sees them.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisNotifier connects to the redis server at url (redis://...).
func NewRedisNotifier(ctx context.Context, url string, logger *slog.Logger) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{
		client: client,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

func roomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

func (n *RedisNotifier) Notify(ctx context.Context, change MessageChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("Notify: %w", err)
	}
	if err := n.client.Publish(ctx, roomChannel(change.Message.RoomID), data).Err(); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, roomID string, fn func(MessageChange)) (func(), error) {
	pubsub := n.client.Subscribe(ctx, roomChannel(roomID))
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("Subscribe(%s): %w", roomID, err)
	}

	n.mu.Lock()
	n.subs[pubsub] = struct{}{}
	n.mu.Unlock()

	logger := n.logger.With(slog.String("room", roomID))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for m := range pubsub.Channel() {
			var change MessageChange
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				logger.Error("decode notification", slog.String("err", err.Error()))
				continue
			}
			fn(change)
		}
	}()

	return func() { n.unsubscribe(pubsub, logger) }, nil
}

func (n *RedisNotifier) unsubscribe(pubsub *redis.PubSub, logger *slog.Logger) {
	n.mu.Lock()
	_, ok := n.subs[pubsub]
	delete(n.subs, pubsub)
	n.mu.Unlock()
	if !ok {
		return
	}
	if err := pubsub.Close(); err != nil {
		logger.Warn("close subscription", slog.String("err", err.Error()))
	}
}

// Close ends every subscription, waits for their readers to return and
// closes the client.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[*redis.PubSub]struct{})
	n.mu.Unlock()
	for pubsub := range subs {
		if err := pubsub.Close(); err != nil {
			n.logger.Warn("close subscription", slog.String("err", err.Error()))
		}
	}
	n.wg.Wait()
	return n.client.Close()
}
