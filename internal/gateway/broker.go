// internal/gateway/broker.go
// Cross-node fan-out. Each node publishes the frames it emits locally and
// delivers frames from other nodes to its own room members.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
)

const defaultBrokerChannel = "gateway:frames"

// Frame is one emitted envelope addressed to a set of rooms
type Frame struct {
	Node   string          `json:"node"`
	Rooms  []string        `json:"rooms"`
	Except string          `json:"except,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type Broker interface {
	Publish(ctx context.Context, frame *Frame) error
	// Subscribe streams frames from every node, including this one, until
	// ctx is done
	Subscribe(ctx context.Context) (<-chan *Frame, error)
}

// RedisBroker carries frames over a Redis Pub/Sub channel
type RedisBroker struct {
	client  *redis.Client
	channel string
}

func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	if channel == "" {
		channel = defaultBrokerChannel
	}
	return &RedisBroker{client: client, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan *Frame, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so publish failures surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan *Frame, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var frame Frame
				if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
					log.Printf("[broker] error unmarshalling frame: %v", err)
					continue
				}
				select {
				case out <- &frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	log.Printf("[broker] subscribed to %s", b.channel)
	return out, nil
}
