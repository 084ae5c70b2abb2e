package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"vinochat/internal/logger"
)

const knowledgeChannel = "vinochat:knowledge"

// Event is broadcast to every instance sharing the redis server.
type Event struct {
	Kind   string `json:"kind"`
	Origin string `json:"origin"`
	Count  int    `json:"count,omitempty"`
}

// Notifier publishes and listens for knowledge base events so that a reload
// on one instance is picked up by the others.
type Notifier struct {
	client *Client
	origin string
}

func NewNotifier(client *Client, origin string) *Notifier {
	return &Notifier{client: client, origin: origin}
}

// Publish broadcasts ev stamped with this instance as origin.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	if n == nil || n.client == nil || n.client.Raw() == nil {
		return nil
	}
	ev.Origin = n.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return n.client.Raw().Publish(ctx, knowledgeChannel, payload).Err()
}

// Listen delivers events from other instances to handler until ctx ends.
func (n *Notifier) Listen(ctx context.Context, handler func(Event)) {
	if n == nil || n.client == nil || n.client.Raw() == nil || handler == nil {
		return
	}
	pubsub := n.client.Raw().Subscribe(ctx, knowledgeChannel)
	// wait for the subscription confirmation so no event published right
	// after Listen returns is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Warn("cache", "subscribe failed", logger.Fields{"error": err.Error()})
		pubsub.Close()
		return
	}
	go func() {
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
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("cache", "event decode failed", logger.Fields{"error": err.Error()})
					continue
				}
				if ev.Origin == n.origin {
					continue
				}
				handler(ev)
			}
		}
	}()
}
