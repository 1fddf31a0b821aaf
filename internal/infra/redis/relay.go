package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

const eventChannelPrefix = "quiz:events:"

// LocalFanout delivers an event to the monitors connected to this instance.
type LocalFanout interface {
	Broadcast(quizID string, event domain.Event)
}

// Relay carries monitor events between instances: Publish goes to a Redis
// channel per quiz and every instance's Start loop hands what it receives to
// its local hub. Events published by one caller arrive in publish order.
type Relay struct {
	client *redis.Client
	local  LocalFanout
}

func NewRelay(client *redis.Client, local LocalFanout) *Relay {
	return &Relay{client: client, local: local}
}

// Publish implements app.Broadcaster. When Redis is unreachable the event is
// still delivered to local monitors.
func (r *Relay) Publish(ctx context.Context, quizID string, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("relay encode %s: %v", event.Event, err)
		return
	}
	if err := r.client.Publish(ctx, eventChannelPrefix+quizID, payload).Err(); err != nil {
		log.Printf("relay publish to quiz %s failed, delivering locally: %v", quizID, err)
		r.local.Broadcast(quizID, event)
	}
}

// Start subscribes and returns once the subscription is confirmed; delivery
// continues in the background until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, eventChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}
	go r.loop(ctx, pubsub)
	return nil
}

func (r *Relay) loop(ctx context.Context, pubsub *redis.PubSub) {
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
			quizID := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("relay decode on %s: %v", msg.Channel, err)
				continue
			}
			r.local.Broadcast(quizID, event)
		}
	}
}
