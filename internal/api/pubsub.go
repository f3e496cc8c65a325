package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizlive/internal/domain"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Pubsub is the production transport adapter: events go out over Redis
// channels. Each connection listens on its own channel; a session's
// participants additionally listen on the session channel they are
// subscribed to while joined.
type Pubsub struct {
	redis  Redis
	prefix string
}

func NewPubsub(r Redis, prefix string) *Pubsub {
	return &Pubsub{
		redis:  r,
		prefix: prefix,
	}
}

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Send delivers one event to a single connection.
func (p *Pubsub) Send(ctx context.Context, handle string, e domain.ClientEvent) error {
	return p.publish(ctx, p.ConnChannel(handle), e)
}

// Broadcast delivers one event to every current participant of a session.
func (p *Pubsub) Broadcast(ctx context.Context, code string, e domain.ClientEvent) error {
	return p.publish(ctx, p.GameChannel(code), e)
}

func (p *Pubsub) publish(ctx context.Context, channel string, e domain.ClientEvent) error {
	n := Notification{
		Event: e.Kind(),
		Data:  e,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Kind(), err)
	}

	return p.redis.Publish(ctx, channel, b).Err()
}

// ConnChannel is the unicast channel of one connection.
func (p *Pubsub) ConnChannel(handle string) string {
	return fmt.Sprintf("%s:conn:%s", p.prefix, handle)
}

// GameChannel is the shared channel of one session.
func (p *Pubsub) GameChannel(code string) string {
	return fmt.Sprintf("%s:game:%s", p.prefix, code)
}
