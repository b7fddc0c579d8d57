package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"trivia-service/internal/domain"
)

const maxConcurrent = 100

// Notification is the payload published on every channel.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EventPublisher fans session events out over Redis pub/sub so that chat
// adapters running in other processes can render them. Every event goes to
// {prefix}:group:{groupID}; final results additionally go to each player's
// {prefix}:user:{playerID} channel.
type EventPublisher struct {
	client *redis.Client
	prefix string
}

func NewEventPublisher(client *redis.Client, prefix string) *EventPublisher {
	if prefix == "" {
		prefix = "trivia"
	}
	return &EventPublisher{client: client, prefix: prefix}
}

func (p *EventPublisher) Publish(ctx context.Context, e domain.Event) error {
	if err := p.publish(ctx, p.GroupChannel(e.Group()), e); err != nil {
		return err
	}

	ended, ok := e.(domain.EventGameEnded)
	if !ok {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)
	for _, st := range ended.Result.Standings {
		eg.Go(func() error {
			return p.publish(ctx, p.UserChannel(st.PlayerID), e)
		})
	}
	return eg.Wait()
}

func (p *EventPublisher) GroupChannel(groupID string) string {
	return fmt.Sprintf("%s:group:%s", p.prefix, groupID)
}

func (p *EventPublisher) UserChannel(playerID string) string {
	return fmt.Sprintf("%s:user:%s", p.prefix, playerID)
}

func (p *EventPublisher) publish(ctx context.Context, channel string, e domain.Event) error {
	b, err := json.Marshal(Notification{
		Event: e.Name(),
		Data:  e,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", e.Name(), err)
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s to %s: %w", e.Name(), channel, err)
	}
	return nil
}
