package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-service/internal/domain"
)

func TestEventPublisherPublish(t *testing.T) {
	tests := map[string]struct {
		event    domain.Event
		channels []string
	}{
		"question goes to the group": {
			event: domain.EventQuestionPublished{
				GroupID: "g-1",
				Index:   0,
				Text:    "2 + 2?",
				Options: []string{"3", "4"},
			},
			channels: []string{"test:group:g-1"},
		},
		"final results also go to every player": {
			event: domain.EventGameEnded{
				GroupID: "g-1",
				Result: domain.GameResult{
					SessionID: "s-1",
					GroupID:   "g-1",
					Standings: []domain.Standing{{PlayerID: "p1", Points: 4}, {PlayerID: "p2"}},
				},
			},
			channels: []string{"test:group:g-1", "test:user:p1", "test:user:p2"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			defer mr.Close()

			client := newClient(mr)
			sub := client.Subscribe(context.Background(), tc.channels...)
			defer sub.Close()
			_, err = sub.Receive(context.Background())
			require.NoError(t, err)

			pub := NewEventPublisher(client, "test")
			require.NoError(t, pub.Publish(context.Background(), tc.event))

			got := map[string]Notification{}
			ch := sub.Channel()
			timeout := time.After(2 * time.Second)
			for len(got) < len(tc.channels) {
				select {
				case msg := <-ch:
					var n Notification
					require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
					got[msg.Channel] = n
				case <-timeout:
					t.Fatalf("received %d of %d notifications", len(got), len(tc.channels))
				}
			}
			for _, c := range tc.channels {
				assert.Equal(t, tc.event.Name(), got[c].Event, c)
			}
		})
	}
}
