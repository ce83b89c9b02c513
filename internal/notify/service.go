// Package notify pushes ticket lifecycle events to customers over PubNub.
// Each ticket has its own channel, ticket_<id>.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anousonefs/linewait/internal/domain"
)

type NotificationService struct {
	publisher Publisher
}

func NewNotificationService(publisher Publisher) *NotificationService {
	if publisher == nil {
		publisher = LogPublisher{}
	}
	return &NotificationService{publisher: publisher}
}

// Notify publishes ev to its ticket's channel.
func (ns *NotificationService) Notify(ctx context.Context, ev domain.Event) error {
	topic := ev.Topic()
	timetoken, err := ns.publisher.Publish(ctx, topic, ev)
	if err != nil {
		return fmt.Errorf("ns.publisher.Publish(%v): %w", topic, err)
	}
	slog.Debug("notification sent", "channel", topic, "type", ev.Type, "timetoken", timetoken)
	return nil
}
