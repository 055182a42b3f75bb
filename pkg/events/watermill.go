package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/chesspath/chessauth/pkg/idx"
)

// Topic is the watermill topic session events are published to.
const Topic = "chessauth.session"

// WatermillPublisher adapts a watermill message.Publisher to the Publisher
// port. The in-process gochannel pub/sub works for a single client; a broker
// publisher slots in unchanged.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher wraps publisher, emitting to Topic.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     Topic,
	}
}

func (p *WatermillPublisher) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(idx.New().String(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
