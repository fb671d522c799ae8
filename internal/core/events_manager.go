package core

import (
	"homevault/internal/configuration"
	"homevault/internal/messaging"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// EventsManager owns the pub/sub pairs for every topic. The in-process
// provider requires the same channel instance to be shared between publisher
// and subscriber, so both sides are created together.
type EventsManager struct {
	publishers  map[string]messaging.IPublisher
	subscribers map[string]messaging.ISubscriber
}

func NewEventsManager() *EventsManager {
	manager := &EventsManager{
		publishers:  make(map[string]messaging.IPublisher),
		subscribers: make(map[string]messaging.ISubscriber),
	}

	for _, topic := range []string{configuration.EventsNotifications} {
		ch := messaging.NewMemoryChannel()
		manager.publishers[topic] = messaging.NewMemoryPublisher(ch, topic)
		manager.subscribers[topic] = messaging.NewMemorySubscriber(ch, topic)

		zap.L().Info("Initialized topic", zap.String("topic", topic))
	}

	return manager
}

func (em *EventsManager) GetPublisher(topicKey string) messaging.IPublisher {
	publisher, exists := em.publishers[topicKey]
	if !exists {
		zap.L().Warn("Publisher not found", zap.String("topic_key", topicKey))
		return nil
	}
	return publisher
}

func (em *EventsManager) GetSubscriber(topicKey string) messaging.ISubscriber {
	subscriber, exists := em.subscribers[topicKey]
	if !exists {
		zap.L().Warn("Subscriber not found", zap.String("topic_key", topicKey))
		return nil
	}
	return subscriber
}

func (em *EventsManager) Close() {
	for topicKey, publisher := range em.publishers {
		if err := publisher.Close(); err != nil {
			zap.L().Error("Failed to close publisher",
				zap.String("topic_key", topicKey),
				zap.Error(err))
		}
	}

	for topicKey, subscriber := range em.subscribers {
		if err := subscriber.Close(); err != nil {
			zap.L().Error("Failed to close subscriber",
				zap.String("topic_key", topicKey),
				zap.Error(err))
		}
	}
}

// EventRouter exposes the notifications topic as a plain publisher so the
// services do not carry topic names around.
type EventRouter struct {
	manager *EventsManager
}

func NewEventRouter(manager *EventsManager) *EventRouter {
	return &EventRouter{manager: manager}
}

func (r *EventRouter) Publish(messages ...*message.Message) error {
	return r.manager.GetPublisher(configuration.EventsNotifications).Publish(messages...)
}

func (r *EventRouter) Close() error {
	// Topic lifecycles belong to the manager.
	return nil
}
