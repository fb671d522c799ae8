package events

import (
	"encoding/json"

	"homevault/internal/notifier"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EventParams struct {
	WebURL   string
	Notifier notifier.INotifier
	DB       *gorm.DB
}

// HandleEvents consumes messages from a subscriber channel and delivers the
// matching notification. Messages are acked even on delivery failure so a
// broken mail relay does not wedge the queue; failures are logged instead.
func HandleEvents(params *EventParams, messages <-chan *message.Message) {
	for msg := range messages {
		var envelope Envelope
		if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
			zap.L().Error("Failed to unmarshal event envelope", zap.String("message_id", msg.UUID), zap.Error(err))
			msg.Ack()
			continue
		}

		if err := dispatch(params, envelope); err != nil {
			zap.L().Error("Failed to handle event",
				zap.String("message_id", msg.UUID),
				zap.String("type", string(envelope.Type)),
				zap.Error(err))
		}

		msg.Ack()
	}
}

func dispatch(params *EventParams, envelope Envelope) error {
	switch envelope.Type {
	case EventMethodEnrolled:
		var event MethodEnrolledEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return err
		}
		return params.Notifier.NotifyFromTemplate(
			event.Email,
			"A new sign-in method was added to your account",
			"mfa_method_enrolled",
			map[string]string{
				"method_type":  event.MethodType,
				"display_name": event.DisplayName,
				"web_url":      params.WebURL,
			},
		)

	case EventMethodRemoved:
		var event MethodRemovedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return err
		}
		return params.Notifier.NotifyFromTemplate(
			event.Email,
			"A sign-in method was removed from your account",
			"mfa_method_removed",
			map[string]string{
				"method_type":  event.MethodType,
				"display_name": event.DisplayName,
				"web_url":      params.WebURL,
			},
		)

	case EventMFADisabled:
		var event MFADisabledEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return err
		}
		return params.Notifier.NotifyFromTemplate(
			event.Email,
			"Two-factor authentication was disabled on your account",
			"mfa_disabled",
			map[string]string{
				"web_url": params.WebURL,
			},
		)

	default:
		zap.L().Warn("Unknown event type", zap.String("type", string(envelope.Type)))
		return nil
	}
}
