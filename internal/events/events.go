package events

import (
	"encoding/json"

	"homevault/internal/messaging"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

type EventType string

const (
	EventMethodEnrolled EventType = "mfa_method_enrolled"
	EventMethodRemoved  EventType = "mfa_method_removed"
	EventMFADisabled    EventType = "mfa_disabled"
)

// Envelope wraps every published event so consumers can dispatch on type
// without knowing the payload shape upfront.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func publish(publisher messaging.IPublisher, eventType EventType, payload any) {
	if publisher == nil {
		zap.L().Warn("No publisher configured, dropping event", zap.String("type", string(eventType)))
		return
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("Failed to marshal event payload", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	envelope, err := json.Marshal(Envelope{Type: eventType, Payload: rawPayload})
	if err != nil {
		zap.L().Error("Failed to marshal event envelope", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), envelope)
	if err = publisher.Publish(msg); err != nil {
		zap.L().Error("Failed to publish event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// MethodEnrolledEvent notifies a user that a new second factor became active
// on their account.
type MethodEnrolledEvent struct {
	publisher messaging.IPublisher

	Email       string `json:"email"`
	MethodType  string `json:"method_type"`
	DisplayName string `json:"display_name"`
	WebURL      string `json:"web_url"`
}

func NewMethodEnrolled(
	publisher messaging.IPublisher,
	email string,
	methodType string,
	displayName string,
	webURL string,
) *MethodEnrolledEvent {
	return &MethodEnrolledEvent{
		publisher:   publisher,
		Email:       email,
		MethodType:  methodType,
		DisplayName: displayName,
		WebURL:      webURL,
	}
}

func (e *MethodEnrolledEvent) Trigger() {
	publish(e.publisher, EventMethodEnrolled, e)
}

// MethodRemovedEvent notifies a user that a second factor was removed.
type MethodRemovedEvent struct {
	publisher messaging.IPublisher

	Email       string `json:"email"`
	MethodType  string `json:"method_type"`
	DisplayName string `json:"display_name"`
	WebURL      string `json:"web_url"`
}

func NewMethodRemoved(
	publisher messaging.IPublisher,
	email string,
	methodType string,
	displayName string,
	webURL string,
) *MethodRemovedEvent {
	return &MethodRemovedEvent{
		publisher:   publisher,
		Email:       email,
		MethodType:  methodType,
		DisplayName: displayName,
		WebURL:      webURL,
	}
}

func (e *MethodRemovedEvent) Trigger() {
	publish(e.publisher, EventMethodRemoved, e)
}

// MFADisabledEvent notifies a user that the last second factor was removed
// and their account is back to password-only login.
type MFADisabledEvent struct {
	publisher messaging.IPublisher

	Email  string `json:"email"`
	WebURL string `json:"web_url"`
}

func NewMFADisabled(publisher messaging.IPublisher, email string, webURL string) *MFADisabledEvent {
	return &MFADisabledEvent{publisher: publisher, Email: email, WebURL: webURL}
}

func (e *MFADisabledEvent) Trigger() {
	publish(e.publisher, EventMFADisabled, e)
}
