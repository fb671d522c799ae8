package messaging

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const testTimeout = 2 * time.Second

func receiveOne(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestNewMemoryPubSub(t *testing.T) {
	ch := NewMemoryChannel()
	pub := NewMemoryPublisher(ch, "notifications")
	sub := NewMemorySubscriber(ch, "notifications")
	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if sub == nil {
		t.Fatal("expected non-nil subscriber")
	}
}

func TestMemoryPublishAndSubscribe(t *testing.T) {
	ch := NewMemoryChannel()
	pub := NewMemoryPublisher(ch, "notifications")
	sub := NewMemorySubscriber(ch, "notifications")
	defer pub.Close()

	msgCh := sub.Subscribe()

	uuid := watermill.NewUUID()
	payload := []byte(`{"template_name":"email_code"}`)
	err := pub.Publish(message.NewMessage(uuid, payload))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := receiveOne(t, msgCh)
	if msg.UUID != uuid {
		t.Errorf("expected UUID %s, got %s", uuid, msg.UUID)
	}
	if string(msg.Payload) != string(payload) {
		t.Errorf("expected payload %q, got %q", payload, msg.Payload)
	}
	msg.Ack()
}

func TestMemorySubscriberMultipleMessages(t *testing.T) {
	ch := NewMemoryChannel()
	pub := NewMemoryPublisher(ch, "notifications")
	sub := NewMemorySubscriber(ch, "notifications")
	defer pub.Close()

	msgCh := sub.Subscribe()

	for range 3 {
		if err := pub.Publish(message.NewMessage(watermill.NewUUID(), []byte("x"))); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for range 3 {
		msg := receiveOne(t, msgCh)
		msg.Ack()
	}
}
