package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/repositories"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []kafka.Message
	failKeys map[string]bool
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		if p.failKeys[string(msg.Key)] {
			return errors.New("broker unavailable")
		}
		p.messages = append(p.messages, msg)
	}
	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// completedRegistration drives a registration through the memory store so an
// outbox event exists.
func completedRegistration(t *testing.T, store *repositories.MemoryRegistrationStore, email string) string {
	t.Helper()
	ctx := context.Background()

	id, err := store.CreateRegistration(ctx, &models.RegistrationDraft{
		FunctionID: testFunctionID,
		Type:       models.RegistrationIndividual,
		Contact:    models.Contact{FirstName: "John", LastName: "Smith", Email: email},
		Subtotal:   price("150"),
	})
	require.NoError(t, err)

	_, err = store.MarkCompleted(ctx, id, "PAY-"+id, models.CompletionAmounts{Subtotal: price("150"), Total: price("150")})
	require.NoError(t, err)
	_, err = store.AssignConfirmationNumber(ctx, id, func() string { return models.GenerateConfirmationNumber("IND") })
	require.NoError(t, err)
	return id
}

func TestOutboxRelay_PublishesPendingEvents(t *testing.T) {
	store := repositories.NewMemoryRegistrationStore(nil)
	first := completedRegistration(t, store, "one@example.org")
	second := completedRegistration(t, store, "two@example.org")

	producer := &fakeProducer{}
	metrics := NewMetrics()
	relay := NewOutboxRelay(discardLogger, store, NewEventPublisher(discardLogger, producer), metrics)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, producer.messages, 2)
	assert.Equal(t, first, string(producer.messages[0].Key))
	assert.Equal(t, second, string(producer.messages[1].Key))
	assert.Equal(t, models.EventRegistrationCompleted, headerValue(producer.messages[0], "event_type"))

	for _, e := range store.Events() {
		assert.Equal(t, models.OutboxSent, e.Status)
	}

	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent, "sent events are not published again")
}

func TestOutboxRelay_FailedEventIsRetriedLater(t *testing.T) {
	store := repositories.NewMemoryRegistrationStore(nil)
	failing := completedRegistration(t, store, "one@example.org")
	completedRegistration(t, store, "two@example.org")

	producer := &fakeProducer{failKeys: map[string]bool{failing: true}}
	relay := NewOutboxRelay(discardLogger, store, NewEventPublisher(discardLogger, producer), nil)
	relay.retryAfter = 0

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	producer.failKeys = nil
	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, producer.messages, 2)
}

func TestOutboxRelay_RunStopsWithContext(t *testing.T) {
	store := repositories.NewMemoryRegistrationStore(nil)
	relay := NewOutboxRelay(discardLogger, store, NewEventPublisher(discardLogger, NewLoggingProducer(discardLogger)), nil)
	relay.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
