package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"carpool/internal/booking/domain"
	"carpool/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAck struct {
	acked, nacked, requeued bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

type fakeSource struct {
	queue   string
	handler func(amqp.Delivery)
}

func (s *fakeSource) Consume(ctx context.Context, queueName string, handler func(amqp.Delivery)) {
	s.queue = queueName
	s.handler = handler
}

func TestNotificationConsumer(t *testing.T) {
	var got []domain.BookingEvent
	source := &fakeSource{}
	c := New(source, func(ctx context.Context, e domain.BookingEvent) {
		got = append(got, e)
	}, logger.Nop())
	c.StartConsuming(context.Background())
	require.Equal(t, "booking_notifications", source.queue)

	body, err := json.Marshal(domain.BookingEvent{ID: "e-1", Kind: domain.EventNewRequest, BookingID: "b-1", OwnerID: "owner"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   []byte
		acked  bool
		nacked bool
	}{
		{"valid event", body, true, false},
		{"malformed json", []byte("{"), false, true},
		{"unknown kind", []byte(`{"kind":"RIDE_MATCHED"}`), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAck{}
			source.handler(amqp.Delivery{Acknowledger: ack, Body: tt.body})
			assert.Equal(t, tt.acked, ack.acked)
			assert.Equal(t, tt.nacked, ack.nacked)
			assert.False(t, ack.requeued)
		})
	}

	require.Len(t, got, 1)
	assert.Equal(t, "owner", got[0].Recipient())
}
