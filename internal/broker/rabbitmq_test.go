package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel acks or nacks each publish according to replies; an empty reply list holds the confirm back.
type fakeChannel struct {
	mu        sync.Mutex
	confirms  chan amqp.Confirmation
	tag       uint64
	replies   []bool
	held      []amqp.Confirmation
	published []amqp.Publishing
	keys      []string
	exchange  string
	confirmOn bool
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchange = name
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error {
	f.confirmOn = true
	return nil
}

func (f *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = confirm
	return confirm
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tag++
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	if len(f.replies) == 0 {
		f.held = append(f.held, amqp.Confirmation{DeliveryTag: f.tag, Ack: true})
		return nil
	}
	ack := f.replies[0]
	f.replies = f.replies[1:]
	f.confirms <- amqp.Confirmation{DeliveryTag: f.tag, Ack: ack}
	return nil
}

func (f *fakeChannel) releaseHeld() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.held {
		f.confirms <- c
	}
	f.held = nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func testMessage() Message {
	return Message{
		ID:           uuid.New(),
		AggregateID:  uuid.New(),
		PartitionKey: "acc-1",
		Type:         "TransactionCompleted",
		Payload:      []byte(`{"id":"x"}`),
	}
}

func TestRabbitPublisherAck(t *testing.T) {
	ch := &fakeChannel{replies: []bool{true}}
	p, err := NewRabbitPublisher(ch, "ledger.events", "transactions")
	require.NoError(t, err)
	assert.True(t, ch.confirmOn)
	assert.Equal(t, "ledger.events", ch.exchange)

	msg := testMessage()
	require.NoError(t, p.Publish(context.Background(), msg))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "transactions.acc-1", ch.keys[0])
	assert.Equal(t, msg.ID.String(), ch.published[0].MessageId)
	assert.Equal(t, "acc-1", ch.published[0].Headers[headerPartitionKey])
	assert.Equal(t, "TransactionCompleted", ch.published[0].Headers[headerEventType])
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, msg.Payload, ch.published[0].Body)
}

func TestRabbitPublisherNack(t *testing.T) {
	ch := &fakeChannel{replies: []bool{false}}
	p, err := NewRabbitPublisher(ch, "ledger.events", "")
	require.NoError(t, err)

	err = p.Publish(context.Background(), testMessage())
	assert.True(t, errors.Is(err, ErrNacked))
	assert.Equal(t, "acc-1", ch.keys[0])
}

func TestRabbitPublisherConfirmTimeoutSkipsLateConfirm(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitPublisher(ch, "ledger.events", "tx")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Publish(ctx, testMessage())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first publish's confirm arrives late and must not be mistaken for the second's.
	ch.releaseHeld()
	ch.replies = []bool{false}
	err = p.Publish(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNacked)
}

func TestRabbitPublisherClosed(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewRabbitPublisher(ch, "ledger.events", "tx")
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), testMessage()), ErrClosed)
}
