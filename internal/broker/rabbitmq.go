package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	headerEventType    = "event_type"
	headerAggregateID  = "aggregate_id"
	headerPartitionKey = "partition_key"
)

// Channel is the subset of *amqp.Channel used by RabbitPublisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes to a topic exchange in confirm mode.
// The routing key is "<prefix>.<partition key>" so consumers can bind per account.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	prefix   string

	mu       sync.Mutex
	confirms chan amqp.Confirmation
	nextTag  uint64
	closed   bool
}

// DialRabbit connects to url, declares the exchange and enables publisher confirms.
func DialRabbit(url, exchange, routingPrefix string) (*RabbitPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": "payment-ledger-outbox",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	p, err := NewRabbitPublisher(ch, exchange, routingPrefix)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewRabbitPublisher prepares an already-open channel for confirmed publishing.
func NewRabbitPublisher(ch Channel, exchange, routingPrefix string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 16))
	return &RabbitPublisher{
		ch:       ch,
		exchange: exchange,
		prefix:   routingPrefix,
		confirms: confirms,
	}, nil
}

// RoutingKey returns the routing key used for partitionKey.
func (p *RabbitPublisher) RoutingKey(partitionKey string) string {
	if p.prefix == "" {
		return partitionKey
	}
	return p.prefix + "." + partitionKey
}

// Publish sends msg and waits for the broker's confirm. Publishes are serialized so each
// confirm can be matched to its delivery tag.
func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	err := p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(msg.PartitionKey), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         msg.Type,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			headerEventType:    msg.Type,
			headerAggregateID:  msg.AggregateID.String(),
			headerPartitionKey: msg.PartitionKey,
		},
		Body: msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.ID, err)
	}
	p.nextTag++
	want := p.nextTag

	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				p.closed = true
				return fmt.Errorf("publish %s: %w", msg.ID, ErrClosed)
			}
			if confirm.DeliveryTag < want {
				// Late confirm for a publish that already timed out.
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("publish %s: %w", msg.ID, ErrNacked)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("publish %s: waiting for confirm: %w", msg.ID, ctx.Err())
		}
	}
}

// Close closes the channel and the owned connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if err := p.ch.Close(); err != nil {
		zap.L().Warn("close rabbitmq channel", zap.Error(err))
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
