// Package broker publishes outbox events to the message channel.
package broker

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNacked is returned when the broker explicitly rejects a message.
	ErrNacked = errors.New("broker rejected message")
	// ErrClosed is returned when publishing on a closed publisher.
	ErrClosed = errors.New("publisher closed")
)

// Message is one outbox event on its way to the channel.
type Message struct {
	ID           uuid.UUID
	AggregateID  uuid.UUID
	PartitionKey string
	Type         string
	Payload      []byte
}

// Publisher delivers a message and returns only after the channel acknowledged it.
// Any error means the message must be treated as not delivered.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
