package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a channel-backed queueClient for local development and
// tests. Unlike SQS there is no redelivery: a message handed to a receiver
// is gone, so "leave for redelivery" semantics only hold on the real queue.
type MemoryQueue struct {
	ch chan queueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := queueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first message, then drains
// whatever else is immediately available up to maxMessages.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var deadline <-chan time.Time
	if waitSeconds > 0 {
		t := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer t.Stop()
		deadline = t.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, nil
	case first = <-q.ch:
	}

	batch := []queueMessage{first}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (q *MemoryQueue) Delete(context.Context, string) error { return nil }
