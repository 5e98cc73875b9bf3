package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fisioflow/calsync/internal/calendar"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type syncJob struct {
	ID          string               `json:"id"`
	OwnerID     string               `json:"owner_id"`
	Appointment calendar.Appointment `json:"appointment"`
	EnqueuedAt  time.Time            `json:"enqueued_at"`
}

func encodeJob(job syncJob) (syncJob, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return syncJob{}, "", fmt.Errorf("sync: failed to encode job: %w", err)
	}
	return job, string(body), nil
}
