package sync

import (
	"context"
	"fmt"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/pkg/logging"
)

// Publisher enqueues sync jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("sync: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue publishes one appointment sync job.
func (p *Publisher) Enqueue(ctx context.Context, ownerID string, appt calendar.Appointment) (string, error) {
	if appt.ID == "" {
		return "", &calendar.InvalidRequestError{Status: 400, Detail: "appointment id required"}
	}
	job, body, err := encodeJob(syncJob{OwnerID: ownerID, Appointment: appt})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("sync: failed to enqueue job: %w", err)
	}
	p.logger.Debug("sync job enqueued",
		"job_id", job.ID,
		"appointment_id", appt.ID,
		"owner_id", ownerID,
	)
	return job.ID, nil
}
