package sync

import (
	"context"
	"encoding/json"
	"errors"
	stdsync "sync"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 10
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// Worker consumes sync jobs from the queue and runs them through the
// orchestrator.
type Worker struct {
	syncer appointmentSyncer
	queue  queueClient
	logger *logging.Logger

	cfg workerConfig
	wg  stdsync.WaitGroup
}

func NewWorker(syncer appointmentSyncer, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if syncer == nil {
		panic("sync: syncer cannot be nil")
	}
	if queue == nil {
		panic("sync: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		syncer: syncer,
		queue:  queue,
		logger: logger,
		cfg:    cfg,
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("sync worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("sync worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive sync jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one job. Transient failures and in-flight collisions
// leave the message on the queue so the broker redelivers it; everything else
// (success, auth errors, validation errors) deletes the message because a
// retry cannot change the outcome.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var job syncJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("failed to decode sync job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	result := w.syncer.SyncAppointment(ctx, job.OwnerID, job.Appointment)
	if result.Err != nil {
		if errors.Is(result.Err, ErrSyncInFlight) || calendar.IsTransient(result.Err) {
			w.logger.Warn("sync job left for redelivery",
				"job_id", job.ID,
				"appointment_id", job.Appointment.ID,
				"code", result.Code,
			)
			return
		}
		w.logger.Warn("sync job failed permanently",
			"job_id", job.ID,
			"appointment_id", job.Appointment.ID,
			"code", result.Code,
			"error", result.Err,
		)
	}
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete sync job", "error", err)
	}
}
