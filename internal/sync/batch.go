package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"golang.org/x/time/rate"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/internal/observability/metrics"
	"github.com/fisioflow/calsync/pkg/logging"
)

// appointmentSyncer is the Orchestrator surface the coordinator needs.
type appointmentSyncer interface {
	SyncAppointment(ctx context.Context, ownerID string, appt calendar.Appointment) Result
}

// ItemResult is one entry of the per-item batch report.
type ItemResult struct {
	AppointmentID string `json:"appointmentId"`
	OK            bool   `json:"ok"`
	Code          string `json:"code,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// CoordinatorConfig wires the batch layer.
type CoordinatorConfig struct {
	Syncer        appointmentSyncer
	Concurrency   int
	RatePerSecond float64
	RateBurst     int
	Logger        *logging.Logger
	Metrics       *metrics.SyncMetrics
}

// Coordinator drives the orchestrator over many appointments with bounded
// concurrency and a shared rate limit toward the provider.
type Coordinator struct {
	syncer      appointmentSyncer
	concurrency int
	limiter     *rate.Limiter
	logger      *logging.Logger
	metrics     *metrics.SyncMetrics
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Syncer == nil {
		panic("sync: syncer required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = int(cfg.RatePerSecond)
		if cfg.RateBurst < 1 {
			cfg.RateBurst = 1
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Coordinator{
		syncer:      cfg.Syncer,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// SyncMany processes every appointment and returns a complete per-item
// report in input order. A failure on one item never aborts the rest; the
// caller retries only the failed subset.
func (c *Coordinator) SyncMany(ctx context.Context, ownerID string, appts []calendar.Appointment) []ItemResult {
	results := make([]ItemResult, len(appts))
	if len(appts) == 0 {
		return results
	}
	c.metrics.ObserveBatchSize(len(appts))

	indexes := make(chan int)
	var wg stdsync.WaitGroup
	workers := c.concurrency
	if workers > len(appts) {
		workers = len(appts)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				results[idx] = c.syncOne(ctx, ownerID, appts[idx])
			}
		}()
	}
	for idx := range appts {
		indexes <- idx
	}
	close(indexes)
	wg.Wait()
	return results
}

func (c *Coordinator) syncOne(ctx context.Context, ownerID string, appt calendar.Appointment) (item ItemResult) {
	item = ItemResult{AppointmentID: appt.ID}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sync panic recovered", "appointment_id", appt.ID, "panic", r)
			item.OK = false
			item.Code = "internal"
			item.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		item.Code = "unavailable"
		item.Detail = err.Error()
		return item
	}

	res := c.syncer.SyncAppointment(ctx, ownerID, appt)
	if res.Err != nil {
		item.Code = res.Code
		item.Detail = res.Err.Error()
		return item
	}
	item.OK = true
	return item
}
