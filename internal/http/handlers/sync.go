package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fisioflow/calsync/internal/calendar"
	httpmiddleware "github.com/fisioflow/calsync/internal/http/middleware"
	appsync "github.com/fisioflow/calsync/internal/sync"
	"github.com/fisioflow/calsync/pkg/logging"
)

type appointmentSyncer interface {
	SyncAppointment(ctx context.Context, ownerID string, appt calendar.Appointment) appsync.Result
}

type batchSyncer interface {
	SyncMany(ctx context.Context, ownerID string, appts []calendar.Appointment) []appsync.ItemResult
}

type jobPublisher interface {
	Enqueue(ctx context.Context, ownerID string, appt calendar.Appointment) (string, error)
}

// SyncHandler exposes synchronous and queued appointment sync.
type SyncHandler struct {
	syncer    appointmentSyncer
	batch     batchSyncer
	publisher jobPublisher // nil when no queue is configured
	logger    *logging.Logger
}

func NewSyncHandler(syncer appointmentSyncer, batch batchSyncer, publisher jobPublisher, logger *logging.Logger) *SyncHandler {
	if syncer == nil {
		panic("handlers: syncer required")
	}
	if batch == nil {
		panic("handlers: batch coordinator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncHandler{syncer: syncer, batch: batch, publisher: publisher, logger: logger}
}

type syncResponse struct {
	AppointmentID   string `json:"appointmentId"`
	Action          string `json:"action"`
	Status          string `json:"status"`
	ExternalEventID string `json:"externalEventId,omitempty"`
	Error           string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
}

// Sync handles POST /api/calendar/sync. The sync outcome is reported in the
// body; only malformed input produces a non-200 status, since a failed sync
// is a recorded state rather than a request error.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result := h.syncer.SyncAppointment(r.Context(), ownerID, req.toDomain())
	resp := syncResponse{
		AppointmentID:   result.AppointmentID,
		Action:          string(result.Action),
		Status:          string(result.Status),
		ExternalEventID: result.ExternalEventID,
		Code:            result.Code,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Appointments []appointmentRequest `json:"appointments"`
}

// SyncBatch handles POST /api/calendar/sync/batch.
func (h *SyncHandler) SyncBatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.Appointments) == 0 {
		writeBadRequest(w, "appointments is required")
		return
	}
	appts := make([]calendar.Appointment, 0, len(req.Appointments))
	for _, item := range req.Appointments {
		if msg := item.validate(); msg != "" {
			writeBadRequest(w, msg)
			return
		}
		appts = append(appts, item.toDomain())
	}

	results := h.batch.SyncMany(r.Context(), ownerID, appts)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Enqueue handles POST /api/calendar/sync/enqueue: fire-and-forget sync via
// the job queue.
func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "sync queue is not configured",
			Code:  "unavailable",
		})
		return
	}
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	jobID, err := h.publisher.Enqueue(r.Context(), ownerID, req.toDomain())
	if err != nil {
		h.logger.Error("enqueue sync job", "owner_id", ownerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}
