package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fisioflow/calsync/internal/availability"
	"github.com/fisioflow/calsync/internal/calendar"
	httpmiddleware "github.com/fisioflow/calsync/internal/http/middleware"
	"github.com/fisioflow/calsync/pkg/logging"
)

type availabilityEngine interface {
	ComputeBusy(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]calendar.BusyInterval, error)
	FindAvailableSlots(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]availability.Slot, error)
}

// AvailabilityHandler serves busy intervals and open slots.
type AvailabilityHandler struct {
	engine availabilityEngine
	logger *logging.Logger
}

func NewAvailabilityHandler(engine availabilityEngine, logger *logging.Logger) *AvailabilityHandler {
	if engine == nil {
		panic("handlers: availability engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{engine: engine, logger: logger}
}

// Busy handles GET /api/calendar/busy.
func (h *AvailabilityHandler) Busy(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	query, errMsg := parseAvailabilityQuery(r)
	if errMsg != "" {
		writeBadRequest(w, errMsg)
		return
	}
	busy, err := h.engine.ComputeBusy(r.Context(), ownerID, query)
	if err != nil {
		h.logger.Warn("busy query failed", "owner_id", ownerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"busy": busy})
}

// Slots handles GET /api/calendar/slots.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httpmiddleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "missing user context")
		return
	}
	query, errMsg := parseAvailabilityQuery(r)
	if errMsg != "" {
		writeBadRequest(w, errMsg)
		return
	}
	slots, err := h.engine.FindAvailableSlots(r.Context(), ownerID, query)
	if err != nil {
		h.logger.Warn("slot search failed", "owner_id", ownerID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func parseAvailabilityQuery(r *http.Request) (calendar.AvailabilityQuery, string) {
	q := r.URL.Query()
	var query calendar.AvailabilityQuery

	timeMin, err := time.Parse(time.RFC3339, q.Get("timeMin"))
	if err != nil {
		return query, "timeMin must be RFC3339"
	}
	timeMax, err := time.Parse(time.RFC3339, q.Get("timeMax"))
	if err != nil {
		return query, "timeMax must be RFC3339"
	}
	query.TimeMin = timeMin
	query.TimeMax = timeMax

	if raw := q.Get("calendarIds"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				query.CalendarIDs = append(query.CalendarIDs, id)
			}
		}
	}
	if msg := parseIntParam(q.Get("duration"), &query.DurationMinutes); msg != "" {
		return query, msg
	}
	if msg := parseIntParam(q.Get("step"), &query.StepMinutes); msg != "" {
		return query, msg
	}
	if msg := parseIntParam(q.Get("workStartHour"), &query.WorkStartHour); msg != "" {
		return query, msg
	}
	if msg := parseIntParam(q.Get("workEndHour"), &query.WorkEndHour); msg != "" {
		return query, msg
	}
	query.TimeZone = q.Get("timeZone")
	return query, ""
}

func parseIntParam(raw string, dst *int) string {
	if raw == "" {
		return ""
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return "numeric query parameters must be non-negative integers"
	}
	*dst = value
	return ""
}
