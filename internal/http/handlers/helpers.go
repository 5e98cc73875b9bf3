// Package handlers exposes the calendar sync engine over REST.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps an engine error onto the RPC taxonomy and its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := calendar.Code(err)
	writeJSON(w, calendar.HTTPStatus(code), errorResponse{Error: err.Error(), Code: code})
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: detail, Code: "invalid-argument"})
}

// appointmentRequest is the collaborator-supplied appointment record.
type appointmentRequest struct {
	AppointmentID     string    `json:"appointmentId"`
	PatientName       string    `json:"patientName"`
	PatientEmail      string    `json:"patientEmail,omitempty"`
	ProfessionalName  string    `json:"professionalName"`
	ProfessionalEmail string    `json:"professionalEmail"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end,omitempty"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	Notes             string    `json:"notes,omitempty"`
	Location          string    `json:"location,omitempty"`
	ExternalEventID   string    `json:"externalEventId,omitempty"`
}

func (r appointmentRequest) toDomain() calendar.Appointment {
	return calendar.Appointment{
		ID:                r.AppointmentID,
		PatientName:       r.PatientName,
		PatientEmail:      r.PatientEmail,
		ProfessionalName:  r.ProfessionalName,
		ProfessionalEmail: r.ProfessionalEmail,
		Start:             r.Start,
		End:               r.End,
		Type:              r.Type,
		Status:            calendar.AppointmentStatus(r.Status),
		Notes:             r.Notes,
		Location:          r.Location,
		ExternalEventID:   r.ExternalEventID,
	}
}

func (r appointmentRequest) validate() string {
	if r.AppointmentID == "" {
		return "appointmentId is required"
	}
	if r.Start.IsZero() {
		return "start is required"
	}
	switch calendar.AppointmentStatus(r.Status) {
	case calendar.StatusScheduled, calendar.StatusRescheduled, calendar.StatusCompleted, calendar.StatusCancelled:
		return ""
	default:
		return "status must be one of scheduled, rescheduled, completed, cancelled"
	}
}
