// Package calendar holds the shared domain types for the calendar
// synchronization engine: the appointment record supplied by the clinic
// application, the provider-shaped event, busy intervals, sync linkage
// records, and the error taxonomy surfaced to callers.
package calendar

import (
	"context"
	"time"
)

// AppointmentStatus mirrors the clinic application's appointment lifecycle.
type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
)

// Appointment is the record the surrounding application hands to the engine.
// The engine never queries patient or professional storage itself; everything
// it needs to build a calendar event arrives on this struct.
type Appointment struct {
	ID                string
	PatientName       string
	PatientEmail      string
	ProfessionalName  string
	ProfessionalEmail string
	Start             time.Time
	End               time.Time
	Type              string
	Status            AppointmentStatus
	Notes             string
	Location          string
	ExternalEventID   string
}

// Attendee is a calendar event participant.
type Attendee struct {
	Email       string
	DisplayName string
}

// Reminder is a notification the provider fires before the event.
type Reminder struct {
	Method  string // "email" or "popup"
	Minutes int
}

// Event is the provider-shaped calendar event. It is transient: constructed
// on demand from an Appointment and never persisted by the engine.
type Event struct {
	ExternalID    string
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	TimeZone      string
	Attendees     []Attendee
	Location      string
	ColorTag      string
	Reminders     []Reminder
	AppointmentID string
}

// BusyInterval is a half-open time range [Start, End). A slot that starts
// exactly at End, or ends exactly at Start, does not conflict.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the half-open interval conflicts with the
// half-open candidate [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// AvailabilityQuery describes a slot search. Hours are interpreted in
// TimeZone (IANA name); empty means UTC.
type AvailabilityQuery struct {
	TimeMin         time.Time
	TimeMax         time.Time
	DurationMinutes int
	WorkStartHour   int
	WorkEndHour     int
	StepMinutes     int
	CalendarIDs     []string
	TimeZone        string
}

// SyncStatus tracks the state of an appointment's calendar mirror.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// SyncRecord is the persistent linkage between an appointment and its
// external calendar event. ExternalEventID is set only after a successful
// create and cleared only after a successful delete.
type SyncRecord struct {
	AppointmentID   string
	ExternalEventID string
	Status          SyncStatus
	LastSyncAt      *time.Time
	ErrorMessage    string
}

// Action is the sync operation resolved from appointment status and linkage.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNone   Action = "none"
)

// ResolveAction implements the orchestrator state machine.
func ResolveAction(status AppointmentStatus, externalEventID string) Action {
	switch status {
	case StatusScheduled, StatusRescheduled:
		if externalEventID == "" {
			return ActionCreate
		}
		return ActionUpdate
	case StatusCompleted, StatusCancelled:
		if externalEventID == "" {
			return ActionNone
		}
		return ActionDelete
	default:
		return ActionNone
	}
}

// Provider is the adapter contract against the external calendar API.
// Implementations are stateless; every call takes the access token
// explicitly so credentials never hide inside the client.
type Provider interface {
	CreateEvent(ctx context.Context, accessToken, calendarID string, event Event) (string, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, event Event) error
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
	ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
	FreeBusy(ctx context.Context, accessToken string, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]BusyInterval, error)
}
