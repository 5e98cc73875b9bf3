package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/internal/observability/metrics"
	"github.com/fisioflow/calsync/pkg/logging"
)

// TokenSource supplies a valid access token for an owner. Satisfied by
// credentials.Manager.
type TokenSource interface {
	AccessToken(ctx context.Context, ownerID string) (string, error)
}

// Result reports the outcome of one appointment sync. Err is never propagated
// as a panic or thrown past the orchestrator; a failed sync leaves the
// appointment usable and only the calendar mirror stale.
type Result struct {
	AppointmentID   string
	Action          calendar.Action
	Status          calendar.SyncStatus
	ExternalEventID string
	Err             error
	Code            string
}

// OrchestratorConfig wires the per-appointment sync service.
type OrchestratorConfig struct {
	Provider            calendar.Provider
	Tokens              TokenSource
	Records             RecordStore
	Locks               Locker
	Logger              *logging.Logger
	Metrics             *metrics.SyncMetrics
	CalendarID          string
	TimeZone            string
	OpTimeout           time.Duration
	DefaultEventMinutes int
	Now                 func() time.Time
}

// Orchestrator resolves the action for one appointment, runs it against the
// provider, and persists the updated linkage.
type Orchestrator struct {
	provider   calendar.Provider
	tokens     TokenSource
	records    RecordStore
	locks      Locker
	logger     *logging.Logger
	metrics    *metrics.SyncMetrics
	calendarID string
	timeZone   string
	opTimeout  time.Duration
	defaultLen time.Duration
	now        func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Provider == nil {
		panic("sync: provider required")
	}
	if cfg.Tokens == nil {
		panic("sync: token source required")
	}
	if cfg.Records == nil {
		panic("sync: record store required")
	}
	if cfg.Locks == nil {
		cfg.Locks = NewKeyedLock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "America/Sao_Paulo"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 45 * time.Second
	}
	if cfg.DefaultEventMinutes <= 0 {
		cfg.DefaultEventMinutes = 60
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		provider:   cfg.Provider,
		tokens:     cfg.Tokens,
		records:    cfg.Records,
		locks:      cfg.Locks,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		opTimeout:  cfg.OpTimeout,
		defaultLen: time.Duration(cfg.DefaultEventMinutes) * time.Minute,
		now:        cfg.Now,
	}
}

// SyncAppointment mirrors one appointment onto the owner's calendar. Syncs
// for the same appointment are serialized through the configured Locker; the
// lock is released on every exit path, timeouts included.
func (o *Orchestrator) SyncAppointment(ctx context.Context, ownerID string, appt calendar.Appointment) Result {
	result := Result{AppointmentID: appt.ID}
	if appt.ID == "" {
		return o.fail(result, calendar.ActionNone, &calendar.InvalidRequestError{Status: 400, Detail: "appointment id required"})
	}

	unlock, err := o.locks.Acquire(ctx, appt.ID)
	if err != nil {
		return o.fail(result, calendar.ActionNone, err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.opTimeout)
	defer cancel()

	rec, err := o.records.Get(ctx, appt.ID)
	if err != nil {
		// Record-store failures are fatal to this operation: without the
		// linkage we cannot tell CREATE from UPDATE.
		return o.fail(result, calendar.ActionNone, err)
	}
	if rec == nil {
		rec = &calendar.SyncRecord{AppointmentID: appt.ID, Status: calendar.SyncPending}
		if appt.ExternalEventID != "" {
			rec.ExternalEventID = appt.ExternalEventID
		}
	}

	action := calendar.ResolveAction(appt.Status, rec.ExternalEventID)
	result.Action = action
	if action == calendar.ActionNone {
		return o.finish(ctx, result, rec, nil)
	}

	token, err := o.tokens.AccessToken(ctx, ownerID)
	if err != nil {
		return o.finish(ctx, result, rec, err)
	}

	switch action {
	case calendar.ActionCreate:
		var id string
		id, err = o.timedCreate(ctx, token, appt)
		if err == nil {
			rec.ExternalEventID = id
		}
	case calendar.ActionUpdate:
		err = o.timedUpdate(ctx, token, rec.ExternalEventID, appt)
	case calendar.ActionDelete:
		err = o.timedDelete(ctx, token, rec.ExternalEventID)
		if err == nil {
			rec.ExternalEventID = ""
		}
	}
	return o.finish(ctx, result, rec, err)
}

// finish records the outcome on the sync record and persists it. On
// AuthExpired the external event id is kept: the provider state is unknown,
// not confirmed deleted.
func (o *Orchestrator) finish(ctx context.Context, result Result, rec *calendar.SyncRecord, opErr error) Result {
	if opErr == nil {
		now := o.now()
		rec.Status = calendar.SyncSynced
		rec.LastSyncAt = &now
		rec.ErrorMessage = ""
	} else {
		if ctx.Err() != nil && !calendar.IsTransient(opErr) && !errors.Is(opErr, calendar.ErrAuthExpired) {
			opErr = &calendar.TransientError{Err: opErr}
		}
		rec.Status = calendar.SyncError
		rec.ErrorMessage = userFacingMessage(opErr)
		result.Err = opErr
		result.Code = calendar.Code(opErr)
	}
	result.Status = rec.Status
	result.ExternalEventID = rec.ExternalEventID

	if saveErr := o.records.Upsert(ctx, rec); saveErr != nil {
		o.logger.Error("persist sync record",
			"appointment_id", rec.AppointmentID,
			"error", saveErr,
		)
		result.Err = saveErr
		result.Code = "internal"
		result.Status = calendar.SyncError
	}

	if result.Err != nil {
		o.logger.Warn("appointment sync failed",
			"appointment_id", result.AppointmentID,
			"action", result.Action,
			"code", result.Code,
			"error", result.Err,
		)
	} else {
		o.logger.Info("appointment synced",
			"appointment_id", result.AppointmentID,
			"action", result.Action,
			"external_event_id", result.ExternalEventID,
		)
	}
	o.metrics.ObserveSync(string(result.Action), string(result.Status))
	return result
}

// fail is the path for errors raised before the record could be loaded.
func (o *Orchestrator) fail(result Result, action calendar.Action, err error) Result {
	result.Action = action
	result.Status = calendar.SyncError
	result.Err = err
	result.Code = calendar.Code(err)
	o.metrics.ObserveSync(string(action), string(calendar.SyncError))
	return result
}

func (o *Orchestrator) timedCreate(ctx context.Context, token string, appt calendar.Appointment) (string, error) {
	start := o.now()
	id, err := o.provider.CreateEvent(ctx, token, o.calendarID, o.buildEvent(appt))
	o.metrics.ObserveProviderLatency("create_event", o.now().Sub(start).Seconds())
	return id, err
}

func (o *Orchestrator) timedUpdate(ctx context.Context, token, eventID string, appt calendar.Appointment) error {
	start := o.now()
	err := o.provider.UpdateEvent(ctx, token, o.calendarID, eventID, o.buildEvent(appt))
	o.metrics.ObserveProviderLatency("update_event", o.now().Sub(start).Seconds())
	return err
}

func (o *Orchestrator) timedDelete(ctx context.Context, token, eventID string) error {
	start := o.now()
	err := o.provider.DeleteEvent(ctx, token, o.calendarID, eventID)
	o.metrics.ObserveProviderLatency("delete_event", o.now().Sub(start).Seconds())
	return err
}

// buildEvent shapes the provider event from the appointment record supplied
// by the clinic application.
func (o *Orchestrator) buildEvent(appt calendar.Appointment) calendar.Event {
	end := appt.End
	if end.IsZero() || !end.After(appt.Start) {
		end = appt.Start.Add(o.defaultLen)
	}
	location := appt.Location
	if location == "" {
		location = "FisioFlow"
	}

	event := calendar.Event{
		Title:         "Fisioterapia - " + appt.PatientName,
		Description:   eventDescription(appt),
		Start:         appt.Start,
		End:           end,
		TimeZone:      o.timeZone,
		Location:      location,
		AppointmentID: appt.ID,
		Reminders: []calendar.Reminder{
			{Method: "email", Minutes: 24 * 60},
			{Method: "email", Minutes: 60},
		},
	}
	if appt.ProfessionalEmail != "" {
		event.Attendees = append(event.Attendees, calendar.Attendee{
			Email:       appt.ProfessionalEmail,
			DisplayName: appt.ProfessionalName,
		})
	}
	if appt.PatientEmail != "" {
		event.Attendees = append(event.Attendees, calendar.Attendee{
			Email:       appt.PatientEmail,
			DisplayName: appt.PatientName,
		})
	}
	return event
}

func eventDescription(appt calendar.Appointment) string {
	var b strings.Builder
	b.WriteString("FisioFlow - Sessão de Fisioterapia\n\n")
	fmt.Fprintf(&b, "Paciente: %s\n", appt.PatientName)
	if appt.Type != "" {
		fmt.Fprintf(&b, "Tipo: %s\n", appt.Type)
	}
	fmt.Fprintf(&b, "Fisioterapeuta: %s\n", appt.ProfessionalName)
	if appt.Notes != "" {
		fmt.Fprintf(&b, "\nObservações: %s\n", appt.Notes)
	}
	b.WriteString("\n---\nEste evento foi sincronizado automaticamente pelo FisioFlow.")
	return b.String()
}

// userFacingMessage turns an engine error into the actionable message stored
// on the sync record.
func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, calendar.ErrAuthExpired), errors.Is(err, calendar.ErrCredentialMissing):
		return "calendar authorization expired; reconnect your calendar"
	case calendar.IsTransient(err):
		return "temporary provider failure; will retry"
	default:
		return err.Error()
	}
}
