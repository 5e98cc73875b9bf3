package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/fisioflow/calsync/internal/availability"
	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/internal/credentials"
	httpmiddleware "github.com/fisioflow/calsync/internal/http/middleware"
	appsync "github.com/fisioflow/calsync/internal/sync"
)

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(httpmiddleware.WithOwnerID(req.Context(), "user-1"))
}

type fakeManager struct {
	consentURL  string
	exchanged   *credentials.Credential
	exchangeErr error
	connected   bool
	expiry      time.Time
	disconnects int
}

func (m *fakeManager) ConsentURL(ownerID string) string { return m.consentURL + "?state=" + ownerID }

func (m *fakeManager) Exchange(ctx context.Context, ownerID, code string, opts ...oauth2.AuthCodeOption) (*credentials.Credential, error) {
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.exchanged, nil
}

func (m *fakeManager) Disconnect(ctx context.Context, ownerID string) error {
	m.disconnects++
	return nil
}

func (m *fakeManager) Status(ctx context.Context, ownerID string) (bool, time.Time, error) {
	return m.connected, m.expiry, nil
}

func TestConnectHandlerAuthURL(t *testing.T) {
	h := NewConnectHandler(&fakeManager{consentURL: "https://accounts.example.com/auth"}, nil)
	rec := httptest.NewRecorder()
	h.AuthURL(rec, authedRequest(http.MethodGet, "/api/calendar/auth-url", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.Contains(resp["url"], "state=user-1") {
		t.Errorf("url = %q, want owner in state", resp["url"])
	}
}

func TestConnectHandlerConnect(t *testing.T) {
	mgr := &fakeManager{exchanged: &credentials.Credential{OwnerID: "user-1", Expiry: time.Now().Add(time.Hour)}}
	h := NewConnectHandler(mgr, nil)

	rec := httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/calendar/connect", `{"code":"auth-code"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/calendar/connect", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing code: status = %d, want 400", rec.Code)
	}
}

func TestConnectHandlerExchangeFailureMapsTaxonomy(t *testing.T) {
	mgr := &fakeManager{exchangeErr: &calendar.TransientError{Err: context.DeadlineExceeded}}
	h := NewConnectHandler(mgr, nil)

	rec := httptest.NewRecorder()
	h.Connect(rec, authedRequest(http.MethodPost, "/api/calendar/connect", `{"code":"auth-code"}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "unavailable" {
		t.Errorf("code = %q, want unavailable", resp.Code)
	}
}

func TestConnectHandlerStatusAndDisconnect(t *testing.T) {
	mgr := &fakeManager{connected: true, expiry: time.Now().Add(time.Hour)}
	h := NewConnectHandler(mgr, nil)

	rec := httptest.NewRecorder()
	h.Status(rec, authedRequest(http.MethodGet, "/api/calendar/status", ""))
	var status map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status["connected"] != true {
		t.Errorf("status = %v, want connected", status)
	}

	rec = httptest.NewRecorder()
	h.Disconnect(rec, authedRequest(http.MethodDelete, "/api/calendar/connection", ""))
	if rec.Code != http.StatusOK || mgr.disconnects != 1 {
		t.Errorf("disconnect: status=%d calls=%d", rec.Code, mgr.disconnects)
	}
}

type fakeAvailability struct {
	busy  []calendar.BusyInterval
	slots []availability.Slot
	err   error
	query calendar.AvailabilityQuery
}

func (f *fakeAvailability) ComputeBusy(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]calendar.BusyInterval, error) {
	f.query = query
	return f.busy, f.err
}

func (f *fakeAvailability) FindAvailableSlots(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]availability.Slot, error) {
	f.query = query
	return f.slots, f.err
}

func TestAvailabilitySlots(t *testing.T) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	engine := &fakeAvailability{slots: []availability.Slot{{Start: start, End: start.Add(time.Hour)}}}
	h := NewAvailabilityHandler(engine, nil)

	rec := httptest.NewRecorder()
	h.Slots(rec, authedRequest(http.MethodGet,
		"/api/calendar/slots?timeMin=2026-03-10T08:00:00Z&timeMax=2026-03-10T18:00:00Z&duration=60&step=30&calendarIds=primary,shared", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if engine.query.DurationMinutes != 60 || engine.query.StepMinutes != 30 {
		t.Errorf("query = %+v, want duration/step parsed", engine.query)
	}
	if len(engine.query.CalendarIDs) != 2 {
		t.Errorf("calendarIds = %v, want 2", engine.query.CalendarIDs)
	}
}

func TestAvailabilityRejectsBadTimes(t *testing.T) {
	h := NewAvailabilityHandler(&fakeAvailability{}, nil)
	rec := httptest.NewRecorder()
	h.Busy(rec, authedRequest(http.MethodGet, "/api/calendar/busy?timeMin=yesterday", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAvailabilityAuthExpiredIs401(t *testing.T) {
	h := NewAvailabilityHandler(&fakeAvailability{err: calendar.ErrAuthExpired}, nil)
	rec := httptest.NewRecorder()
	h.Busy(rec, authedRequest(http.MethodGet,
		"/api/calendar/busy?timeMin=2026-03-10T08:00:00Z&timeMax=2026-03-10T18:00:00Z", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

type fakeSyncer struct {
	result appsync.Result
}

func (f *fakeSyncer) SyncAppointment(ctx context.Context, ownerID string, appt calendar.Appointment) appsync.Result {
	res := f.result
	res.AppointmentID = appt.ID
	return res
}

type fakeBatch struct {
	results []appsync.ItemResult
	got     int
}

func (f *fakeBatch) SyncMany(ctx context.Context, ownerID string, appts []calendar.Appointment) []appsync.ItemResult {
	f.got = len(appts)
	return f.results
}

type fakePublisher struct {
	jobID string
	err   error
}

func (f *fakePublisher) Enqueue(ctx context.Context, ownerID string, appt calendar.Appointment) (string, error) {
	return f.jobID, f.err
}

const apptBody = `{
	"appointmentId": "appt-1",
	"patientName": "Jane Doe",
	"professionalName": "Dr. Silva",
	"professionalEmail": "silva@fisioflow.example",
	"start": "2026-03-10T14:00:00Z",
	"end": "2026-03-10T15:00:00Z",
	"type": "Fisioterapia",
	"status": "scheduled"
}`

func TestSyncHandlerReportsOutcomeInBody(t *testing.T) {
	syncer := &fakeSyncer{result: appsync.Result{
		Action:          calendar.ActionCreate,
		Status:          calendar.SyncSynced,
		ExternalEventID: "evt-1",
	}}
	h := NewSyncHandler(syncer, &fakeBatch{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Sync(rec, authedRequest(http.MethodPost, "/api/calendar/sync", apptBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp syncResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Action != "create" || resp.ExternalEventID != "evt-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSyncHandlerFailedSyncStillReturns200(t *testing.T) {
	syncer := &fakeSyncer{result: appsync.Result{
		Action: calendar.ActionCreate,
		Status: calendar.SyncError,
		Err:    calendar.ErrAuthExpired,
		Code:   "unauthenticated",
	}}
	h := NewSyncHandler(syncer, &fakeBatch{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Sync(rec, authedRequest(http.MethodPost, "/api/calendar/sync", apptBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error in body", rec.Code)
	}
	var resp syncResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "unauthenticated" || resp.Error == "" {
		t.Errorf("response = %+v, want recorded error", resp)
	}
}

func TestSyncHandlerRejectsBadStatus(t *testing.T) {
	h := NewSyncHandler(&fakeSyncer{}, &fakeBatch{}, nil, nil)
	rec := httptest.NewRecorder()
	body := strings.Replace(apptBody, "scheduled", "unknown", 1)
	h.Sync(rec, authedRequest(http.MethodPost, "/api/calendar/sync", body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSyncBatchHandler(t *testing.T) {
	batch := &fakeBatch{results: []appsync.ItemResult{
		{AppointmentID: "appt-1", OK: true},
		{AppointmentID: "appt-2", OK: false, Code: "invalid-argument"},
	}}
	h := NewSyncHandler(&fakeSyncer{}, batch, nil, nil)

	body := `{"appointments": [` + apptBody + `,` + strings.Replace(apptBody, "appt-1", "appt-2", 1) + `]}`
	rec := httptest.NewRecorder()
	h.SyncBatch(rec, authedRequest(http.MethodPost, "/api/calendar/sync/batch", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if batch.got != 2 {
		t.Errorf("batch received %d appointments, want 2", batch.got)
	}
}

func TestEnqueueHandler(t *testing.T) {
	h := NewSyncHandler(&fakeSyncer{}, &fakeBatch{}, &fakePublisher{jobID: "job-1"}, nil)
	rec := httptest.NewRecorder()
	h.Enqueue(rec, authedRequest(http.MethodPost, "/api/calendar/sync/enqueue", apptBody))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	// Without a queue the endpoint degrades explicitly.
	h = NewSyncHandler(&fakeSyncer{}, &fakeBatch{}, nil, nil)
	rec = httptest.NewRecorder()
	h.Enqueue(rec, authedRequest(http.MethodPost, "/api/calendar/sync/enqueue", apptBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookStubAcknowledges(t *testing.T) {
	h := NewWebhookHandler(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendar", strings.NewReader(`{"resource":"x"}`))
	h.HandleNotification(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
