package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Config{
		BaseURL:    srv.URL,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	return client, srv
}

func sampleEvent() calendar.Event {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	return calendar.Event{
		Title:         "Fisioterapia - Jane Doe",
		Start:         start,
		End:           start.Add(time.Hour),
		TimeZone:      "America/Sao_Paulo",
		Attendees:     []calendar.Attendee{{Email: "jane@example.com", DisplayName: "Jane Doe"}},
		AppointmentID: "appt-1",
		Reminders: []calendar.Reminder{
			{Method: "email", Minutes: 24 * 60},
			{Method: "email", Minutes: 60},
		},
	}
}

func TestCreateEventReturnsID(t *testing.T) {
	var gotBody eventResource
	var gotAuth string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost || r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(eventResource{ID: "evt-123"})
	}))

	id, err := client.CreateEvent(context.Background(), "tok-abc", "primary", sampleEvent())
	if err != nil {
		t.Fatalf("CreateEvent returned error: %v", err)
	}
	if id != "evt-123" {
		t.Errorf("event id = %q, want evt-123", id)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("authorization = %q, want Bearer tok-abc", gotAuth)
	}
	if gotBody.ExtendedProperties == nil || gotBody.ExtendedProperties.Private["appointmentId"] != "appt-1" {
		t.Errorf("extendedProperties missing appointmentId: %+v", gotBody.ExtendedProperties)
	}
	if gotBody.Reminders == nil || gotBody.Reminders.UseDefault || len(gotBody.Reminders.Overrides) != 2 {
		t.Errorf("reminders not encoded as overrides: %+v", gotBody.Reminders)
	}
	if gotBody.Start == nil || gotBody.Start.TimeZone != "America/Sao_Paulo" {
		t.Errorf("start timezone not encoded: %+v", gotBody.Start)
	}
}

func TestUnauthorizedMapsToAuthExpired(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.CreateEvent(context.Background(), "stale", "primary", sampleEvent())
	if !errors.Is(err, calendar.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
}

func TestUpdateEventTreatsGoneAsNoop(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		if err := client.UpdateEvent(context.Background(), "tok", "primary", "evt-1", sampleEvent()); err != nil {
			t.Errorf("status %d: UpdateEvent = %v, want nil", status, err)
		}
	}
}

func TestDeleteEventTreatsNotFoundAsNoop(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	if err := client.DeleteEvent(context.Background(), "tok", "primary", "evt-1"); err != nil {
		t.Fatalf("DeleteEvent = %v, want nil", err)
	}
}

func TestRateLimitedRequestIsRetried(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(eventResource{ID: "evt-9"})
	}))

	id, err := client.CreateEvent(context.Background(), "tok", "primary", sampleEvent())
	if err != nil {
		t.Fatalf("CreateEvent = %v, want success after retry", err)
	}
	if id != "evt-9" {
		t.Errorf("event id = %q, want evt-9", id)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestServerErrorExhaustsRetries(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.CreateEvent(context.Background(), "tok", "primary", sampleEvent())
	if !calendar.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("provider calls = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestValidationErrorIsNotRetried(t *testing.T) {
	var calls int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid attendee email"}}`))
	}))

	_, err := client.CreateEvent(context.Background(), "tok", "primary", sampleEvent())
	var ie *calendar.InvalidRequestError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InvalidRequestError", err)
	}
	if ie.Detail != "Invalid attendee email" {
		t.Errorf("detail = %q, want provider message", ie.Detail)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestFreeBusyDecodesPerCalendar(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/freeBusy" {
			t.Errorf("path = %s, want /freeBusy", r.URL.Path)
		}
		var req freeBusyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode freebusy request: %v", err)
		}
		if len(req.Items) != 2 {
			t.Errorf("items = %d, want 2", len(req.Items))
		}
		_, _ = w.Write([]byte(`{
			"calendars": {
				"primary": {"busy": [{"start":"2026-03-10T10:00:00Z","end":"2026-03-10T11:00:00Z"}]},
				"work@group.calendar.google.com": {"busy": []}
			}
		}`))
	}))

	busy, err := client.FreeBusy(context.Background(), "tok",
		[]string{"primary", "work@group.calendar.google.com"},
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("FreeBusy = %v", err)
	}
	if len(busy["primary"]) != 1 {
		t.Fatalf("primary busy = %v, want one interval", busy["primary"])
	}
	want := calendar.BusyInterval{
		Start: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	}
	if !busy["primary"][0].Start.Equal(want.Start) || !busy["primary"][0].End.Equal(want.End) {
		t.Errorf("interval = %+v, want %+v", busy["primary"][0], want)
	}
}

func TestListEventsSkipsCancelled(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" {
			t.Errorf("query = %v, want singleEvents+orderBy", q)
		}
		_, _ = w.Write([]byte(`{"items": [
			{"id":"a","summary":"Keep","start":{"dateTime":"2026-03-10T10:00:00Z"},"end":{"dateTime":"2026-03-10T11:00:00Z"}},
			{"id":"b","summary":"Dropped","status":"cancelled"}
		]}`))
	}))

	events, err := client.ListEvents(context.Background(), "tok", "primary",
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("ListEvents = %v", err)
	}
	if len(events) != 1 || events[0].ExternalID != "a" {
		t.Errorf("events = %+v, want only event a", events)
	}
}
