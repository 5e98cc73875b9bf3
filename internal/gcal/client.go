// Package gcal is a stateless REST client for the Google Calendar v3 API.
// Every call takes the access token explicitly; token lifecycle lives in
// internal/credentials, never here.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/pkg/logging"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/calendar/v3"
	defaultUserAgent = "fisioflow-calsync/0.1"
	maxListResults   = 250
)

// Config controls how the client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client implements calendar.Provider against Google Calendar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// CreateEvent inserts an event and returns the provider-assigned id.
func (c *Client) CreateEvent(ctx context.Context, accessToken, calendarID string, event calendar.Event) (string, error) {
	body, err := json.Marshal(toResource(event))
	if err != nil {
		return "", fmt.Errorf("gcal: marshal event: %w", err)
	}
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	data, err := c.invoke(ctx, accessToken, http.MethodPost, path, nil, body)
	if err != nil {
		return "", err
	}
	var created eventResource
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("gcal: decode created event: %w", err)
	}
	if created.ID == "" {
		return "", &calendar.InvalidRequestError{Status: http.StatusOK, Detail: "provider returned event without id"}
	}
	return created.ID, nil
}

// UpdateEvent replaces an existing event. An event that is already gone is
// treated as success.
func (c *Client) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID string, event calendar.Event) error {
	body, err := json.Marshal(toResource(event))
	if err != nil {
		return fmt.Errorf("gcal: marshal event: %w", err)
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	_, err = c.invoke(ctx, accessToken, http.MethodPut, path, nil, body)
	if errors.Is(err, calendar.ErrNotFound) {
		return nil
	}
	return err
}

// DeleteEvent removes an event. Already-absent events are success.
func (c *Client) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	_, err := c.invoke(ctx, accessToken, http.MethodDelete, path, nil, nil)
	if errors.Is(err, calendar.ErrNotFound) {
		return nil
	}
	return err
}

// ListEvents returns the expanded, start-ordered events in [timeMin, timeMax].
func (c *Client) ListEvents(ctx context.Context, accessToken, calendarID string, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	q := url.Values{}
	q.Set("timeMin", timeMin.Format(time.RFC3339))
	q.Set("timeMax", timeMax.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", fmt.Sprintf("%d", maxListResults))

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	data, err := c.invoke(ctx, accessToken, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	var list eventList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("gcal: decode event list: %w", err)
	}
	events := make([]calendar.Event, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Status == "cancelled" {
			continue
		}
		events = append(events, fromResource(item))
	}
	return events, nil
}

// FreeBusy queries busy ranges for the given calendars. The result maps
// calendar id to its raw (unmerged) busy intervals.
func (c *Client) FreeBusy(ctx context.Context, accessToken string, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]calendar.BusyInterval, error) {
	if len(calendarIDs) == 0 {
		return map[string][]calendar.BusyInterval{}, nil
	}
	req := freeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
	}
	for _, id := range calendarIDs {
		req.Items = append(req.Items, freeBusyCalendar{ID: id})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gcal: marshal freebusy request: %w", err)
	}
	data, err := c.invoke(ctx, accessToken, http.MethodPost, "/freeBusy", nil, body)
	if err != nil {
		return nil, err
	}
	var resp freeBusyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("gcal: decode freebusy response: %w", err)
	}
	out := make(map[string][]calendar.BusyInterval, len(resp.Calendars))
	for id, cal := range resp.Calendars {
		intervals := make([]calendar.BusyInterval, 0, len(cal.Busy))
		for _, b := range cal.Busy {
			start, errS := time.Parse(time.RFC3339, b.Start)
			end, errE := time.Parse(time.RFC3339, b.End)
			if errS != nil || errE != nil {
				continue
			}
			intervals = append(intervals, calendar.BusyInterval{Start: start, End: end})
		}
		out[id] = intervals
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, accessToken, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("gcal: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &calendar.TransientError{Err: ctx.Err()}
			}
			transient := &calendar.TransientError{Err: err}
			if !retryableNetErr(err) || attempt == c.maxRetries {
				return nil, transient
			}
			lastErr = transient
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &calendar.TransientError{Err: sleepErr}
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &calendar.TransientError{Err: fmt.Errorf("gcal: read response: %w", readErr)}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := classifyStatus(resp.StatusCode, data)
		if attempt < c.maxRetries && calendar.IsTransient(apiErr) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, &calendar.TransientError{Err: sleepErr}
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &calendar.TransientError{Err: errors.New("gcal: request failed without response")}
}

// classifyStatus maps provider HTTP statuses onto the engine taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("gcal: provider rejected token: %w", calendar.ErrAuthExpired)
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("gcal: %w", calendar.ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return &calendar.TransientError{Status: status, Err: errors.New(errorDetail(body))}
	default:
		return &calendar.InvalidRequestError{Status: status, Detail: errorDetail(body)}
	}
}

func errorDetail(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	if detail == "" {
		detail = "provider error"
	}
	return detail
}

func retryableNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("google calendar retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}
