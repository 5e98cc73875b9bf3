// Package availability turns raw provider busy intervals into bookable slots.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
	"github.com/fisioflow/calsync/pkg/logging"
)

// TokenSource supplies a valid access token for an owner. Satisfied by
// credentials.Manager.
type TokenSource interface {
	AccessToken(ctx context.Context, ownerID string) (string, error)
}

// Slot is a bookable window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Config wires the engine and carries the clinic's scheduling defaults,
// applied to queries that leave the corresponding field zero.
type Config struct {
	Provider          calendar.Provider
	Tokens            TokenSource
	Logger            *logging.Logger
	DefaultCalendarID string
	WorkStartHour     int
	WorkEndHour       int
	StepMinutes       int
	DurationMinutes   int
	TimeZone          string
}

type Engine struct {
	provider calendar.Provider
	tokens   TokenSource
	logger   *logging.Logger
	defaults Config
}

func New(cfg Config) *Engine {
	if cfg.Provider == nil {
		panic("availability: provider required")
	}
	if cfg.Tokens == nil {
		panic("availability: token source required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.DefaultCalendarID == "" {
		cfg.DefaultCalendarID = "primary"
	}
	if cfg.WorkStartHour == 0 && cfg.WorkEndHour == 0 {
		cfg.WorkStartHour, cfg.WorkEndHour = 8, 18
	}
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = 30
	}
	if cfg.DurationMinutes <= 0 {
		cfg.DurationMinutes = 60
	}
	return &Engine{
		provider: cfg.Provider,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
		defaults: cfg,
	}
}

// ComputeBusy queries free/busy across the requested calendars and returns
// the merged, start-sorted busy intervals.
func (e *Engine) ComputeBusy(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]calendar.BusyInterval, error) {
	query = e.normalize(query)
	if err := validate(query); err != nil {
		return nil, err
	}
	token, err := e.tokens.AccessToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	byCalendar, err := e.provider.FreeBusy(ctx, token, query.CalendarIDs, query.TimeMin, query.TimeMax)
	if err != nil {
		return nil, err
	}
	var all []calendar.BusyInterval
	for _, intervals := range byCalendar {
		all = append(all, intervals...)
	}
	merged := MergeBusy(all)
	e.logger.Debug("computed busy intervals",
		"owner_id", ownerID,
		"calendars", len(query.CalendarIDs),
		"raw", len(all),
		"merged", len(merged),
	)
	return merged, nil
}

// FindAvailableSlots returns the open slots between the query bounds that fit
// inside the working-hours window.
func (e *Engine) FindAvailableSlots(ctx context.Context, ownerID string, query calendar.AvailabilityQuery) ([]Slot, error) {
	query = e.normalize(query)
	busy, err := e.ComputeBusy(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	return FindSlots(busy, query)
}

func (e *Engine) normalize(q calendar.AvailabilityQuery) calendar.AvailabilityQuery {
	if len(q.CalendarIDs) == 0 {
		q.CalendarIDs = []string{e.defaults.DefaultCalendarID}
	}
	if q.WorkStartHour == 0 && q.WorkEndHour == 0 {
		q.WorkStartHour = e.defaults.WorkStartHour
		q.WorkEndHour = e.defaults.WorkEndHour
	}
	if q.StepMinutes <= 0 {
		q.StepMinutes = e.defaults.StepMinutes
	}
	if q.DurationMinutes <= 0 {
		q.DurationMinutes = e.defaults.DurationMinutes
	}
	if q.TimeZone == "" {
		q.TimeZone = e.defaults.TimeZone
	}
	return q
}

func validate(q calendar.AvailabilityQuery) error {
	if q.TimeMin.IsZero() || q.TimeMax.IsZero() || !q.TimeMin.Before(q.TimeMax) {
		return &calendar.InvalidRequestError{Status: 400, Detail: "timeMin must precede timeMax"}
	}
	if q.WorkStartHour < 0 || q.WorkEndHour > 24 || q.WorkStartHour >= q.WorkEndHour {
		return &calendar.InvalidRequestError{Status: 400, Detail: "work hours out of range"}
	}
	return nil
}

// MergeBusy sorts intervals by start and coalesces overlapping or adjacent
// ones into maximal disjoint intervals. The input is not mutated.
func MergeBusy(intervals []calendar.BusyInterval) []calendar.BusyInterval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]calendar.BusyInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []calendar.BusyInterval{sorted[0]}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !next.Start.After(last.End) {
			if next.End.After(last.End) {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

// FindSlots scans the candidate grid between the query bounds. Candidates
// advance in StepMinutes increments from each day's work-start; a candidate
// survives if its half-open window clears every busy interval and its end
// stays inside both the working day and the query range.
func FindSlots(busy []calendar.BusyInterval, query calendar.AvailabilityQuery) ([]Slot, error) {
	if err := validate(query); err != nil {
		return nil, err
	}
	loc := time.UTC
	if query.TimeZone != "" {
		parsed, err := time.LoadLocation(query.TimeZone)
		if err != nil {
			return nil, &calendar.InvalidRequestError{Status: 400, Detail: fmt.Sprintf("unknown time zone %q", query.TimeZone)}
		}
		loc = parsed
	}

	step := time.Duration(query.StepMinutes) * time.Minute
	duration := time.Duration(query.DurationMinutes) * time.Minute
	merged := MergeBusy(busy)

	slots := []Slot{}
	min := query.TimeMin.In(loc)
	day := time.Date(min.Year(), min.Month(), min.Day(), 0, 0, 0, 0, loc)
	for day.Before(query.TimeMax) {
		windowStart := time.Date(day.Year(), day.Month(), day.Day(), query.WorkStartHour, 0, 0, 0, loc)
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), query.WorkEndHour, 0, 0, 0, loc)

		start := windowStart
		if query.TimeMin.After(start) {
			// First grid point at or after timeMin.
			offset := query.TimeMin.Sub(windowStart)
			steps := int64((offset + step - 1) / step)
			start = windowStart.Add(time.Duration(steps) * step)
		}
		for {
			end := start.Add(duration)
			if end.After(windowEnd) || end.After(query.TimeMax) {
				break
			}
			if !conflicts(merged, start, end) {
				slots = append(slots, Slot{Start: start, End: end})
			}
			start = start.Add(step)
		}
		day = day.AddDate(0, 0, 1)
	}
	return slots, nil
}

func conflicts(busy []calendar.BusyInterval, start, end time.Time) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
