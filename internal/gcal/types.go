package gcal

import (
	"time"

	"github.com/fisioflow/calsync/internal/calendar"
)

// Wire shapes for the Google Calendar v3 REST API.

type eventDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventAttendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type eventReminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type extendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

type eventResource struct {
	ID                 string              `json:"id,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Start              *eventDateTime      `json:"start,omitempty"`
	End                *eventDateTime      `json:"end,omitempty"`
	Attendees          []eventAttendee     `json:"attendees,omitempty"`
	Location           string              `json:"location,omitempty"`
	ColorID            string              `json:"colorId,omitempty"`
	Reminders          *eventReminders     `json:"reminders,omitempty"`
	ExtendedProperties *extendedProperties `json:"extendedProperties,omitempty"`
	Status             string              `json:"status,omitempty"`
}

type eventList struct {
	Items []eventResource `json:"items"`
}

type freeBusyRequest struct {
	TimeMin string             `json:"timeMin"`
	TimeMax string             `json:"timeMax"`
	Items   []freeBusyCalendar `json:"items"`
}

type freeBusyCalendar struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

func toResource(ev calendar.Event) eventResource {
	res := eventResource{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		ColorID:     ev.ColorTag,
		Start: &eventDateTime{
			DateTime: ev.Start.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		End: &eventDateTime{
			DateTime: ev.End.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
	}
	for _, a := range ev.Attendees {
		if a.Email == "" {
			continue
		}
		res.Attendees = append(res.Attendees, eventAttendee{Email: a.Email, DisplayName: a.DisplayName})
	}
	if len(ev.Reminders) > 0 {
		rem := &eventReminders{UseDefault: false}
		for _, r := range ev.Reminders {
			rem.Overrides = append(rem.Overrides, reminderOverride{Method: r.Method, Minutes: r.Minutes})
		}
		res.Reminders = rem
	}
	if ev.AppointmentID != "" {
		res.ExtendedProperties = &extendedProperties{
			Private: map[string]string{
				"appointmentId": ev.AppointmentID,
				"source":        "fisioflow",
			},
		}
	}
	return res
}

func fromResource(res eventResource) calendar.Event {
	ev := calendar.Event{
		ExternalID:  res.ID,
		Title:       res.Summary,
		Description: res.Description,
		Location:    res.Location,
		ColorTag:    res.ColorID,
	}
	if res.Start != nil {
		ev.Start = parseEventTime(*res.Start)
		ev.TimeZone = res.Start.TimeZone
	}
	if res.End != nil {
		ev.End = parseEventTime(*res.End)
	}
	for _, a := range res.Attendees {
		ev.Attendees = append(ev.Attendees, calendar.Attendee{Email: a.Email, DisplayName: a.DisplayName})
	}
	if res.ExtendedProperties != nil {
		ev.AppointmentID = res.ExtendedProperties.Private["appointmentId"]
	}
	return ev
}

// parseEventTime handles both timed (dateTime) and all-day (date) events.
func parseEventTime(dt eventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
