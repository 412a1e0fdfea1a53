// Package journal mirrors completed uploads into a Google Calendar so that
// sessions show up next to the rest of the user's schedule.
package journal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ExternalIDProperty is the private extended property that ties an event
// to an upload.
const ExternalIDProperty = "strava_external_id"

const activityURLFormat = "https://www.strava.com/activities/%d"

// Entry is one completed upload.
type Entry struct {
	ExternalID  string
	ActivityID  int64
	Name        string
	SportType   string
	Description string
	Start       time.Time
	End         time.Time
}

// Journal writes entries to one calendar.
type Journal struct {
	srv        *calendar.Service
	calendarID string
	logger     zerolog.Logger
}

// NewService creates a Calendar service over an authorized HTTP client.
func NewService(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*calendar.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return srv, nil
}

// New creates a journal writing to calendarID.
func New(srv *calendar.Service, calendarID string, logger zerolog.Logger) *Journal {
	return &Journal{
		srv:        srv,
		calendarID: calendarID,
		logger:     logger.With().Str("component", "journal").Str("calendar_id", calendarID).Logger(),
	}
}

// Open looks up the calendar whose summary is calendarName.
func Open(ctx context.Context, srv *calendar.Service, calendarName string, logger zerolog.Logger) (*Journal, error) {
	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
	}

	for _, item := range calendarList.Items {
		if item.Summary == calendarName {
			return New(srv, item.Id, logger), nil
		}
	}
	return nil, fmt.Errorf("calendar '%s' not found", calendarName)
}

// Record adds an event for e unless one with the same external id exists.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	existing, err := j.FindByExternalID(ctx, e.ExternalID)
	if err != nil {
		return fmt.Errorf("error searching for event: %w", err)
	}
	if existing != nil {
		j.logger.Debug().Str("external_id", e.ExternalID).Str("event_id", existing.Id).Msg("journal event already exists")
		return nil
	}

	created, err := j.srv.Events.Insert(j.calendarID, eventFor(e)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to create journal event: %w", err)
	}
	j.logger.Info().Str("external_id", e.ExternalID).Str("event_id", created.Id).Msg("journal event created")
	return nil
}

// FindByExternalID returns the event recorded for externalID, or nil.
func (j *Journal) FindByExternalID(ctx context.Context, externalID string) (*calendar.Event, error) {
	events, err := j.srv.Events.List(j.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", ExternalIDProperty, externalID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) > 0 {
		return events.Items[0], nil
	}
	return nil, nil
}

// ActivityURL links to an activity on strava.com.
func ActivityURL(activityID int64) string {
	return fmt.Sprintf(activityURLFormat, activityID)
}

func eventFor(e Entry) *calendar.Event {
	var desc strings.Builder
	if e.ActivityID != 0 {
		fmt.Fprintf(&desc, "Strava: %s\n", ActivityURL(e.ActivityID))
	}
	if e.SportType != "" {
		fmt.Fprintf(&desc, "Sport: %s\n", e.SportType)
	}
	if e.Description != "" {
		desc.WriteString(e.Description)
		desc.WriteString("\n")
	}

	return &calendar.Event{
		Summary:     e.Name,
		Description: strings.TrimSpace(desc.String()),
		Start:       &calendar.EventDateTime{DateTime: e.Start.UTC().Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: e.End.UTC().Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{ExternalIDProperty: e.ExternalID},
		},
	}
}
