package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/dayblock/pkg/index"
)

// Scopes needed to write focus blocks and read busy calendars.
var Scopes = []string{
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// NewService builds a Calendar service on top of an authorized HTTP client.
func NewService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*calendar.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return srv, nil
}

var errCalendarFound = errors.New("calendar found")

// ResolveCalendar maps a calendar name to its ID, consulting idx first.
// "primary" is passed through untouched.
func ResolveCalendar(ctx context.Context, srv *calendar.Service, name string, idx *index.CalendarIndex) (string, error) {
	if name == "" || name == "primary" {
		return "primary", nil
	}
	if idx != nil {
		if id := idx.Get(name); id != "" {
			return id, nil
		}
	}

	var calendarID string
	err := srv.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			if item.Summary == name || item.Id == name {
				calendarID = item.Id
				return errCalendarFound
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errCalendarFound) {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	if calendarID == "" {
		return "", fmt.Errorf("calendar '%s' not found", name)
	}
	if idx != nil {
		idx.Set(name, calendarID)
	}
	return calendarID, nil
}
