// Package google writes confirmed focus blocks to Google Calendar and reads
// busy time back from it.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/dayblock/pkg/colors"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
)

const (
	// Private extended property keys stamped on every created event.
	propSource     = "source"
	propActingUser = "acting_user"
	propBlockID    = "block_id"
	propTaskID     = "task_id"

	sourceValue = "dayblock"
)

type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	limiter    *rate.Limiter
	colors     *colors.ColorCache
	log        logx.Logger
}

type Option func(*CalendarClient)

// WithRateLimit caps API calls per second. Non-positive disables throttling.
func WithRateLimit(perSecond float64) Option {
	return func(c *CalendarClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

func WithColors(cc *colors.ColorCache) Option { return func(c *CalendarClient) { c.colors = cc } }

func WithLogger(l logx.Logger) Option { return func(c *CalendarClient) { c.log = l } }

func NewCalendarClient(srv *calendar.Service, calendarID string, opts ...Option) *CalendarClient {
	c := &CalendarClient{srv: srv, calendarID: calendarID, log: logx.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logx.String("component", "google"), logx.String("calendar", calendarID))
	return c
}

func (c *CalendarClient) CalendarID() string { return c.calendarID }

func (c *CalendarClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// CreateEvent inserts the event for a confirmed block. An event already
// carrying the same block_id is returned instead, so a retried confirm does
// not duplicate it.
func (c *CalendarClient) CreateEvent(ctx context.Context, actingUser string, req model.EventRequest) (model.CreatedEvent, error) {
	if blockID := req.PrivateMetadata[propBlockID]; blockID != "" {
		existing, err := c.FindByBlockID(ctx, blockID)
		if err != nil {
			return model.CreatedEvent{}, fmt.Errorf("error searching for event: %w", err)
		}
		if existing != nil {
			c.log.Debug("event already exists", logx.String("block", blockID), logx.String("event", existing.Id))
			return model.CreatedEvent{ID: existing.Id, HTMLLink: existing.HtmlLink}, nil
		}
	}

	ev := c.buildEvent(actingUser, req)
	if err := c.wait(ctx); err != nil {
		return model.CreatedEvent{}, err
	}
	created, err := c.srv.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return model.CreatedEvent{}, fmt.Errorf("insert event: %w", err)
	}
	c.log.Info("event created", logx.String("event", created.Id), logx.String("block", req.PrivateMetadata[propBlockID]))
	return model.CreatedEvent{ID: created.Id, HTMLLink: created.HtmlLink}, nil
}

func (c *CalendarClient) buildEvent(actingUser string, req model.EventRequest) *calendar.Event {
	private := map[string]string{
		propSource:     sourceValue,
		propActingUser: actingUser,
	}
	for k, v := range req.PrivateMetadata {
		private[k] = v
	}

	var desc strings.Builder
	desc.WriteString(req.Description)
	if id := req.PrivateMetadata[propTaskID]; id != "" {
		if desc.Len() > 0 {
			desc.WriteString("\n\n")
		}
		desc.WriteString("task: " + id)
	}

	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: desc.String(),
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: private,
		},
	}
	if c.colors != nil {
		ev.ColorId = c.colors.ColorID(req.PrivateMetadata[propTaskID])
	}
	return ev
}

// FindByBlockID returns the event created for blockID, or nil.
func (c *CalendarClient) FindByBlockID(ctx context.Context, blockID string) (*calendar.Event, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", propBlockID, blockID)).
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

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
}

// PatchSummary replaces only the event title.
func (c *CalendarClient) PatchSummary(ctx context.Context, eventID, summary string) error {
	_, err := c.PatchEvent(ctx, eventID, &calendar.Event{Summary: summary})
	return err
}

// DeleteEvent removes an event. An event that is already gone counts as
// deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	err := c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return nil
	}
	return err
}

// BusyIntervals lists the timed, opaque events of calendarID overlapping
// [start, end). Cancelled events and dayblock's own focus blocks are left out.
func (c *CalendarClient) BusyIntervals(ctx context.Context, calendarID string, start, end time.Time) ([]model.BusyInterval, error) {
	var (
		out   []model.BusyInterval
		token string
	)
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		call := c.srv.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			MaxResults(250).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve events from calendar %s: %w", calendarID, err)
		}
		for _, ev := range page.Items {
			if iv, ok := busyFromEvent(ev); ok {
				iv.SourceID = "google:" + calendarID
				out = append(out, iv)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func busyFromEvent(ev *calendar.Event) (model.BusyInterval, bool) {
	if ev.Status == "cancelled" || ev.Transparency == "transparent" {
		return model.BusyInterval{}, false
	}
	if ev.ExtendedProperties != nil && ev.ExtendedProperties.Private[propSource] == sourceValue {
		return model.BusyInterval{}, false
	}
	// All-day events carry Date instead of DateTime.
	if ev.Start == nil || ev.End == nil || ev.Start.DateTime == "" || ev.End.DateTime == "" {
		return model.BusyInterval{}, false
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return model.BusyInterval{}, false
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil || !end.After(start) {
		return model.BusyInterval{}, false
	}
	return model.BusyInterval{ExternalID: ev.Id, Summary: ev.Summary, Start: start, End: end}, true
}
