// Package caldav fetches raw calendar objects from a CalDAV collection.
// It is a transport-only layer: everything it returns still goes through
// the ICS parser and the occurrence resolver.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	appLog "occal/internal/log"
	"occal/internal/model"
)

// Client talks to one CalDAV account. Credentials arrive as plain strings;
// resolving them is the caller's problem.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string

	client *caldav.Client
}

// Calendar is one discovered calendar collection.
type Calendar struct {
	Path string
	Name string
}

// NewClient creates a CalDAV client for the given endpoint.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// IsConfigured reports whether the client has an endpoint and credentials.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// SetCalendarPath pins the calendar collection used when a query does not
// name one.
func (c *Client) SetCalendarPath(path string) {
	c.calendarPath = path
}

func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: c.username, password: c.password},
		Timeout:   30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("caldav: connect: %w", err)
	}
	c.client = client
	return client, nil
}

type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars lists the calendar collections of the account.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("caldav: find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("caldav: find home set: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("caldav: find calendars: %w", err)
	}

	out := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		out = append(out, Calendar{Path: cal.Path, Name: cal.Name})
	}
	return out, nil
}

// FetchObjects runs a VEVENT time-range query against the calendar and
// returns the matched entries as raw calendar objects, one per server-side
// resource. The server has already restricted results to the range; the
// resolver still window-filters defensively.
func (c *Client) FetchObjects(ctx context.Context, calendarPath string, from, to time.Time) ([]model.RawCalendarObject, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	if calendarPath == "" {
		calendarPath = c.calendarPath
	}
	if calendarPath == "" {
		return nil, fmt.Errorf("caldav: calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("caldav: query calendar: %w", err)
	}

	out := make([]model.RawCalendarObject, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		var buf strings.Builder
		if err := ical.NewEncoder(&buf).Encode(obj.Data); err != nil {
			appLog.Error("caldav: re-encode calendar object failed", err, "path", obj.Path)
			continue
		}
		out = append(out, model.RawCalendarObject{UID: obj.Path, Data: buf.String()})
	}

	appLog.Info("caldav query completed", "calendar", calendarPath, "objects", len(out))
	return out, nil
}
