package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mindcal/internal/domain"
)

const (
	DefaultCalendarID = "primary"
	DefaultTimeZone   = "Europe/Paris"
	// MaxResults caps a single listing; no pagination is performed.
	MaxResults = 100
)

type Config struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	TimeZone     string
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient is the base transport the OAuth2 client wraps.
	HTTPClient *http.Client
	Now        func() time.Time
}

// Client talks to one calendar on behalf of one owner's token.
type Client struct {
	srv        *calendar.Service
	calendarID string
	timeZone   string
	now        func() time.Time
}

// New builds a client for the given credential. A missing access token is
// rejected without contacting the provider.
func New(ctx context.Context, cfg Config, cred domain.Credential) (*Client, error) {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return nil, domain.ErrUnauthorized
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope},
	}
	tok := &oauth2.Token{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken, TokenType: "Bearer"}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	opts := []option.ClientOption{option.WithHTTPClient(oc.Client(ctx, tok))}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	c := &Client{srv: srv, calendarID: cfg.CalendarID, timeZone: cfg.TimeZone, now: cfg.Now}
	if c.calendarID == "" {
		c.calendarID = DefaultCalendarID
	}
	if c.timeZone == "" {
		c.timeZone = DefaultTimeZone
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// ListEvents returns expanded single events ordered by start time, starting
// at timeMin or now when unset.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax *time.Time) ([]domain.RemoteEvent, error) {
	from := c.now()
	if timeMin != nil {
		from = *timeMin
	}
	call := c.srv.Events.List(c.calendarID).Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(MaxResults).
		SingleEvents(true).
		OrderBy("startTime")
	if timeMax != nil {
		call = call.TimeMax(timeMax.Format(time.RFC3339))
	}
	res, err := call.Do()
	if err != nil {
		return nil, wrap("list", err)
	}
	out := make([]domain.RemoteEvent, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, toRemote(item))
	}
	return out, nil
}

func (c *Client) CreateEvent(ctx context.Context, in domain.RemoteEventInput) (domain.RemoteEvent, error) {
	ev := &calendar.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       c.dateTime(in.Start),
		End:         c.dateTime(in.End),
	}
	created, err := c.srv.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return domain.RemoteEvent{}, wrap("insert", err)
	}
	return toRemote(created), nil
}

// UpdateEvent sends only the non-empty fields of the patch.
func (c *Client) UpdateEvent(ctx context.Context, id string, p domain.RemoteEventPatch) (domain.RemoteEvent, error) {
	ev := &calendar.Event{Summary: p.Summary, Description: p.Description}
	if p.Start != nil {
		ev.Start = c.dateTime(*p.Start)
	}
	if p.End != nil {
		ev.End = c.dateTime(*p.End)
	}
	updated, err := c.srv.Events.Patch(c.calendarID, id, ev).Context(ctx).Do()
	if err != nil {
		return domain.RemoteEvent{}, wrap("patch", err)
	}
	return toRemote(updated), nil
}

func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if err := c.srv.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return wrap("delete", err)
	}
	return nil
}

func (c *Client) dateTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: c.timeZone}
}

func toRemote(e *calendar.Event) domain.RemoteEvent {
	out := domain.RemoteEvent{ID: e.Id, Summary: e.Summary, Description: e.Description}
	out.Start = parseDateTime(e.Start)
	out.End = parseDateTime(e.End)
	return out
}

// parseDateTime returns zero for all-day entries, which carry only a date.
func parseDateTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil || dt.DateTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

func wrap(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		err = fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return &domain.UpstreamError{Op: op, Err: err}
}
