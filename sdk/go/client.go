package mindcalsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal MindMap Calendar HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type ExecutionPeriod struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Task is a mind-map node.
type Task struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"owner_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	X               float64          `json:"x"`
	Y               float64          `json:"y"`
	Color           string           `json:"color"`
	Tags            []string         `json:"tags"`
	Priority        string           `json:"priority"`
	ExecutionPeriod *ExecutionPeriod `json:"execution_period,omitempty"`
	IsScheduled     bool             `json:"is_scheduled"`
	ScheduledDate   *time.Time       `json:"scheduled_date,omitempty"`
	Connections     []string         `json:"connections"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Event is a calendar entry.
type Event struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	MindMapNodeID   string    `json:"mind_map_node_id,omitempty"`
	IsFromMindMap   bool      `json:"is_from_mind_map"`
}

// TaskInput carries the fields of a new task. Zero values take server defaults.
type TaskInput struct {
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	X               float64          `json:"x,omitempty"`
	Y               float64          `json:"y,omitempty"`
	Color           string           `json:"color,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	Priority        string           `json:"priority,omitempty"`
	ExecutionPeriod *ExecutionPeriod `json:"execution_period,omitempty"`
	Connections     []string         `json:"connections,omitempty"`
}

// EventInput describes a new event. MindMapNodeID links it to a task.
type EventInput struct {
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	MindMapNodeID string
}

type ImportResult struct {
	Imported int     `json:"imported"`
	Events   []Event `json:"events"`
	Skipped  int     `json:"skipped"`
	Existing int     `json:"existing"`
}

type Summary struct {
	Tasks       int `json:"tasks"`
	Scheduled   int `json:"scheduled"`
	Unscheduled int `json:"unscheduled"`
	Events      int `json:"events"`
	Upcoming    int `json:"upcoming"`
	FromMindMap int `json:"from_mind_map"`
	Synced      int `json:"synced"`
}

// JournalEntry is one activity record.
type JournalEntry struct {
	ID         string         `json:"id"`
	TS         time.Time      `json:"ts"`
	Kind       string         `json:"kind"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListTasks returns the caller's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp.Items, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// UpdateTask sends a partial update; only keys present in fields change.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ScheduleTask places a task on the calendar at the given time.
func (c *Client) ScheduleTask(ctx context.Context, id string, at time.Time) (Event, Task, error) {
	body := map[string]any{}
	if !at.IsZero() {
		body["date"] = at.Format(time.RFC3339)
	}
	var resp struct {
		Event Event `json:"event"`
		Task  Task  `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/schedule", body, &resp)
	return resp.Event, resp.Task, err
}

// ListEvents returns events; the range applies when both bounds are set.
func (c *Client) ListEvents(ctx context.Context, from, to *time.Time) ([]Event, error) {
	endpoint := "events"
	if from != nil && to != nil {
		q := url.Values{}
		q.Set("start_date", from.Format(time.RFC3339))
		q.Set("end_date", to.Format(time.RFC3339))
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", eventBody(in), &resp)
	return resp, err
}

func (c *Client) DeleteEvent(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodDelete, "events/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ImportFromRemote pulls events from the linked external calendar.
func (c *Client) ImportFromRemote(ctx context.Context) (ImportResult, error) {
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, "sync/import", nil, &resp)
	return resp, err
}

// CreateSyncedEvent writes an event to the external calendar and locally.
func (c *Client) CreateSyncedEvent(ctx context.Context, in EventInput) (Event, error) {
	body := eventBody(in)
	delete(body, "mind_map_node_id")
	if in.MindMapNodeID != "" {
		body["source_task_id"] = in.MindMapNodeID
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "sync/events", body, &resp)
	return resp, err
}

func (c *Client) Dashboard(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

// Journal returns recent activity, newest first.
func (c *Client) Journal(ctx context.Context, limit int) ([]JournalEntry, error) {
	endpoint := "journal"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []JournalEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func eventBody(in EventInput) map[string]any {
	body := map[string]any{
		"title":      in.Title,
		"start_date": in.Start.Format(time.RFC3339),
		"end_date":   in.End.Format(time.RFC3339),
	}
	if in.Description != "" {
		body["description"] = in.Description
	}
	if in.MindMapNodeID != "" {
		body["mind_map_node_id"] = in.MindMapNodeID
	}
	return body
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
