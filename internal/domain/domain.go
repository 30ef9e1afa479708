package domain

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type PeriodKind string

const (
	PeriodDate  PeriodKind = "date"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
)

// DefaultColor is the canvas color of a node created without one.
const DefaultColor = "#3b82f6"

type ExecutionPeriod struct {
	Kind  PeriodKind `json:"kind" enum:"date,week,month"`
	Value string     `json:"value"`
}

// Task is a mind-map node. It becomes a calendar entry once scheduled.
type Task struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"owner_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	X               float64          `json:"x"`
	Y               float64          `json:"y"`
	Color           string           `json:"color"`
	Tags            []string         `json:"tags"`
	Priority        Priority         `json:"priority" enum:"low,medium,high"`
	ExecutionPeriod *ExecutionPeriod `json:"execution_period,omitempty"`
	IsScheduled     bool             `json:"is_scheduled"`
	ScheduledDate   *time.Time       `json:"scheduled_date,omitempty" format:"date-time"`
	Connections     []string         `json:"connections"`
	CreatedAt       time.Time        `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time        `json:"updated_at" format:"date-time"`
}

// Event is a calendar entry, optionally linked to a Task and/or a provider event.
type Event struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	StartDate       time.Time `json:"start_date" format:"date-time"`
	EndDate         time.Time `json:"end_date" format:"date-time"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	MindMapNodeID   string    `json:"mind_map_node_id,omitempty"`
	IsFromMindMap   bool      `json:"is_from_mind_map"`
	CreatedAt       time.Time `json:"created_at" format:"date-time"`
	UpdatedAt       time.Time `json:"updated_at" format:"date-time"`
}

type TaskInput struct {
	Title           string
	Description     string
	X               float64
	Y               float64
	Color           string
	Tags            []string
	Priority        Priority
	ExecutionPeriod *ExecutionPeriod
	IsScheduled     bool
	ScheduledDate   *time.Time
	Connections     []string
}

// TaskPatch holds the fields of a partial update; nil means unchanged.
type TaskPatch struct {
	Title                *string
	Description          *string
	X                    *float64
	Y                    *float64
	Color                *string
	Tags                 *[]string
	Priority             *Priority
	ExecutionPeriod      *ExecutionPeriod
	ClearExecutionPeriod bool
	IsScheduled          *bool
	ScheduledDate        *time.Time
	Connections          *[]string
}

type EventInput struct {
	Title           string
	Description     string
	StartDate       time.Time
	EndDate         time.Time
	ExternalEventID string
	MindMapNodeID   string
	IsFromMindMap   bool
}

type EventPatch struct {
	Title           *string
	Description     *string
	StartDate       *time.Time
	EndDate         *time.Time
	ExternalEventID *string
	MindMapNodeID   *string
	IsFromMindMap   *bool
}

// EventFilter narrows ListEvents. The date range applies only when both
// bounds are set; it matches on StartDate and is inclusive at both ends.
type EventFilter struct {
	From          *time.Time
	To            *time.Time
	MindMapNodeID string
}

// HasRange reports whether the closed start-date range is active.
func (f EventFilter) HasRange() bool {
	return f.From != nil && f.To != nil
}

// Credential is the calendar provider token pair taken from the owner's session.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// RemoteEvent is an entry as listed by the external calendar. Start and End
// are zero when the provider returned no dateTime (all-day entries).
type RemoteEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type RemoteEventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// RemoteEventPatch sends only non-empty fields.
type RemoteEventPatch struct {
	Summary     string
	Description string
	Start       *time.Time
	End         *time.Time
}

type JournalEntry struct {
	ID         string         `json:"id"`
	TS         time.Time      `json:"ts" format:"date-time"`
	Kind       string         `json:"kind"`
	OwnerID    string         `json:"owner_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type APIKey struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
