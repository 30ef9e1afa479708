package server

import (
	"time"

	"mindcal/internal/domain"
)

// Request payloads

type ExecutionPeriodRequest struct {
	Kind  string `json:"kind" enum:"date,week,month"`
	Value string `json:"value"`
}

type CreateTaskRequest struct {
	Title           string                  `json:"title"`
	Description     string                  `json:"description,omitempty"`
	X               float64                 `json:"x,omitempty"`
	Y               float64                 `json:"y,omitempty"`
	Color           string                  `json:"color,omitempty"`
	Tags            []string                `json:"tags,omitempty"`
	Priority        string                  `json:"priority,omitempty" enum:"low,medium,high"`
	ExecutionPeriod *ExecutionPeriodRequest `json:"execution_period,omitempty"`
	Connections     []string                `json:"connections,omitempty"`
}

type UpdateTaskRequest struct {
	Title                *string                 `json:"title,omitempty"`
	Description          *string                 `json:"description,omitempty"`
	X                    *float64                `json:"x,omitempty"`
	Y                    *float64                `json:"y,omitempty"`
	Color                *string                 `json:"color,omitempty"`
	Tags                 *[]string               `json:"tags,omitempty"`
	Priority             *string                 `json:"priority,omitempty" enum:"low,medium,high"`
	ExecutionPeriod      *ExecutionPeriodRequest `json:"execution_period,omitempty"`
	ClearExecutionPeriod bool                    `json:"clear_execution_period,omitempty"`
	Connections          *[]string               `json:"connections,omitempty"`
}

type ScheduleTaskRequest struct {
	Date string `json:"date,omitempty" doc:"RFC 3339 start time; defaults to now"`
}

type CreateEventRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	StartDate     string `json:"start_date" doc:"RFC 3339"`
	EndDate       string `json:"end_date" doc:"RFC 3339"`
	MindMapNodeID string `json:"mind_map_node_id,omitempty"`
	IsFromMindMap bool   `json:"is_from_mind_map,omitempty"`
}

type UpdateEventRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	StartDate     *string `json:"start_date,omitempty"`
	EndDate       *string `json:"end_date,omitempty"`
	MindMapNodeID *string `json:"mind_map_node_id,omitempty"`
	IsFromMindMap *bool   `json:"is_from_mind_map,omitempty"`
}

type SyncedEventRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	StartDate    string `json:"start_date" doc:"RFC 3339"`
	EndDate      string `json:"end_date" doc:"RFC 3339"`
	SourceTaskID string `json:"source_task_id,omitempty"`
}

type DevLoginRequest struct {
	Email              string `json:"email"`
	GoogleAccessToken  string `json:"google_access_token,omitempty"`
	GoogleRefreshToken string `json:"google_refresh_token,omitempty"`
}

// Response payloads

type TaskList struct {
	Items []domain.Task `json:"items"`
}

type EventList struct {
	Items []domain.Event `json:"items"`
}

type JournalList struct {
	Items []domain.JournalEntry `json:"items"`
}

type ScheduleResponse struct {
	Event domain.Event `json:"event"`
	Task  domain.Task  `json:"task"`
}

type MeResponse struct {
	OwnerID        string `json:"owner_id"`
	Source         string `json:"source"`
	CalendarLinked bool   `json:"calendar_linked"`
}

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
}

func (r CreateTaskRequest) input() domain.TaskInput {
	in := domain.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		X:           r.X,
		Y:           r.Y,
		Color:       r.Color,
		Tags:        r.Tags,
		Priority:    domain.Priority(r.Priority),
		Connections: r.Connections,
	}
	if r.ExecutionPeriod != nil {
		in.ExecutionPeriod = &domain.ExecutionPeriod{Kind: domain.PeriodKind(r.ExecutionPeriod.Kind), Value: r.ExecutionPeriod.Value}
	}
	return in
}

func (r UpdateTaskRequest) patch() domain.TaskPatch {
	p := domain.TaskPatch{
		Title:                r.Title,
		Description:          r.Description,
		X:                    r.X,
		Y:                    r.Y,
		Color:                r.Color,
		Tags:                 r.Tags,
		ClearExecutionPeriod: r.ClearExecutionPeriod,
		Connections:          r.Connections,
	}
	if r.Priority != nil {
		pr := domain.Priority(*r.Priority)
		p.Priority = &pr
	}
	if r.ExecutionPeriod != nil {
		p.ExecutionPeriod = &domain.ExecutionPeriod{Kind: domain.PeriodKind(r.ExecutionPeriod.Kind), Value: r.ExecutionPeriod.Value}
	}
	return p
}

func (r CreateEventRequest) input() (domain.EventInput, error) {
	start, err := parseTimeField("start_date", r.StartDate)
	if err != nil {
		return domain.EventInput{}, err
	}
	end, err := parseTimeField("end_date", r.EndDate)
	if err != nil {
		return domain.EventInput{}, err
	}
	return domain.EventInput{
		Title:         r.Title,
		Description:   r.Description,
		StartDate:     start,
		EndDate:       end,
		MindMapNodeID: r.MindMapNodeID,
		IsFromMindMap: r.IsFromMindMap,
	}, nil
}

func (r UpdateEventRequest) patch() (domain.EventPatch, error) {
	p := domain.EventPatch{
		Title:         r.Title,
		Description:   r.Description,
		MindMapNodeID: r.MindMapNodeID,
		IsFromMindMap: r.IsFromMindMap,
	}
	if r.StartDate != nil {
		start, err := parseTimeField("start_date", *r.StartDate)
		if err != nil {
			return domain.EventPatch{}, err
		}
		p.StartDate = &start
	}
	if r.EndDate != nil {
		end, err := parseTimeField("end_date", *r.EndDate)
		if err != nil {
			return domain.EventPatch{}, err
		}
		p.EndDate = &end
	}
	return p, nil
}

// parseTimeField accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseTimeField(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, domain.Missing(field)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, domain.Invalid(field, "must be an RFC 3339 timestamp")
}
