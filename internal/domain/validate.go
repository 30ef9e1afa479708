package domain

import "strings"

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (k PeriodKind) Valid() bool {
	switch k {
	case PeriodDate, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// Normalized fills the defaults of the node schema: medium priority, the
// default color and non-nil tag/connection lists.
func (in TaskInput) Normalized() TaskInput {
	in.Title = strings.TrimSpace(in.Title)
	if in.Color == "" {
		in.Color = DefaultColor
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.Connections == nil {
		in.Connections = []string{}
	}
	return in
}

func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return Missing("title")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return Invalid("priority", "must be one of low, medium, high")
	}
	return validatePeriod(in.ExecutionPeriod)
}

func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Missing("title")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return Invalid("priority", "must be one of low, medium, high")
	}
	if p.ClearExecutionPeriod && p.ExecutionPeriod != nil {
		return Invalid("execution_period", "cannot be set and cleared at once")
	}
	return validatePeriod(p.ExecutionPeriod)
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.X == nil && p.Y == nil &&
		p.Color == nil && p.Tags == nil && p.Priority == nil && p.ExecutionPeriod == nil &&
		!p.ClearExecutionPeriod && p.IsScheduled == nil && p.ScheduledDate == nil && p.Connections == nil
}

func validatePeriod(p *ExecutionPeriod) error {
	if p == nil {
		return nil
	}
	if !p.Kind.Valid() {
		return Invalid("execution_period.kind", "must be one of date, week, month")
	}
	return nil
}

// Validate checks required fields only; start after end is accepted.
func (in EventInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return Missing("title")
	}
	if in.StartDate.IsZero() {
		return Missing("start_date")
	}
	if in.EndDate.IsZero() {
		return Missing("end_date")
	}
	return nil
}

func (p EventPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Missing("title")
	}
	if p.StartDate != nil && p.StartDate.IsZero() {
		return Missing("start_date")
	}
	if p.EndDate != nil && p.EndDate.IsZero() {
		return Missing("end_date")
	}
	return nil
}

func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.StartDate == nil && p.EndDate == nil &&
		p.ExternalEventID == nil && p.MindMapNodeID == nil && p.IsFromMindMap == nil
}
