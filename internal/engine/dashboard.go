package engine

import (
	"context"

	"mindcal/internal/domain"
)

type Summary struct {
	Tasks       int `json:"tasks"`
	Scheduled   int `json:"scheduled"`
	Unscheduled int `json:"unscheduled"`
	Events      int `json:"events"`
	Upcoming    int `json:"upcoming"`
	FromMindMap int `json:"from_mind_map"`
	Synced      int `json:"synced"`
}

// Summary counts the owner's tasks and events. Upcoming events start now or later.
func (e Engine) Summary(ctx context.Context, ownerID string) (Summary, error) {
	if err := requireOwner(ownerID); err != nil {
		return Summary{}, err
	}
	tasks, err := e.Store.ListTasks(ctx, ownerID)
	if err != nil {
		return Summary{}, err
	}
	events, err := e.Store.ListEvents(ctx, ownerID, domain.EventFilter{})
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	s.Tasks = len(tasks)
	for _, t := range tasks {
		if t.IsScheduled {
			s.Scheduled++
		}
	}
	s.Unscheduled = s.Tasks - s.Scheduled
	now := e.now()
	s.Events = len(events)
	for _, ev := range events {
		if !ev.StartDate.Before(now) {
			s.Upcoming++
		}
		if ev.IsFromMindMap {
			s.FromMindMap++
		}
		if ev.ExternalEventID != "" {
			s.Synced++
		}
	}
	return s, nil
}
