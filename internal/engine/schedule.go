package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mindcal/internal/domain"
	"mindcal/internal/journal"
)

// ScheduledDuration is the length of the event created for a scheduled task.
const ScheduledDuration = 2 * time.Hour

// ScheduleTask turns a task into a calendar event starting at at. The task
// is looked up in tasks, the caller's already loaded list, not re-read from
// the store. Scheduling twice creates two events.
func (e Engine) ScheduleTask(ctx context.Context, ownerID string, tasks []domain.Task, taskID string, at time.Time) (domain.Event, domain.Task, error) {
	if err := requireID(ownerID, taskID); err != nil {
		return domain.Event{}, domain.Task{}, err
	}
	if at.IsZero() {
		return domain.Event{}, domain.Task{}, domain.Missing("date")
	}
	var task domain.Task
	found := false
	for _, t := range tasks {
		if t.ID == taskID && t.OwnerID == ownerID {
			task, found = t, true
			break
		}
	}
	if !found {
		return domain.Event{}, domain.Task{}, domain.ErrNotFound
	}
	log := e.logger("schedule_task", ownerID).WithField("task_id", taskID)
	ev, err := e.Store.CreateEvent(ctx, ownerID, domain.EventInput{
		Title:         task.Title,
		Description:   task.Description,
		StartDate:     at,
		EndDate:       at.Add(ScheduledDuration),
		MindMapNodeID: task.ID,
		IsFromMindMap: true,
	})
	if err != nil {
		log.WithError(err).Warn("event create failed")
		return domain.Event{}, domain.Task{}, err
	}
	scheduled := true
	updated, err := e.Store.UpdateTask(ctx, ownerID, taskID, domain.TaskPatch{IsScheduled: &scheduled, ScheduledDate: &at})
	if err != nil {
		log.WithError(err).WithField("event_id", ev.ID).Error("event left referencing an unscheduled task")
		e.record(ctx, domain.JournalEntry{
			Kind:       journal.KindEventOrphaned,
			OwnerID:    ownerID,
			EntityKind: "event",
			EntityID:   ev.ID,
			Payload:    map[string]any{"task_id": taskID, "error": err.Error()},
		})
		return ev, domain.Task{}, &domain.OrphanError{Kind: "event", ID: ev.ID, Err: err}
	}
	log.WithFields(logrus.Fields{"event_id": ev.ID, "start": at.Format(time.RFC3339)}).Info("task scheduled")
	e.record(ctx, domain.JournalEntry{
		Kind:       journal.KindTaskScheduled,
		OwnerID:    ownerID,
		EntityKind: "task",
		EntityID:   taskID,
		Payload:    map[string]any{"event_id": ev.ID, "start_date": at.UTC().Format(time.RFC3339)},
	})
	return ev, updated, nil
}

// ScheduleTaskByID loads the owner's task list once and schedules from it.
func (e Engine) ScheduleTaskByID(ctx context.Context, ownerID, taskID string, at time.Time) (domain.Event, domain.Task, error) {
	if err := requireID(ownerID, taskID); err != nil {
		return domain.Event{}, domain.Task{}, err
	}
	tasks, err := e.Store.ListTasks(ctx, ownerID)
	if err != nil {
		return domain.Event{}, domain.Task{}, err
	}
	return e.ScheduleTask(ctx, ownerID, tasks, taskID, at)
}
