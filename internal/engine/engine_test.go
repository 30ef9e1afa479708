package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mindcal/internal/db"
	"mindcal/internal/domain"
	"mindcal/internal/engine"
	"mindcal/internal/journal"
	"mindcal/internal/migrate"
	"mindcal/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Repo    repo.Repo
	Journal journal.Writer
	Ctx     context.Context
}

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := func() time.Time { return fixedNow }
	r := repo.Repo{DB: conn, Now: now}
	w := journal.Writer{DB: conn, Now: now}
	eng := engine.New(r, w, r, nil)
	eng.Now = now
	return testEnv{Engine: eng, Repo: r, Journal: w, Ctx: context.Background()}
}

type fakeCalendar struct {
	events    []domain.RemoteEvent
	listErr   error
	createErr error
	created   []domain.RemoteEventInput
	lists     int
}

func (c *fakeCalendar) ListEvents(ctx context.Context, timeMin, timeMax *time.Time) ([]domain.RemoteEvent, error) {
	c.lists++
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.events, nil
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, in domain.RemoteEventInput) (domain.RemoteEvent, error) {
	if c.createErr != nil {
		return domain.RemoteEvent{}, c.createErr
	}
	c.created = append(c.created, in)
	return domain.RemoteEvent{ID: fmt.Sprintf("remote-%d", len(c.created)), Summary: in.Summary, Start: in.Start, End: in.End}, nil
}

func (c *fakeCalendar) UpdateEvent(ctx context.Context, id string, p domain.RemoteEventPatch) (domain.RemoteEvent, error) {
	return domain.RemoteEvent{ID: id, Summary: p.Summary}, nil
}

func (c *fakeCalendar) DeleteEvent(ctx context.Context, id string) error { return nil }

// failingStore injects gateway failures into single operations.
type failingStore struct {
	engine.Store
	createEventErr error
	updateTaskErr  error
}

func (s failingStore) CreateEvent(ctx context.Context, ownerID string, in domain.EventInput) (domain.Event, error) {
	if s.createEventErr != nil {
		return domain.Event{}, s.createEventErr
	}
	return s.Store.CreateEvent(ctx, ownerID, in)
}

func (s failingStore) UpdateTask(ctx context.Context, ownerID, id string, p domain.TaskPatch) (domain.Task, error) {
	if s.updateTaskErr != nil {
		return domain.Task{}, s.updateTaskErr
	}
	return s.Store.UpdateTask(ctx, ownerID, id, p)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func eventsFor(t *testing.T, env testEnv, owner, taskID string) []domain.Event {
	t.Helper()
	evs, err := env.Engine.ListEvents(env.Ctx, owner, domain.EventFilter{MindMapNodeID: taskID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return evs
}

func TestCreatedTaskIsUnscheduled(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "a@x.com", domain.TaskInput{Title: "idea"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.IsScheduled || task.ScheduledDate != nil {
		t.Fatalf("new task must be unscheduled: %+v", task)
	}
	if evs := eventsFor(t, env, "a@x.com", task.ID); len(evs) != 0 {
		t.Fatalf("no event should reference a new task, got %d", len(evs))
	}
}

func TestScheduleBuyMilk(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	task, err := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "Buy milk", Description: "2 litres", Priority: domain.PriorityMedium})
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	at := mustTime(t, "2024-06-01T10:00:00Z")
	ev, updated, err := env.Engine.ScheduleTask(env.Ctx, owner, tasks, task.ID, at)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !updated.IsScheduled || updated.ScheduledDate == nil || !updated.ScheduledDate.Equal(at) {
		t.Fatalf("task not marked scheduled: %+v", updated)
	}
	evs := eventsFor(t, env, owner, task.ID)
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	got := evs[0]
	if got.ID != ev.ID || !got.StartDate.Equal(at) || !got.EndDate.Equal(mustTime(t, "2024-06-01T12:00:00Z")) {
		t.Fatalf("unexpected event window: %+v", got)
	}
	if got.MindMapNodeID != task.ID || !got.IsFromMindMap || got.Title != "Buy milk" || got.Description != "2 litres" {
		t.Fatalf("unexpected event link: %+v", got)
	}
	stored, err := env.Engine.GetTask(env.Ctx, owner, task.ID)
	if err != nil || !stored.IsScheduled {
		t.Fatalf("stored task not scheduled: %+v %v", stored, err)
	}
	entries, err := env.Engine.Tail(env.Ctx, owner, 1)
	if err != nil || len(entries) != 1 || entries[0].Kind != journal.KindTaskScheduled {
		t.Fatalf("expected task.scheduled journal entry: %+v %v", entries, err)
	}
}

func TestScheduleTwiceCreatesTwoEvents(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	task, err := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "twice"})
	if err != nil {
		t.Fatal(err)
	}
	at := mustTime(t, "2024-06-01T10:00:00Z")
	for i := 0; i < 2; i++ {
		if _, _, err := env.Engine.ScheduleTaskByID(env.Ctx, owner, task.ID, at); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	if evs := eventsFor(t, env, owner, task.ID); len(evs) != 2 {
		t.Fatalf("expected two events, got %d", len(evs))
	}
}

func TestScheduleUsesSuppliedTaskList(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "a@x.com", domain.TaskInput{Title: "stale"})
	if err != nil {
		t.Fatal(err)
	}
	at := mustTime(t, "2024-06-01T10:00:00Z")
	if _, _, err := env.Engine.ScheduleTask(env.Ctx, "a@x.com", nil, task.ID, at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("task missing from the list should be not found, got %v", err)
	}
	foreign := []domain.Task{task}
	if _, _, err := env.Engine.ScheduleTask(env.Ctx, "b@x.com", foreign, task.ID, at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign task should be not found, got %v", err)
	}
	if _, _, err := env.Engine.ScheduleTaskByID(env.Ctx, "b@x.com", task.ID, at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign task by id should be not found, got %v", err)
	}
}

func TestScheduleEventFailureLeavesTaskUntouched(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	task, err := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "blocked"})
	if err != nil {
		t.Fatal(err)
	}
	eng := env.Engine
	eng.Store = failingStore{Store: env.Repo, createEventErr: errors.New("disk full")}
	if _, _, err := eng.ScheduleTaskByID(env.Ctx, owner, task.ID, mustTime(t, "2024-06-01T10:00:00Z")); err == nil {
		t.Fatalf("expected failure")
	}
	stored, err := env.Engine.GetTask(env.Ctx, owner, task.ID)
	if err != nil || stored.IsScheduled {
		t.Fatalf("task must stay unscheduled: %+v %v", stored, err)
	}
}

func TestScheduleTaskUpdateFailureReportsOrphan(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	task, err := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "half"})
	if err != nil {
		t.Fatal(err)
	}
	eng := env.Engine
	cause := errors.New("write conflict")
	eng.Store = failingStore{Store: env.Repo, updateTaskErr: cause}
	ev, _, err := eng.ScheduleTaskByID(env.Ctx, owner, task.ID, mustTime(t, "2024-06-01T10:00:00Z"))
	var orphan *domain.OrphanError
	if !errors.As(err, &orphan) || orphan.ID != ev.ID || !errors.Is(err, cause) {
		t.Fatalf("expected orphan error naming the event, got %v", err)
	}
	if evs := eventsFor(t, env, owner, task.ID); len(evs) != 1 {
		t.Fatalf("orphan event should remain, got %d", len(evs))
	}
	stored, _ := env.Engine.GetTask(env.Ctx, owner, task.ID)
	if stored.IsScheduled {
		t.Fatalf("task must stay unscheduled")
	}
	entries, _ := env.Engine.Tail(env.Ctx, owner, 1)
	if len(entries) != 1 || entries[0].Kind != journal.KindEventOrphaned {
		t.Fatalf("expected orphan journal entry, got %+v", entries)
	}
}

func TestImportIsIdempotentPerExternalID(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	start := mustTime(t, "2024-06-01T09:00:00Z")
	cal := &fakeCalendar{events: []domain.RemoteEvent{{ID: "g1", Summary: "Standup", Start: start, End: start.Add(30 * time.Minute)}}}
	first, err := env.Engine.ImportFromRemote(env.Ctx, owner, cal)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Imported != 1 || len(first.Events) != 1 || first.Events[0].ExternalEventID != "g1" || first.Events[0].IsFromMindMap {
		t.Fatalf("unexpected first import: %+v", first)
	}
	second, err := env.Engine.ImportFromRemote(env.Ctx, owner, cal)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Imported != 0 || second.Existing != 1 {
		t.Fatalf("unexpected second import: %+v", second)
	}
	all, err := env.Engine.ListEvents(env.Ctx, owner, domain.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, ev := range all {
		if ev.ExternalEventID == "g1" {
			count++
		}
	}
	if len(all) != 1 || count != 1 {
		t.Fatalf("expected exactly one g1 event, got %d of %d", count, len(all))
	}
}

func TestImportSkipsIncompleteItems(t *testing.T) {
	env := newTestEnv(t)
	start := mustTime(t, "2024-06-01T09:00:00Z")
	cal := &fakeCalendar{events: []domain.RemoteEvent{
		{ID: "untitled", Start: start, End: start.Add(time.Hour)},
		{ID: "allday", Summary: "Holiday"},
		{ID: "noend", Summary: "Open", Start: start},
		{Summary: "no id", Start: start, End: start.Add(time.Hour)},
		{ID: "ok", Summary: "Review", Start: start, End: start.Add(time.Hour)},
	}}
	res, err := env.Engine.ImportFromRemote(env.Ctx, "a@x.com", cal)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImportPropagatesUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	upstream := &domain.UpstreamError{Op: "list", Err: errors.New("quota exceeded")}
	_, err := env.Engine.ImportFromRemote(env.Ctx, "a@x.com", &fakeCalendar{listErr: upstream})
	var up *domain.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if _, err := env.Engine.ImportFromRemote(env.Ctx, "a@x.com", nil); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("missing calendar should be unauthorized, got %v", err)
	}
}

func TestCreateSyncedEvent(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	start := mustTime(t, "2024-06-02T14:00:00Z")
	cal := &fakeCalendar{}
	ev, err := env.Engine.CreateSyncedEvent(env.Ctx, owner, cal, engine.SyncedEventInput{Title: "Call", Start: start, End: start.Add(time.Hour), SourceTaskID: "task-1"})
	if err != nil {
		t.Fatalf("create synced: %v", err)
	}
	if ev.ExternalEventID != "remote-1" || !ev.IsFromMindMap || ev.MindMapNodeID != "task-1" {
		t.Fatalf("unexpected synced event: %+v", ev)
	}
	plain, err := env.Engine.CreateSyncedEvent(env.Ctx, owner, cal, engine.SyncedEventInput{Title: "Lunch", Start: start, End: start.Add(time.Hour)})
	if err != nil || plain.IsFromMindMap {
		t.Fatalf("event without source task must not be from mind map: %+v %v", plain, err)
	}
}

func TestCreateSyncedEventRemoteFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	start := mustTime(t, "2024-06-02T14:00:00Z")
	cal := &fakeCalendar{createErr: &domain.UpstreamError{Op: "insert", Err: errors.New("503")}}
	_, err := env.Engine.CreateSyncedEvent(env.Ctx, "a@x.com", cal, engine.SyncedEventInput{Title: "Call", Start: start, End: start.Add(time.Hour)})
	var up *domain.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	all, _ := env.Engine.ListEvents(env.Ctx, "a@x.com", domain.EventFilter{})
	if len(all) != 0 {
		t.Fatalf("no local event expected, got %d", len(all))
	}
}

func TestCreateSyncedEventLocalFailureReportsOrphan(t *testing.T) {
	env := newTestEnv(t)
	eng := env.Engine
	eng.Store = failingStore{Store: env.Repo, createEventErr: errors.New("locked")}
	start := mustTime(t, "2024-06-02T14:00:00Z")
	cal := &fakeCalendar{}
	_, err := eng.CreateSyncedEvent(env.Ctx, "a@x.com", cal, engine.SyncedEventInput{Title: "Call", Start: start, End: start.Add(time.Hour)})
	var orphan *domain.OrphanError
	if !errors.As(err, &orphan) || orphan.ID != "remote-1" {
		t.Fatalf("expected orphan error for remote-1, got %v", err)
	}
	if len(cal.created) != 1 {
		t.Fatalf("remote create should not be rolled back")
	}
	entries, _ := env.Engine.Tail(env.Ctx, "a@x.com", 5)
	if len(entries) != 1 || entries[0].Kind != journal.KindEventOrphaned || entries[0].EntityID != "remote-1" {
		t.Fatalf("expected orphan journal entry, got %+v", entries)
	}
}

func TestCreateSyncedEventValidatesBeforeRemoteCall(t *testing.T) {
	env := newTestEnv(t)
	cal := &fakeCalendar{}
	_, err := env.Engine.CreateSyncedEvent(env.Ctx, "a@x.com", cal, engine.SyncedEventInput{Title: " "})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || len(cal.created) != 0 {
		t.Fatalf("expected validation error without remote call, got %v", err)
	}
}

func TestDeleteAcrossOwnersIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, "b@x.com", domain.TaskInput{Title: "b's"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, "a@x.com", task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "b@x.com", task.ID); err != nil {
		t.Fatalf("b's task must survive: %v", err)
	}
}

func TestOwnerAndIDChecksRunBeforeStorage(t *testing.T) {
	var eng engine.Engine
	ctx := context.Background()
	if _, err := eng.ListTasks(ctx, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := eng.DeleteEvent(ctx, "a@x.com", ""); !errors.As(err, &verr) || verr.Field != "id" {
		t.Fatalf("expected missing id, got %v", err)
	}
	if _, err := eng.CreateTask(ctx, "a@x.com", domain.TaskInput{}); !errors.As(err, &verr) {
		t.Fatalf("expected missing title, got %v", err)
	}
	if _, err := eng.Calendar(ctx, domain.Credential{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized calendar, got %v", err)
	}
}

func TestSummaryCounts(t *testing.T) {
	env := newTestEnv(t)
	owner := "a@x.com"
	a, _ := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "a"})
	if _, err := env.Engine.CreateTask(env.Ctx, owner, domain.TaskInput{Title: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.ScheduleTaskByID(env.Ctx, owner, a.ID, mustTime(t, "2024-06-01T10:00:00Z")); err != nil {
		t.Fatal(err)
	}
	past := mustTime(t, "2023-06-01T10:00:00Z")
	if _, err := env.Engine.CreateEvent(env.Ctx, owner, domain.EventInput{Title: "old", StartDate: past, EndDate: past.Add(time.Hour), ExternalEventID: "g9"}); err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.Summary(env.Ctx, owner)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := engine.Summary{Tasks: 2, Scheduled: 1, Unscheduled: 1, Events: 2, Upcoming: 1, FromMindMap: 1, Synced: 1}
	if s != want {
		t.Fatalf("expected %+v, got %+v", want, s)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "a@x.com", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if key.KeyHash != engine.HashAPIKey(secret) || key.KeyHash == secret {
		t.Fatalf("key must be stored hashed")
	}
	got, err := env.Engine.ResolveAPIKey(env.Ctx, secret)
	if err != nil || got.OwnerID != "a@x.com" {
		t.Fatalf("resolve: %+v %v", got, err)
	}
	if _, err := env.Engine.ResolveAPIKey(env.Ctx, "mc_wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
