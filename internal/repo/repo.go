package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mindcal/internal/domain"
)

// Repo is the SQLite persistence gateway. Every query is scoped by owner_id.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = domain.ErrNotFound

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id,owner_id,title,COALESCE(description,''),x,y,color,tags_json,priority,execution_period_json,is_scheduled,scheduled_date,connections_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalList(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalPeriod(p *domain.ExecutionPeriod) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var tagsJSON, connsJSON, priority, createdAt, updatedAt string
	var periodJSON, scheduledDate sql.NullString
	var isScheduled int
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.X, &t.Y, &t.Color, &tagsJSON, &priority,
		&periodJSON, &isScheduled, &scheduledDate, &connsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Priority = domain.Priority(priority)
	t.IsScheduled = isScheduled != 0
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return t, fmt.Errorf("decode tags of task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(connsJSON), &t.Connections); err != nil {
		return t, fmt.Errorf("decode connections of task %s: %w", t.ID, err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Connections == nil {
		t.Connections = []string{}
	}
	if periodJSON.Valid && periodJSON.String != "" {
		var p domain.ExecutionPeriod
		if err := json.Unmarshal([]byte(periodJSON.String), &p); err != nil {
			return t, fmt.Errorf("decode execution period of task %s: %w", t.ID, err)
		}
		t.ExecutionPeriod = &p
	}
	if scheduledDate.Valid {
		ts, err := parseTime(scheduledDate.String)
		if err != nil {
			return t, err
		}
		t.ScheduledDate = &ts
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id=? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? AND owner_id=?`, id, ownerID))
}

func (r Repo) CreateTask(ctx context.Context, ownerID string, in domain.TaskInput) (domain.Task, error) {
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	tags, err := marshalList(in.Tags)
	if err != nil {
		return domain.Task{}, err
	}
	conns, err := marshalList(in.Connections)
	if err != nil {
		return domain.Task{}, err
	}
	period, err := marshalPeriod(in.ExecutionPeriod)
	if err != nil {
		return domain.Task{}, err
	}
	now := formatTime(r.now())
	id := uuid.NewString()
	_, err = r.DB.ExecContext(ctx, `INSERT INTO tasks(id,owner_id,title,description,x,y,color,tags_json,priority,execution_period_json,is_scheduled,scheduled_date,connections_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, ownerID, in.Title, nullable(in.Description), in.X, in.Y, in.Color, tags, string(in.Priority), period,
		boolInt(in.IsScheduled), nullableTime(in.ScheduledDate), conns, now, now)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return r.GetTask(ctx, ownerID, id)
}

func (r Repo) UpdateTask(ctx context.Context, ownerID, id string, p domain.TaskPatch) (domain.Task, error) {
	if err := p.Validate(); err != nil {
		return domain.Task{}, err
	}
	var (
		fields []string
		args   []any
	)
	set := func(field string, v any) {
		fields = append(fields, field+"=?")
		args = append(args, v)
	}
	if p.Title != nil {
		set("title", strings.TrimSpace(*p.Title))
	}
	if p.Description != nil {
		set("description", nullable(*p.Description))
	}
	if p.X != nil {
		set("x", *p.X)
	}
	if p.Y != nil {
		set("y", *p.Y)
	}
	if p.Color != nil {
		set("color", *p.Color)
	}
	if p.Tags != nil {
		tags, err := marshalList(*p.Tags)
		if err != nil {
			return domain.Task{}, err
		}
		set("tags_json", tags)
	}
	if p.Priority != nil {
		set("priority", string(*p.Priority))
	}
	if p.ExecutionPeriod != nil {
		period, err := marshalPeriod(p.ExecutionPeriod)
		if err != nil {
			return domain.Task{}, err
		}
		set("execution_period_json", period)
	}
	if p.ClearExecutionPeriod {
		set("execution_period_json", nil)
	}
	if p.IsScheduled != nil {
		set("is_scheduled", boolInt(*p.IsScheduled))
	}
	if p.ScheduledDate != nil {
		set("scheduled_date", nullableTime(p.ScheduledDate))
	}
	if p.Connections != nil {
		conns, err := marshalList(*p.Connections)
		if err != nil {
			return domain.Task{}, err
		}
		set("connections_json", conns)
	}
	set("updated_at", formatTime(r.now()))
	args = append(args, id, ownerID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND owner_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Task{}, ErrNotFound
	}
	return r.GetTask(ctx, ownerID, id)
}

// DeleteTask removes the task and returns it. Events referencing it are kept.
func (r Repo) DeleteTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `DELETE FROM tasks WHERE id=? AND owner_id=? RETURNING `+taskColumns, id, ownerID))
}
