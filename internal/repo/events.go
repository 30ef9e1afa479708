package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mindcal/internal/domain"
)

const eventColumns = `id,owner_id,title,COALESCE(description,''),start_date,end_date,COALESCE(external_event_id,''),COALESCE(mind_map_node_id,''),is_from_mind_map,created_at,updated_at`

func scanEvent(row rowScanner) (domain.Event, error) {
	var ev domain.Event
	var start, end, createdAt, updatedAt string
	var fromMindMap int
	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.Description, &start, &end, &ev.ExternalEventID,
		&ev.MindMapNodeID, &fromMindMap, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	ev.IsFromMindMap = fromMindMap != 0
	if ev.StartDate, err = parseTime(start); err != nil {
		return ev, err
	}
	if ev.EndDate, err = parseTime(end); err != nil {
		return ev, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return ev, err
	}
	if ev.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ev, err
	}
	return ev, nil
}

// ListEvents returns the owner's events ordered by start date.
func (r Repo) ListEvents(ctx context.Context, ownerID string, f domain.EventFilter) ([]domain.Event, error) {
	clauses := []string{"owner_id=?"}
	args := []any{ownerID}
	if f.HasRange() {
		clauses = append(clauses, "start_date >= ?", "start_date <= ?")
		args = append(args, formatTime(*f.From), formatTime(*f.To))
	}
	if f.MindMapNodeID != "" {
		clauses = append(clauses, "mind_map_node_id=?")
		args = append(args, f.MindMapNodeID)
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY start_date ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) GetEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=? AND owner_id=?`, id, ownerID))
}

// FindEventByExternalID looks up the local copy of a provider event.
func (r Repo) FindEventByExternalID(ctx context.Context, ownerID, externalID string) (domain.Event, error) {
	if externalID == "" {
		return domain.Event{}, ErrNotFound
	}
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE owner_id=? AND external_event_id=? ORDER BY created_at ASC LIMIT 1`, ownerID, externalID))
}

func (r Repo) CreateEvent(ctx context.Context, ownerID string, in domain.EventInput) (domain.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := in.Validate(); err != nil {
		return domain.Event{}, err
	}
	now := formatTime(r.now())
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO events(id,owner_id,title,description,start_date,end_date,external_event_id,mind_map_node_id,is_from_mind_map,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, ownerID, in.Title, nullable(in.Description), formatTime(in.StartDate), formatTime(in.EndDate),
		nullable(in.ExternalEventID), nullable(in.MindMapNodeID), boolInt(in.IsFromMindMap), now, now)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return r.GetEvent(ctx, ownerID, id)
}

func (r Repo) UpdateEvent(ctx context.Context, ownerID, id string, p domain.EventPatch) (domain.Event, error) {
	if err := p.Validate(); err != nil {
		return domain.Event{}, err
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
	if p.StartDate != nil {
		set("start_date", formatTime(*p.StartDate))
	}
	if p.EndDate != nil {
		set("end_date", formatTime(*p.EndDate))
	}
	if p.ExternalEventID != nil {
		set("external_event_id", nullable(*p.ExternalEventID))
	}
	if p.MindMapNodeID != nil {
		set("mind_map_node_id", nullable(*p.MindMapNodeID))
	}
	if p.IsFromMindMap != nil {
		set("is_from_mind_map", boolInt(*p.IsFromMindMap))
	}
	set("updated_at", formatTime(r.now()))
	args = append(args, id, ownerID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE events SET %s WHERE id=? AND owner_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.Event{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Event{}, ErrNotFound
	}
	return r.GetEvent(ctx, ownerID, id)
}

// DeleteEvent removes the event and returns it. The linked task keeps its
// scheduled flag.
func (r Repo) DeleteEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `DELETE FROM events WHERE id=? AND owner_id=? RETURNING `+eventColumns, id, ownerID))
}
