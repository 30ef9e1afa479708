package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"mindcal/internal/domain"
)

const (
	KindSyncImported  = "sync.imported"
	KindEventSynced   = "event.synced"
	KindEventOrphaned = "event.orphaned"
	KindTaskScheduled = "task.scheduled"
	KindTaskOrphaned  = "task.orphaned"
)

const DefaultTail = 50

// Writer appends owner-scoped entries to the journal table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, e domain.JournalEntry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.TS.IsZero() {
		e.TS = w.Now()
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO journal(ts,kind,owner_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		e.TS.UTC().Format(time.RFC3339Nano), e.Kind, e.OwnerID, e.EntityKind, nullable(e.EntityID), string(data))
	return err
}

// Tail returns the most recent entries of the owner, newest first.
func (w Writer) Tail(ctx context.Context, ownerID string, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultTail
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,kind,owner_id,entity_kind,COALESCE(entity_id,''),payload_json FROM journal WHERE owner_id=? ORDER BY id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.JournalEntry{}
	for rows.Next() {
		var (
			e           domain.JournalEntry
			id          int64
			ts, payload string
		)
		if err := rows.Scan(&id, &ts, &e.Kind, &e.OwnerID, &e.EntityKind, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(id, 10)
		if e.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode journal payload %d: %w", id, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
