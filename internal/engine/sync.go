package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mindcal/internal/domain"
	"mindcal/internal/journal"
)

type ImportResult struct {
	Imported int            `json:"imported"`
	Events   []domain.Event `json:"events"`
	Skipped  int            `json:"skipped"`
	Existing int            `json:"existing"`
}

// ImportFromRemote copies remote events that have no local counterpart yet.
// It is additive: local events are never updated or removed, and an edit made
// upstream to an already imported event is not picked up.
func (e Engine) ImportFromRemote(ctx context.Context, ownerID string, cal Calendar) (ImportResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return ImportResult{}, err
	}
	if cal == nil {
		return ImportResult{}, domain.ErrUnauthorized
	}
	log := e.logger("import_from_remote", ownerID)
	remote, err := cal.ListEvents(ctx, nil, nil)
	if err != nil {
		log.WithError(err).Warn("remote listing failed")
		return ImportResult{}, err
	}
	res := ImportResult{Events: []domain.Event{}}
	for _, r := range remote {
		if !importable(r) {
			res.Skipped++
			continue
		}
		_, err := e.Store.FindEventByExternalID(ctx, ownerID, r.ID)
		if err == nil {
			res.Existing++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return res, err
		}
		ev, err := e.Store.CreateEvent(ctx, ownerID, domain.EventInput{
			Title:           r.Summary,
			Description:     r.Description,
			StartDate:       r.Start,
			EndDate:         r.End,
			ExternalEventID: r.ID,
		})
		if err != nil {
			return res, err
		}
		res.Imported++
		res.Events = append(res.Events, ev)
	}
	log.WithFields(logrus.Fields{"imported": res.Imported, "skipped": res.Skipped, "existing": res.Existing}).Info("remote import finished")
	e.record(ctx, domain.JournalEntry{
		Kind:       journal.KindSyncImported,
		OwnerID:    ownerID,
		EntityKind: "sync",
		Payload:    map[string]any{"imported": res.Imported, "skipped": res.Skipped, "existing": res.Existing},
	})
	return res, nil
}

// importable rejects untitled entries and entries without both timestamps.
func importable(r domain.RemoteEvent) bool {
	return r.ID != "" && strings.TrimSpace(r.Summary) != "" && !r.Start.IsZero() && !r.End.IsZero()
}

type SyncedEventInput struct {
	Title        string
	Description  string
	Start        time.Time
	End          time.Time
	SourceTaskID string
}

// CreateSyncedEvent writes the event to the external calendar first and then
// locally. A local failure after the remote write leaves a remote orphan and
// is reported as *domain.OrphanError; the remote event is not rolled back.
func (e Engine) CreateSyncedEvent(ctx context.Context, ownerID string, cal Calendar, in SyncedEventInput) (domain.Event, error) {
	if err := requireOwner(ownerID); err != nil {
		return domain.Event{}, err
	}
	if cal == nil {
		return domain.Event{}, domain.ErrUnauthorized
	}
	local := domain.EventInput{
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		StartDate:     in.Start,
		EndDate:       in.End,
		MindMapNodeID: in.SourceTaskID,
		IsFromMindMap: in.SourceTaskID != "",
	}
	if err := local.Validate(); err != nil {
		return domain.Event{}, err
	}
	log := e.logger("create_synced_event", ownerID)
	remote, err := cal.CreateEvent(ctx, domain.RemoteEventInput{
		Summary:     local.Title,
		Description: local.Description,
		Start:       local.StartDate,
		End:         local.EndDate,
	})
	if err != nil {
		log.WithError(err).Warn("remote create failed")
		return domain.Event{}, err
	}
	local.ExternalEventID = remote.ID
	ev, err := e.Store.CreateEvent(ctx, ownerID, local)
	if err != nil {
		log.WithError(err).WithField("external_event_id", remote.ID).Error("remote event left without local copy")
		e.record(ctx, domain.JournalEntry{
			Kind:       journal.KindEventOrphaned,
			OwnerID:    ownerID,
			EntityKind: "remote_event",
			EntityID:   remote.ID,
			Payload:    map[string]any{"title": local.Title, "error": err.Error()},
		})
		return domain.Event{}, &domain.OrphanError{Kind: "remote_event", ID: remote.ID, Err: err}
	}
	log.WithFields(logrus.Fields{"event_id": ev.ID, "external_event_id": remote.ID}).Info("event synced")
	e.record(ctx, domain.JournalEntry{
		Kind:       journal.KindEventSynced,
		OwnerID:    ownerID,
		EntityKind: "event",
		EntityID:   ev.ID,
		Payload:    map[string]any{"external_event_id": remote.ID, "source_task_id": in.SourceTaskID},
	})
	return ev, nil
}
