package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mindcal/internal/domain"
)

// Store is the owner-scoped persistence gateway for tasks and events.
type Store interface {
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (domain.Task, error)
	CreateTask(ctx context.Context, ownerID string, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, p domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) (domain.Task, error)

	ListEvents(ctx context.Context, ownerID string, f domain.EventFilter) ([]domain.Event, error)
	GetEvent(ctx context.Context, ownerID, id string) (domain.Event, error)
	FindEventByExternalID(ctx context.Context, ownerID, externalID string) (domain.Event, error)
	CreateEvent(ctx context.Context, ownerID string, in domain.EventInput) (domain.Event, error)
	UpdateEvent(ctx context.Context, ownerID, id string, p domain.EventPatch) (domain.Event, error)
	DeleteEvent(ctx context.Context, ownerID, id string) (domain.Event, error)
}

type Journal interface {
	Append(ctx context.Context, e domain.JournalEntry) error
	Tail(ctx context.Context, ownerID string, limit int) ([]domain.JournalEntry, error)
}

type KeyStore interface {
	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

// Calendar is the external calendar of one owner.
type Calendar interface {
	ListEvents(ctx context.Context, timeMin, timeMax *time.Time) ([]domain.RemoteEvent, error)
	CreateEvent(ctx context.Context, in domain.RemoteEventInput) (domain.RemoteEvent, error)
	UpdateEvent(ctx context.Context, id string, p domain.RemoteEventPatch) (domain.RemoteEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// CalendarFactory opens the external calendar for a session credential.
type CalendarFactory func(ctx context.Context, cred domain.Credential) (Calendar, error)

type Engine struct {
	Store     Store
	Journal   Journal
	Keys      KeyStore
	Calendars CalendarFactory
	Log       *logrus.Entry
	Now       func() time.Time
}

func New(store Store, journal Journal, keys KeyStore, log *logrus.Entry) Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return Engine{
		Store:   store,
		Journal: journal,
		Keys:    keys,
		Log:     log,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger(op, ownerID string) *logrus.Entry {
	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithFields(logrus.Fields{"operation": op, "owner_id": ownerID})
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireID(ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Missing("id")
	}
	return nil
}

// record appends to the journal. Failures are logged, never returned.
func (e Engine) record(ctx context.Context, entry domain.JournalEntry) {
	if e.Journal == nil {
		return
	}
	if entry.TS.IsZero() {
		entry.TS = e.now()
	}
	if err := e.Journal.Append(ctx, entry); err != nil {
		e.logger("journal", entry.OwnerID).WithError(err).WithField("kind", entry.Kind).Warn("journal append failed")
	}
}

// Calendar opens the owner's external calendar from the session credential.
func (e Engine) Calendar(ctx context.Context, cred domain.Credential) (Calendar, error) {
	if strings.TrimSpace(cred.AccessToken) == "" {
		return nil, domain.ErrUnauthorized
	}
	if e.Calendars == nil {
		return nil, errors.New("calendar provider not configured")
	}
	return e.Calendars(ctx, cred)
}

func (e Engine) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return e.Store.ListTasks(ctx, ownerID)
}

func (e Engine) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Task{}, err
	}
	return e.Store.GetTask(ctx, ownerID, id)
}

func (e Engine) CreateTask(ctx context.Context, ownerID string, in domain.TaskInput) (domain.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return domain.Task{}, err
	}
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Store.CreateTask(ctx, ownerID, in)
	if err != nil {
		return domain.Task{}, err
	}
	e.logger("create_task", ownerID).WithField("task_id", t.ID).Info("task created")
	return t, nil
}

func (e Engine) UpdateTask(ctx context.Context, ownerID, id string, p domain.TaskPatch) (domain.Task, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Task{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Task{}, err
	}
	return e.Store.UpdateTask(ctx, ownerID, id, p)
}

func (e Engine) DeleteTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Store.DeleteTask(ctx, ownerID, id)
	if err != nil {
		return domain.Task{}, err
	}
	e.logger("delete_task", ownerID).WithField("task_id", id).Info("task deleted")
	return t, nil
}

func (e Engine) ListEvents(ctx context.Context, ownerID string, f domain.EventFilter) ([]domain.Event, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return e.Store.ListEvents(ctx, ownerID, f)
}

func (e Engine) GetEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Event{}, err
	}
	return e.Store.GetEvent(ctx, ownerID, id)
}

func (e Engine) CreateEvent(ctx context.Context, ownerID string, in domain.EventInput) (domain.Event, error) {
	if err := requireOwner(ownerID); err != nil {
		return domain.Event{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Event{}, err
	}
	ev, err := e.Store.CreateEvent(ctx, ownerID, in)
	if err != nil {
		return domain.Event{}, err
	}
	e.logger("create_event", ownerID).WithField("event_id", ev.ID).Info("event created")
	return ev, nil
}

func (e Engine) UpdateEvent(ctx context.Context, ownerID, id string, p domain.EventPatch) (domain.Event, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Event{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Event{}, err
	}
	return e.Store.UpdateEvent(ctx, ownerID, id, p)
}

// DeleteEvent removes a local event. A linked task keeps its scheduled flag.
func (e Engine) DeleteEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	if err := requireID(ownerID, id); err != nil {
		return domain.Event{}, err
	}
	ev, err := e.Store.DeleteEvent(ctx, ownerID, id)
	if err != nil {
		return domain.Event{}, err
	}
	e.logger("delete_event", ownerID).WithField("event_id", id).Info("event deleted")
	return ev, nil
}

// Tail returns the owner's most recent journal entries.
func (e Engine) Tail(ctx context.Context, ownerID string, limit int) ([]domain.JournalEntry, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if e.Journal == nil {
		return []domain.JournalEntry{}, nil
	}
	return e.Journal.Tail(ctx, ownerID, limit)
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey stores a new key for the owner and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, ownerID, name string) (domain.APIKey, string, error) {
	if err := requireOwner(ownerID); err != nil {
		return domain.APIKey{}, "", err
	}
	if e.Keys == nil {
		return domain.APIKey{}, "", errors.New("api keys not supported by this store")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	secret := "mc_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		KeyHash:   HashAPIKey(secret),
		CreatedAt: e.now().UTC(),
	}
	if err := e.Keys.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	e.logger("create_api_key", ownerID).WithField("key_id", key.ID).Info("api key created")
	return key, secret, nil
}

// ResolveAPIKey maps a plaintext key to its owner.
func (e Engine) ResolveAPIKey(ctx context.Context, secret string) (domain.APIKey, error) {
	if e.Keys == nil || strings.TrimSpace(secret) == "" {
		return domain.APIKey{}, domain.ErrUnauthorized
	}
	key, err := e.Keys.GetAPIKeyByHash(ctx, HashAPIKey(secret))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.APIKey{}, domain.ErrUnauthorized
	}
	return key, err
}
