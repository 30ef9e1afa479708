package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mindcal/internal/domain"
)

const (
	tasksCollection   = "tasks"
	eventsCollection  = "events"
	journalCollection = "journal"
	keysCollection    = "api_keys"
)

type Config struct {
	URI      string
	Database string
}

// Store is the MongoDB persistence gateway. Every filter carries owner_id.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	Now    func() time.Time
}

type taskDoc struct {
	ID              primitive.ObjectID      `bson:"_id,omitempty"`
	OwnerID         string                  `bson:"owner_id"`
	Title           string                  `bson:"title"`
	Description     string                  `bson:"description,omitempty"`
	X               float64                 `bson:"x"`
	Y               float64                 `bson:"y"`
	Color           string                  `bson:"color"`
	Tags            []string                `bson:"tags"`
	Priority        string                  `bson:"priority"`
	ExecutionPeriod *domain.ExecutionPeriod `bson:"execution_period,omitempty"`
	IsScheduled     bool                    `bson:"is_scheduled"`
	ScheduledDate   *time.Time              `bson:"scheduled_date,omitempty"`
	Connections     []string                `bson:"connections"`
	CreatedAt       time.Time               `bson:"created_at"`
	UpdatedAt       time.Time               `bson:"updated_at"`
}

type eventDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID         string             `bson:"owner_id"`
	Title           string             `bson:"title"`
	Description     string             `bson:"description,omitempty"`
	StartDate       time.Time          `bson:"start_date"`
	EndDate         time.Time          `bson:"end_date"`
	ExternalEventID string             `bson:"external_event_id,omitempty"`
	MindMapNodeID   string             `bson:"mind_map_node_id,omitempty"`
	IsFromMindMap   bool               `bson:"is_from_mind_map"`
	CreatedAt       time.Time          `bson:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

type journalDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	TS         time.Time          `bson:"ts"`
	Kind       string             `bson:"kind"`
	OwnerID    string             `bson:"owner_id"`
	EntityKind string             `bson:"entity_kind"`
	EntityID   string             `bson:"entity_id,omitempty"`
	Payload    map[string]any     `bson:"payload"`
}

type keyDoc struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Name      string    `bson:"name,omitempty"`
	KeyHash   string    `bson:"key_hash"`
	CreatedAt time.Time `bson:"created_at"`
}

// Open connects, pings and ensures the owner indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, errors.New("mongo database required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &Store{client: client, db: client.Database(cfg.Database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	idx := map[string][]mongo.IndexModel{
		tasksCollection:   {{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}}},
		eventsCollection:  {{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "start_date", Value: 1}}}, {Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "external_event_id", Value: 1}}}},
		journalCollection: {{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "_id", Value: -1}}}},
		keysCollection:    {{Keys: bson.D{{Key: "key_hash", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for name, models := range idx {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ownedFilter returns false when id is not an ObjectID, which can never match.
func ownedFilter(ownerID, id string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "owner_id": ownerID}, true
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

func (d taskDoc) task() domain.Task {
	t := domain.Task{
		ID:              d.ID.Hex(),
		OwnerID:         d.OwnerID,
		Title:           d.Title,
		Description:     d.Description,
		X:               d.X,
		Y:               d.Y,
		Color:           d.Color,
		Tags:            d.Tags,
		Priority:        domain.Priority(d.Priority),
		ExecutionPeriod: d.ExecutionPeriod,
		IsScheduled:     d.IsScheduled,
		ScheduledDate:   d.ScheduledDate,
		Connections:     d.Connections,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Connections == nil {
		t.Connections = []string{}
	}
	return t
}

func (d eventDoc) event() domain.Event {
	return domain.Event{
		ID:              d.ID.Hex(),
		OwnerID:         d.OwnerID,
		Title:           d.Title,
		Description:     d.Description,
		StartDate:       d.StartDate,
		EndDate:         d.EndDate,
		ExternalEventID: d.ExternalEventID,
		MindMapNodeID:   d.MindMapNodeID,
		IsFromMindMap:   d.IsFromMindMap,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(tasksCollection).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		res = append(res, d.task())
	}
	return res, nil
}

func (s *Store) GetTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	var d taskDoc
	if err := s.db.Collection(tasksCollection).FindOne(ctx, filter).Decode(&d); err != nil {
		return domain.Task{}, notFound(err)
	}
	return d.task(), nil
}

func (s *Store) CreateTask(ctx context.Context, ownerID string, in domain.TaskInput) (domain.Task, error) {
	in = in.Normalized()
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	now := s.now()
	d := taskDoc{
		ID:              primitive.NewObjectID(),
		OwnerID:         ownerID,
		Title:           in.Title,
		Description:     in.Description,
		X:               in.X,
		Y:               in.Y,
		Color:           in.Color,
		Tags:            in.Tags,
		Priority:        string(in.Priority),
		ExecutionPeriod: in.ExecutionPeriod,
		IsScheduled:     in.IsScheduled,
		ScheduledDate:   in.ScheduledDate,
		Connections:     in.Connections,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.db.Collection(tasksCollection).InsertOne(ctx, d); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return d.task(), nil
}

func (s *Store) UpdateTask(ctx context.Context, ownerID, id string, p domain.TaskPatch) (domain.Task, error) {
	if err := p.Validate(); err != nil {
		return domain.Task{}, err
	}
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	set := bson.M{"updated_at": s.now()}
	unset := bson.M{}
	if p.Title != nil {
		set["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.X != nil {
		set["x"] = *p.X
	}
	if p.Y != nil {
		set["y"] = *p.Y
	}
	if p.Color != nil {
		set["color"] = *p.Color
	}
	if p.Tags != nil {
		set["tags"] = nonNil(*p.Tags)
	}
	if p.Priority != nil {
		set["priority"] = string(*p.Priority)
	}
	if p.ExecutionPeriod != nil {
		set["execution_period"] = p.ExecutionPeriod
	}
	if p.ClearExecutionPeriod {
		unset["execution_period"] = ""
	}
	if p.IsScheduled != nil {
		set["is_scheduled"] = *p.IsScheduled
	}
	if p.ScheduledDate != nil {
		set["scheduled_date"] = p.ScheduledDate.UTC()
	}
	if p.Connections != nil {
		set["connections"] = nonNil(*p.Connections)
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d taskDoc
	if err := s.db.Collection(tasksCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&d); err != nil {
		return domain.Task{}, notFound(err)
	}
	return d.task(), nil
}

func (s *Store) DeleteTask(ctx context.Context, ownerID, id string) (domain.Task, error) {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	var d taskDoc
	if err := s.db.Collection(tasksCollection).FindOneAndDelete(ctx, filter).Decode(&d); err != nil {
		return domain.Task{}, notFound(err)
	}
	return d.task(), nil
}

func (s *Store) ListEvents(ctx context.Context, ownerID string, f domain.EventFilter) ([]domain.Event, error) {
	filter := bson.M{"owner_id": ownerID}
	if f.HasRange() {
		filter["start_date"] = bson.M{"$gte": f.From.UTC(), "$lte": f.To.UTC()}
	}
	if f.MindMapNodeID != "" {
		filter["mind_map_node_id"] = f.MindMapNodeID
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_date", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(eventsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		res = append(res, d.event())
	}
	return res, nil
}

func (s *Store) GetEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	var d eventDoc
	if err := s.db.Collection(eventsCollection).FindOne(ctx, filter).Decode(&d); err != nil {
		return domain.Event{}, notFound(err)
	}
	return d.event(), nil
}

func (s *Store) FindEventByExternalID(ctx context.Context, ownerID, externalID string) (domain.Event, error) {
	if externalID == "" {
		return domain.Event{}, domain.ErrNotFound
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	var d eventDoc
	err := s.db.Collection(eventsCollection).FindOne(ctx, bson.M{"owner_id": ownerID, "external_event_id": externalID}, opts).Decode(&d)
	if err != nil {
		return domain.Event{}, notFound(err)
	}
	return d.event(), nil
}

func (s *Store) CreateEvent(ctx context.Context, ownerID string, in domain.EventInput) (domain.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := in.Validate(); err != nil {
		return domain.Event{}, err
	}
	now := s.now()
	d := eventDoc{
		ID:              primitive.NewObjectID(),
		OwnerID:         ownerID,
		Title:           in.Title,
		Description:     in.Description,
		StartDate:       in.StartDate.UTC(),
		EndDate:         in.EndDate.UTC(),
		ExternalEventID: in.ExternalEventID,
		MindMapNodeID:   in.MindMapNodeID,
		IsFromMindMap:   in.IsFromMindMap,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.db.Collection(eventsCollection).InsertOne(ctx, d); err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return d.event(), nil
}

func (s *Store) UpdateEvent(ctx context.Context, ownerID, id string, p domain.EventPatch) (domain.Event, error) {
	if err := p.Validate(); err != nil {
		return domain.Event{}, err
	}
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	set := bson.M{"updated_at": s.now()}
	if p.Title != nil {
		set["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.StartDate != nil {
		set["start_date"] = p.StartDate.UTC()
	}
	if p.EndDate != nil {
		set["end_date"] = p.EndDate.UTC()
	}
	if p.ExternalEventID != nil {
		set["external_event_id"] = *p.ExternalEventID
	}
	if p.MindMapNodeID != nil {
		set["mind_map_node_id"] = *p.MindMapNodeID
	}
	if p.IsFromMindMap != nil {
		set["is_from_mind_map"] = *p.IsFromMindMap
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d eventDoc
	if err := s.db.Collection(eventsCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&d); err != nil {
		return domain.Event{}, notFound(err)
	}
	return d.event(), nil
}

func (s *Store) DeleteEvent(ctx context.Context, ownerID, id string) (domain.Event, error) {
	filter, ok := ownedFilter(ownerID, id)
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	var d eventDoc
	if err := s.db.Collection(eventsCollection).FindOneAndDelete(ctx, filter).Decode(&d); err != nil {
		return domain.Event{}, notFound(err)
	}
	return d.event(), nil
}

func (s *Store) Append(ctx context.Context, e domain.JournalEntry) error {
	if e.TS.IsZero() {
		e.TS = s.now()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	_, err := s.db.Collection(journalCollection).InsertOne(ctx, journalDoc{
		ID:         primitive.NewObjectID(),
		TS:         e.TS.UTC(),
		Kind:       e.Kind,
		OwnerID:    e.OwnerID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    e.Payload,
	})
	return err
}

func (s *Store) Tail(ctx context.Context, ownerID string, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.db.Collection(journalCollection).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []journalDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.JournalEntry, 0, len(docs))
	for _, d := range docs {
		res = append(res, domain.JournalEntry{
			ID:         d.ID.Hex(),
			TS:         d.TS,
			Kind:       d.Kind,
			OwnerID:    d.OwnerID,
			EntityKind: d.EntityKind,
			EntityID:   d.EntityID,
			Payload:    d.Payload,
		})
	}
	return res, nil
}

func (s *Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" || key.OwnerID == "" || key.KeyHash == "" {
		return errors.New("id, owner_id and key_hash required")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	_, err := s.db.Collection(keysCollection).InsertOne(ctx, keyDoc{
		ID:        key.ID,
		OwnerID:   key.OwnerID,
		Name:      key.Name,
		KeyHash:   key.KeyHash,
		CreatedAt: key.CreatedAt.UTC(),
	})
	return err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var d keyDoc
	if err := s.db.Collection(keysCollection).FindOne(ctx, bson.M{"key_hash": hash}).Decode(&d); err != nil {
		return domain.APIKey{}, notFound(err)
	}
	return domain.APIKey{ID: d.ID, OwnerID: d.OwnerID, Name: d.Name, KeyHash: d.KeyHash, CreatedAt: d.CreatedAt}, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
