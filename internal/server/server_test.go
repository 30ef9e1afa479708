package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"mindcal/internal/db"
	"mindcal/internal/domain"
	"mindcal/internal/engine"
	"mindcal/internal/journal"
	"mindcal/internal/migrate"
	"mindcal/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Cal    *fakeCalendar
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type fakeCalendar struct {
	events    []domain.RemoteEvent
	listErr   error
	createErr error
	next      int
}

func (c *fakeCalendar) ListEvents(ctx context.Context, timeMin, timeMax *time.Time) ([]domain.RemoteEvent, error) {
	return c.events, c.listErr
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, in domain.RemoteEventInput) (domain.RemoteEvent, error) {
	if c.createErr != nil {
		return domain.RemoteEvent{}, c.createErr
	}
	c.next++
	return domain.RemoteEvent{ID: "g-" + string(rune('0'+c.next)), Summary: in.Summary, Start: in.Start, End: in.End}, nil
}

func (c *fakeCalendar) UpdateEvent(ctx context.Context, id string, p domain.RemoteEventPatch) (domain.RemoteEvent, error) {
	return domain.RemoteEvent{ID: id}, nil
}

func (c *fakeCalendar) DeleteEvent(ctx context.Context, id string) error { return nil }

func newTestServer(t *testing.T) (*testServer, func()) {
	return startServer(t, AuthConfig{JWTSecret: testSecret, DevLogin: true})
}

func startServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	e := engine.New(r, journal.Writer{DB: conn}, r, nil)
	cal := &fakeCalendar{}
	e.Calendars = func(ctx context.Context, cred domain.Credential) (engine.Calendar, error) {
		return cal, nil
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Cal:    cal,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, owner string, cred domain.Credential) map[string]string {
	t.Helper()
	token, _, err := signDevToken(testSecret, owner, cred, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func TestHealthIsOpenAndTasksRequireAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d: %s", res.StatusCode, string(body))
	}
}

func TestScheduleTaskOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := bearer(t, "u1", domain.Credential{})

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Buy milk"}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(body))
	}
	task := decode[domain.Task](t, body)
	if task.IsScheduled || task.Priority != domain.PriorityMedium || task.Color != domain.DefaultColor {
		t.Fatalf("unexpected defaults: %+v", task)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/schedule", map[string]any{
		"date": "2024-06-01T10:00:00Z",
	}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(body))
	}
	out := decode[ScheduleResponse](t, body)
	wantStart := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if !out.Event.StartDate.Equal(wantStart) || !out.Event.EndDate.Equal(wantStart.Add(2*time.Hour)) {
		t.Fatalf("unexpected event window: %+v", out.Event)
	}
	if out.Event.MindMapNodeID != task.ID || !out.Event.IsFromMindMap {
		t.Fatalf("event not linked to task: %+v", out.Event)
	}
	if !out.Task.IsScheduled || out.Task.ScheduledDate == nil || !out.Task.ScheduledDate.Equal(wantStart) {
		t.Fatalf("task not marked scheduled: %+v", out.Task)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(body))
	}
	sum := decode[engine.Summary](t, body)
	if sum.Tasks != 1 || sum.Scheduled != 1 || sum.Events != 1 || sum.FromMindMap != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/journal?limit=5", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("journal status %d: %s", res.StatusCode, string(body))
	}
	entries := decode[JournalList](t, body)
	if len(entries.Items) != 1 || entries.Items[0].Kind != journal.KindTaskScheduled {
		t.Fatalf("unexpected journal: %+v", entries.Items)
	}
}

func TestScheduleUnknownTaskIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	h := bearer(t, "u1", domain.Credential{})
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/missing/schedule", map[string]any{}, h)
	if res.StatusCode != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(body))
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := bearer(t, "alice", domain.Credential{})
	bob := bearer(t, "bob", domain.Credential{})

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "private"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	task := decode[domain.Task](t, body)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		res, body = doJSON(t, client, method, srv.URL+"/v0/tasks/"+task.ID, nil, bob)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s as other owner: expected 404, got %d: %s", method, res.StatusCode, string(body))
		}
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bob)
	if list := decode[TaskList](t, body); len(list.Items) != 0 {
		t.Fatalf("bob sees alice's tasks: %+v", list.Items)
	}

	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+task.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(body))
	}
	if deleted := decode[domain.Task](t, body); deleted.ID != task.ID {
		t.Fatalf("delete should return the entity, got %+v", deleted)
	}
}

func TestUpdateTaskPatchesGivenFields(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := bearer(t, "u1", domain.Credential{})

	_, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":            "Plan trip",
		"tags":             []string{"travel"},
		"execution_period": map[string]any{"kind": "week", "value": "2024-W23"},
	}, h)
	task := decode[domain.Task](t, body)

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, map[string]any{
		"x":                      120.5,
		"priority":               "high",
		"clear_execution_period": true,
	}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(body))
	}
	updated := decode[domain.Task](t, body)
	if updated.Title != "Plan trip" || updated.X != 120.5 || updated.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected patch result: %+v", updated)
	}
	if updated.ExecutionPeriod != nil || len(updated.Tags) != 1 {
		t.Fatalf("execution period not cleared or tags lost: %+v", updated)
	}
}

func TestEventValidationAndRange(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := bearer(t, "u1", domain.Credential{})

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title":      "Soon",
		"start_date": "soon",
		"end_date":   "2024-06-01T10:00:00Z",
	}, h)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Fatalf("expected 400 for unparseable start, got %d: %s", res.StatusCode, string(body))
	}

	// An inverted window is stored as given.
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title":      "Backwards",
		"start_date": "2024-05-01T12:00:00Z",
		"end_date":   "2024-05-01T10:00:00Z",
	}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("inverted window status %d: %s", res.StatusCode, string(body))
	}

	for _, start := range []string{"2024-06-01T09:00:00Z", "2024-06-03T09:00:00Z", "2024-06-10T09:00:00Z"} {
		end := strings.Replace(start, "T09", "T10", 1)
		res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
			"title": "e " + start, "start_date": start, "end_date": end,
		}, h)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create event status %d: %s", res.StatusCode, string(body))
		}
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?start_date=2024-06-01T09:00:00Z&end_date=2024-06-03T09:00:00Z", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	list := decode[EventList](t, body)
	if len(list.Items) != 2 || !list.Items[0].StartDate.Before(list.Items[1].StartDate) {
		t.Fatalf("expected two events ordered by start, got %+v", list.Items)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?start_date=yesterday", nil, h)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d: %s", res.StatusCode, string(body))
	}
}

func TestICSFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	h := bearer(t, "u1", domain.Credential{})
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title": "Dentist", "start_date": "2024-06-01T09:00:00Z", "end_date": "2024-06-01T10:00:00Z",
	}, h)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events.ics", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ics status %d: %s", res.StatusCode, string(body))
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/calendar") {
		t.Fatalf("unexpected content type %q", res.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "SUMMARY:Dentist") {
		t.Fatalf("feed missing event:\n%s", string(body))
	}
}

func TestSyncImportAndCreate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	h := bearer(t, "u1", domain.Credential{AccessToken: "ya29.token"})
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	srv.Cal.events = []domain.RemoteEvent{
		{ID: "r1", Summary: "Standup", Start: start, End: start.Add(15 * time.Minute)},
		{ID: "r2", Summary: "Holiday"},
	}

	for i, want := range []int{1, 0} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sync/import", nil, h)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("import %d status %d: %s", i, res.StatusCode, string(body))
		}
		out := decode[engine.ImportResult](t, body)
		if out.Imported != want {
			t.Fatalf("import %d: expected %d imported, got %+v", i, want, out)
		}
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sync/events", map[string]any{
		"title": "Review", "start_date": "2024-06-02T09:00:00Z", "end_date": "2024-06-02T10:00:00Z",
	}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("synced create status %d: %s", res.StatusCode, string(body))
	}
	if ev := decode[domain.Event](t, body); ev.ExternalEventID == "" {
		t.Fatalf("synced event missing external id: %+v", ev)
	}

	srv.Cal.listErr = &domain.UpstreamError{Op: "list", Err: errors.New("boom")}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sync/import", nil, h)
	if res.StatusCode != http.StatusBadGateway || errorCode(t, body) != "upstream_failure" {
		t.Fatalf("expected 502, got %d: %s", res.StatusCode, string(body))
	}
}

func TestSyncWithoutCredentialIsUnauthorized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), "u1", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	h := map[string]string{"X-Api-Key": secret}

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	if me := decode[MeResponse](t, body); me.OwnerID != "u1" || me.Source != "api_key" || me.CalendarLinked {
		t.Fatalf("unexpected principal: %+v", me)
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sync/import", nil, h)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without calendar credential, got %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "mc_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"email":               "dev@example.com",
		"google_access_token": "ya29.dev",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(body))
	}
	login := decode[DevLoginResponse](t, body)
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(body))
	}
	if me := decode[MeResponse](t, body); me.OwnerID != "dev@example.com" || !me.CalendarLinked {
		t.Fatalf("unexpected principal: %+v", me)
	}

	off, offCleanup := startServer(t, AuthConfig{JWTSecret: testSecret})
	defer offCleanup()
	res, body = doJSON(t, off.Client(), http.MethodPost, off.URL+"/v0/auth/dev/login", map[string]any{"email": "dev@example.com"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when dev login disabled, got %d: %s", res.StatusCode, string(body))
	}
}

func TestOpenAPIListsSecurity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "bearerAuth") || !strings.Contains(string(body), "/v0/tasks/{id}/schedule") {
		t.Fatalf("openapi missing expected entries")
	}
}
