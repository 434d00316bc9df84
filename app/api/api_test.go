package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/pipeline"
	"github.com/lysyi3m/rss-desk/app/rules"
	"github.com/lysyi3m/rss-desk/app/scheduler"
)

const testKey = "secret"

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <link>https://blog.example.com/</link>
    <item><guid isPermaLink="false">post-1</guid><title>First</title><link>https://blog.example.com/1</link></item>
  </channel>
</rss>`

type MockScheduler struct {
	mu         sync.Mutex
	result     pipeline.Result
	err        error
	refreshed  []int64
	refreshAll func(ctx context.Context, opts scheduler.RefreshAllOptions) (events.Stats, error)
}

func (m *MockScheduler) RefreshFeed(ctx context.Context, id int64) (pipeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed = append(m.refreshed, id)
	return m.result, m.err
}

func (m *MockScheduler) RefreshAll(ctx context.Context, opts scheduler.RefreshAllOptions) (events.Stats, error) {
	if m.refreshAll == nil {
		return events.Stats{}, nil
	}
	return m.refreshAll(ctx, opts)
}

func (m *MockScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true}
}

type MockTester struct {
	result *rules.TestResult
	rule   rules.Rule
}

func (m *MockTester) TestRule(ctx context.Context, userID int64, rule rules.Rule, sampleSize int) (*rules.TestResult, error) {
	m.rule = rule
	return m.result, nil
}

type testEnv struct {
	feeds     *database.FeedRepo
	articles  *database.ArticleRepo
	scheduler *MockScheduler
	tester    *MockTester
	broker    *events.Broker
	router    *gin.Engine
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	env := &testEnv{
		feeds:     database.NewFeedRepository(db),
		articles:  database.NewArticleRepository(db),
		scheduler: &MockScheduler{result: pipeline.Result{Success: true, NewArticles: 1}},
		tester:    &MockTester{result: &rules.TestResult{}},
		broker:    events.NewBroker(),
	}

	handler := NewHandler(Deps{
		Feeds:             env.feeds,
		Articles:          env.articles,
		Rules:             database.NewRuleRepository(db),
		Settings:          database.NewSettingsRepository(db, 30),
		Parser:            feed.NewFetcher(nil, "test"),
		Scheduler:         env.scheduler,
		Tester:            env.tester,
		Events:            env.broker,
		UserID:            1,
		ManualTimeout:     5 * time.Second,
		KeepaliveInterval: time.Hour,
		Version:           "test",
	})
	env.router = NewServer(handler, testKey, prometheus.NewRegistry())

	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", testKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) createFeed(t *testing.T, url string) *database.Feed {
	t.Helper()
	f, err := env.feeds.CreateFeed(context.Background(), database.NewFeed{URL: url, Title: "Seeded"}, time.Now())
	if err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}
	return f
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func decodeFrames(body string) []events.Event {
	var out []events.Event
	for _, frame := range strings.Split(body, "\n\n") {
		if e, ok := events.DecodeFrame([]byte(frame)); ok {
			out = append(out, e)
		}
	}
	return out
}

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthMiddleware(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key header", "X-API-Key", testKey, http.StatusOK},
		{"bearer token", "Authorization", "Bearer " + testKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setup(t)
	env.createFeed(t, "https://example.com/feed.xml")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["feeds"] != float64(1) {
		t.Errorf("Expected 1 feed, got %v", body["feeds"])
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected metrics endpoint to answer 200, got %d", w.Code)
	}
}

func TestCreateFeed(t *testing.T) {
	env := setup(t)
	srv := serveFeed(t, sampleFeed)
	url := srv.URL + "/feed.xml"

	w := env.do(http.MethodPost, "/api/feeds", `{"url":"`+url+`","refresh_interval_minutes":30}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	created := body["feed"].(map[string]any)
	if created["title"] != "Example Blog" {
		t.Errorf("Expected title from feed document, got %v", created["title"])
	}
	if created["type"] != "rss" {
		t.Errorf("Expected detected type rss, got %v", created["type"])
	}
	if created["refresh_interval_minutes"] != float64(30) {
		t.Errorf("Expected interval 30, got %v", created["refresh_interval_minutes"])
	}

	if len(env.scheduler.refreshed) != 1 {
		t.Errorf("Expected the new feed to be refreshed once, got %v", env.scheduler.refreshed)
	}

	w = env.do(http.MethodPost, "/api/feeds", `{"url":"`+url+`"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected duplicate feed to be rejected with 409, got %d", w.Code)
	}
}

func TestCreateFeedRejectsBadInput(t *testing.T) {
	env := setup(t)
	notFeed := serveFeed(t, "<html><body>hello</body></html>")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid url", `{"url":"ftp://example.com/feed"}`, http.StatusBadRequest},
		{"empty url", `{"url":""}`, http.StatusBadRequest},
		{"negative interval", `{"url":"https://example.com/feed","refresh_interval_minutes":-1}`, http.StatusBadRequest},
		{"not a feed", `{"url":"` + notFeed.URL + `"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/feeds", tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if len(env.scheduler.refreshed) != 0 {
		t.Error("Expected no refresh for rejected feeds")
	}
}

func TestRefreshFeed(t *testing.T) {
	env := setup(t)
	f := env.createFeed(t, "https://example.com/feed.xml")
	path := "/api/feeds/" + itoa(f.ID) + "/refresh"

	w := env.do(http.MethodPost, path, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	env.scheduler.result = pipeline.Result{Error: "HTTP error: 503 Service Unavailable"}
	w = env.do(http.MethodPost, path, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false || body["details"] != "HTTP error: 503 Service Unavailable" {
		t.Errorf("Expected structured error with the underlying message, got %v", body)
	}

	env.scheduler.err = scheduler.ErrFeedBusy
	if w := env.do(http.MethodPost, path, ""); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a busy feed, got %d", w.Code)
	}

	env.scheduler.err = database.ErrNotFound
	if w := env.do(http.MethodPost, "/api/feeds/999/refresh", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	if w := env.do(http.MethodPost, "/api/feeds/abc/refresh", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a bad id, got %d", w.Code)
	}
}

func TestUpdateAndDeleteFeed(t *testing.T) {
	env := setup(t)
	f := env.createFeed(t, "https://example.com/feed.xml")
	path := "/api/feeds/" + itoa(f.ID)

	w := env.do(http.MethodPatch, path, `{"paused":true,"refresh_interval_minutes":15,"extract_content":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["paused"] != true || body["extract_content"] != true || body["refresh_interval_minutes"] != float64(15) {
		t.Errorf("Expected updated fields, got %v", body)
	}
	if body["next_fetch_at"] == nil {
		t.Error("Expected next_fetch_at to be recomputed from the new interval")
	}

	if w := env.do(http.MethodPatch, path, `{"refresh_interval_minutes":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a zero interval, got %d", w.Code)
	}

	if w := env.do(http.MethodPatch, "/api/feeds/999", `{"paused":false}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	if w := env.do(http.MethodDelete, path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected deleted feed to be gone, got %d", w.Code)
	}
}

func TestRulesCRUD(t *testing.T) {
	env := setup(t)

	w := env.do(http.MethodPost, "/api/rules", `{
		"name": "Go posts",
		"trigger_type": "keyword_match",
		"conditions": [ {"field": "title", "operator": "contains", "value": "go"} ],
		"actions": [ {"type": "add_tag", "value": "golang"} ],
		"priority": 60
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	created := decodeBody(t, w)
	id := int64(created["id"].(float64))
	path := "/api/rules/" + itoa(id)

	if created["enabled"] != true {
		t.Error("Expected rules to be enabled by default")
	}

	w = env.do(http.MethodGet, path, "")
	if !strings.Contains(w.Body.String(), `"conditions":[{"field":"title","operator":"contains","value":"go"}]`) {
		t.Errorf("Expected conditions to round-trip compacted, got %s", w.Body.String())
	}

	w = env.do(http.MethodPatch, path, `{"enabled":false,"priority":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	updated := decodeBody(t, w)
	if updated["enabled"] != false || updated["priority"] != float64(10) {
		t.Errorf("Expected enabled=false priority=10, got %v", updated)
	}

	w = env.do(http.MethodGet, "/api/rules", "")
	if body := decodeBody(t, w); body["total"] != float64(1) {
		t.Errorf("Expected 1 rule, got %v", body["total"])
	}

	w = env.do(http.MethodGet, path+"/executions", "")
	if body := decodeBody(t, w); w.Code != http.StatusOK || body["total"] != float64(0) {
		t.Errorf("Expected empty execution list, got %d %v", w.Code, body)
	}

	if w := env.do(http.MethodDelete, path, ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"trigger_type":"new_article"}`},
		{"unknown trigger", `{"name":"x","trigger_type":"sometimes"}`},
		{"unknown field", `{"name":"x","trigger_type":"new_article","conditions":[{"field":"colour","operator":"equals","value":"red"}]}`},
		{"unknown action", `{"name":"x","trigger_type":"new_article","actions":[{"type":"archive"}]}`},
		{"inconsistent trigger", `{"name":"x","trigger_type":"feed_match","conditions":[{"field":"title","operator":"contains","value":"go"}]}`},
		{"conditions not an array", `{"name":"x","trigger_type":"new_article","conditions":{"field":"title"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(http.MethodPost, "/api/rules", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestTestRule(t *testing.T) {
	env := setup(t)
	env.tester.result = &rules.TestResult{
		Tested:  3,
		Matched: []database.Article{{ID: 7, FeedID: 1, Title: "Go 1.24 released", URL: "https://go.dev/blog"}},
	}

	w := env.do(http.MethodPost, "/api/rules/test", `{
		"trigger_type": "keyword_match",
		"conditions": [{"field":"title","operator":"contains","value":"Go"}]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["tested"] != float64(3) || body["matched"] != float64(1) {
		t.Errorf("Expected tested=3 matched=1, got %v", body)
	}
	if env.tester.rule.Trigger != rules.TriggerKeywordMatch || len(env.tester.rule.Conditions) != 1 {
		t.Errorf("Expected the decoded rule to reach the tester, got %+v", env.tester.rule)
	}
}

func TestSettings(t *testing.T) {
	env := setup(t)

	w := env.do(http.MethodGet, "/api/settings", "")
	if body := decodeBody(t, w); body["refresh_interval_minutes"] != float64(30) {
		t.Errorf("Expected default interval 30, got %v", body)
	}

	w = env.do(http.MethodPatch, "/api/settings", `{"refresh_interval_minutes":45}`)
	if body := decodeBody(t, w); w.Code != http.StatusOK || body["refresh_interval_minutes"] != float64(45) {
		t.Errorf("Expected interval 45, got %d %v", w.Code, body)
	}

	if w := env.do(http.MethodPatch, "/api/settings", `{"refresh_interval_minutes":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRefreshStream(t *testing.T) {
	env := setup(t)

	var gotOpts scheduler.RefreshAllOptions
	env.scheduler.refreshAll = func(ctx context.Context, opts scheduler.RefreshAllOptions) (events.Stats, error) {
		gotOpts = opts
		stats := events.Stats{TotalFeeds: 1, Success: 1, NewArticles: 2}
		opts.Sink(events.Start{TotalFeeds: 1})
		opts.Sink(events.FeedRefreshing{ID: 1, Title: "Blog"})
		opts.Sink(events.FeedComplete{ID: 1, Title: "Blog", NewArticles: 2})
		opts.Sink(events.Complete{Stats: stats})
		return stats, nil
	}

	w := env.do(http.MethodGet, "/api/refresh/stream", "")

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}
	if !gotOpts.Force {
		t.Error("Expected manual refresh-all to be forced")
	}

	frames := decodeFrames(w.Body.String())
	want := []events.Type{events.TypeStart, events.TypeFeedRefreshing, events.TypeFeedComplete, events.TypeComplete}
	if len(frames) != len(want) {
		t.Fatalf("Expected %d frames, got %d: %s", len(want), len(frames), w.Body.String())
	}
	for i, e := range frames {
		if e.EventType() != want[i] {
			t.Errorf("Frame %d: expected %s, got %s", i, want[i], e.EventType())
		}
	}

	if c := frames[3].(events.Complete); c.Stats.NewArticles != 2 {
		t.Errorf("Expected 2 new articles in stats, got %d", c.Stats.NewArticles)
	}
}

func TestRefreshStreamBusy(t *testing.T) {
	env := setup(t)
	env.scheduler.refreshAll = func(ctx context.Context, opts scheduler.RefreshAllOptions) (events.Stats, error) {
		return events.Stats{}, scheduler.ErrCycleInProgress
	}

	w := env.do(http.MethodGet, "/api/refresh/stream", "")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
		t.Error("Expected a JSON error, not a stream")
	}
}

func TestEventStream(t *testing.T) {
	env := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.broker.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	env.broker.Publish(events.FeedError{ID: 3, Title: "Broken", Error: "timeout"})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	frames := decodeFrames(w.Body.String())
	if len(frames) != 1 || frames[0].EventType() != events.TypeFeedError {
		t.Errorf("Expected one feed_error frame, got %s", w.Body.String())
	}
	if env.broker.Subscribers() != 0 {
		t.Error("Expected the subscription to be released")
	}
}

func TestImportOPML(t *testing.T) {
	env := setup(t)
	existing := env.createFeed(t, "https://known.example.com/feed.xml")

	opml := `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Known" xmlUrl="https://known.example.com/feed.xml"/>
      <outline text="Fresh" xmlUrl="https://fresh.example.com/rss"/>
      <outline text="Videos" xmlUrl="https://www.youtube.com/feeds/videos.xml?channel_id=UC123"/>
    </outline>
    <outline text="Broken" xmlUrl="ftp://files.example.com/feed"/>
  </body>
</opml>`

	req := httptest.NewRequest(http.MethodPost, "/api/opml/import", strings.NewReader(opml))
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("Content-Type", "text/x-opml")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	frames := decodeFrames(w.Body.String())
	if len(frames) == 0 {
		t.Fatalf("Expected a progress stream, got %d: %s", w.Code, w.Body.String())
	}

	start := frames[0].(events.Start)
	if start.TotalFeeds != 3 {
		t.Errorf("Expected 3 feeds in the import (2 new, 1 invalid), got %d", start.TotalFeeds)
	}

	last := frames[len(frames)-1].(events.Complete)
	if last.Stats.Success != 2 || last.Stats.Errors != 1 || last.Stats.NewArticles != 2 {
		t.Errorf("Unexpected import stats: %+v", last.Stats)
	}

	for _, id := range env.scheduler.refreshed {
		if id == existing.ID {
			t.Error("Expected the known feed not to be refreshed by the import")
		}
	}

	videos, err := env.feeds.GetFeedByURL(context.Background(), "https://www.youtube.com/feeds/videos.xml?channel_id=UC123")
	if err != nil {
		t.Fatalf("Expected the YouTube feed to be created: %v", err)
	}
	if videos.Type != "youtube" || videos.Title != "Videos" {
		t.Errorf("Expected type youtube and title from the outline, got %q %q", videos.Type, videos.Title)
	}
}

// brokenWriter stands in for a client that has gone away.
type brokenWriter struct {
	header http.Header
	writes int
}

func (w *brokenWriter) Header() http.Header {
	return w.header
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func (w *brokenWriter) WriteHeader(status int) {}

func (w *brokenWriter) Flush() {}

func TestImportOPMLStopsWhenStreamBreaks(t *testing.T) {
	env := setup(t)

	opml := `<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline text="One" xmlUrl="https://one.example.com/feed.xml"/>
    <outline text="Two" xmlUrl="https://two.example.com/feed.xml"/>
  </body>
</opml>`

	req := httptest.NewRequest(http.MethodPost, "/api/opml/import", strings.NewReader(opml))
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("Content-Type", "text/x-opml")
	w := &brokenWriter{header: http.Header{}}
	env.router.ServeHTTP(w, req)

	if w.writes == 0 {
		t.Fatal("Expected the import to attempt a write")
	}

	env.scheduler.mu.Lock()
	refreshed := len(env.scheduler.refreshed)
	env.scheduler.mu.Unlock()
	if refreshed != 0 {
		t.Errorf("Expected no refreshes after the stream broke, got %d", refreshed)
	}

	for _, url := range []string{"https://one.example.com/feed.xml", "https://two.example.com/feed.xml"} {
		f, err := env.feeds.GetFeedByURL(context.Background(), url)
		if err != nil {
			t.Fatalf("Expected %s to be created: %v", url, err)
		}
		if f.NextFetchAt != nil {
			t.Errorf("Expected %s to stay due, got next fetch %v", url, f.NextFetchAt)
		}
	}
}

func TestImportOPMLRejectsGarbage(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/opml/import", bytes.NewBufferString("not xml"))
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExportOPML(t *testing.T) {
	env := setup(t)
	env.createFeed(t, "https://example.com/feed.xml")

	w := env.do(http.MethodGet, "/api/opml/export", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	subs, err := feed.ParseOPML(w.Body)
	if err != nil {
		t.Fatalf("Expected exported OPML to parse, got: %v", err)
	}
	if len(subs) != 1 || subs[0].URL != "https://example.com/feed.xml" {
		t.Errorf("Expected the feed in the export, got %+v", subs)
	}
}

func TestListArticles(t *testing.T) {
	env := setup(t)
	f := env.createFeed(t, "https://example.com/feed.xml")

	for _, guid := range []string{"a", "b"} {
		if _, err := env.articles.InsertArticle(context.Background(), &database.Article{FeedID: f.ID, GUID: guid, Title: guid}); err != nil {
			t.Fatalf("Failed to insert article: %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/articles?feed_id="+itoa(f.ID)+"&limit=1", "")
	body := decodeBody(t, w)
	if body["total"] != float64(1) {
		t.Errorf("Expected limit to apply, got %v", body["total"])
	}

	articles := body["articles"].([]any)
	if articles[0].(map[string]any)["url"] != nil {
		t.Error("Expected a missing link to encode as null")
	}

	if w := env.do(http.MethodGet, "/api/articles?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestFeedErrorResponse(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&feed.InvalidURLError{URL: "x", Reason: "scheme must be http or https"}, http.StatusBadRequest},
		{&feed.FetchError{URL: "x", StatusCode: 404, Status: "Not Found"}, http.StatusBadGateway},
		{&feed.ParseError{Err: errors.New("unexpected EOF")}, http.StatusUnprocessableEntity},
		{errors.New("other"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		if got, _ := feedErrorResponse(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
