package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/engine"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/ratelimit"
	"github.com/jon4hz/jellyfetch/internal/scheduler"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/stretchr/testify/suite"
)

type fakeResolver struct{}

func (fakeResolver) ImdbFromTmdb(context.Context, int32, database.MediaType) (string, error) {
	return "", metadata.ErrNotFound
}

func (fakeResolver) MovieMetadata(_ context.Context, ids metadata.IDs) (*metadata.Movie, error) {
	return &metadata.Movie{IDs: ids, Title: "Akira", Year: 1988, ReleaseDate: "1988-07-16"}, nil
}

func (fakeResolver) ShowMetadata(context.Context, metadata.IDs) (*metadata.Show, error) {
	return nil, metadata.ErrNotFound
}

func (fakeResolver) SeasonEpisodes(context.Context, metadata.IDs, int) ([]metadata.Episode, error) {
	return nil, metadata.ErrNotFound
}

type fakePipeline struct {
	db        database.DB
	status    engine.Status
	scheduler *scheduler.Scheduler
	expander  *source.Expander
}

func (p *fakePipeline) Status() engine.Status { return p.status }
func (p *fakePipeline) GetScheduler() *scheduler.Scheduler { return p.scheduler }
func (p *fakePipeline) Expander() *source.Expander { return p.expander }

func (p *fakePipeline) Unblacklist(ctx context.Context, id uint) (*database.MediaItem, error) {
	item, err := p.db.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.State != database.StateBlacklisted {
		return nil, fmt.Errorf("item %d is %s", id, item.State)
	}
	if err := p.db.UpdateState(ctx, id, database.StateWanted, database.Fields{"blacklist_reason": ""}); err != nil {
		return nil, err
	}
	return p.db.GetByID(ctx, id)
}

type APITestSuite struct {
	suite.Suite
	db       *database.Client
	pipeline *fakePipeline
	limiter  *ratelimit.Limiter
	server   *Server
}

func (s *APITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := database.New(filepath.Join(s.T().TempDir(), "jellyfetch.db"))
	s.Require().NoError(err)
	s.db = db

	sched, err := scheduler.New(0)
	s.Require().NoError(err)
	s.Require().NoError(sched.AddPeriodicJob("wanted", "Wanted", "", time.Hour, func(context.Context) error { return nil }, true, false))

	cfg := &config.Config{APIKey: "secret"}
	s.pipeline = &fakePipeline{
		db:        db,
		scheduler: sched,
		expander:  source.NewExpander(fakeResolver{}, cfg),
	}
	s.limiter = ratelimit.New()

	s.server, err = New(cfg, s.pipeline, db, s.limiter, nil)
	s.Require().NoError(err)
}

func (s *APITestSuite) TearDownTest() {
	s.NoError(s.db.Close())
}

func (s *APITestSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *APITestSuite) insert(title string, state database.State) *database.MediaItem {
	item := &database.MediaItem{
		ImdbID:  "tt" + title,
		Title:   title,
		Year:    2000,
		Type:    database.MediaTypeMovie,
		State:   state,
		Version: "1080p",
	}
	s.Require().NoError(s.db.InsertMediaItem(context.Background(), item))
	return item
}

func (s *APITestSuite) TestRequiresAPIKey() {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestHealth() {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)

	s.pipeline.status = engine.Status{Degraded: true, Reasons: []string{"disk full"}}
	w = httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Equal("degraded", s.decode(w)["status"])
}

func (s *APITestSuite) TestStatus() {
	s.pipeline.status = engine.Status{Degraded: true, Reasons: []string{"library mount missing"}}

	w := s.do(http.MethodGet, "/api/status", "")
	s.Equal(http.StatusOK, w.Code)
	status := s.decode(w)["status"].(map[string]any)
	s.Equal(true, status["degraded"])
	s.Equal([]any{"library mount missing"}, status["reasons"])
}

func (s *APITestSuite) TestQueues() {
	s.insert("a", database.StateWanted)
	s.insert("b", database.StateWanted)
	s.insert("c", database.StateBlacklisted)

	w := s.do(http.MethodGet, "/api/queues", "")
	s.Equal(http.StatusOK, w.Code)
	data := s.decode(w)["data"].(map[string]any)
	states := data["states"].(map[string]any)
	s.Equal(float64(2), states["Wanted"])
	s.Equal(float64(1), states["Blacklisted"])
	s.Equal(float64(0), states["Pending Uncached"])
	s.Equal(float64(3), data["total"])
	s.Contains(data, "verifications")
}

func (s *APITestSuite) TestListItems() {
	s.insert("Akira", database.StateWanted)
	s.insert("Paprika", database.StateSleeping)

	w := s.do(http.MethodGet, "/api/items?state=sleeping", "")
	s.Equal(http.StatusOK, w.Code)
	items := s.decode(w)["items"].([]any)
	s.Require().Len(items, 1)
	s.Equal("Paprika", items[0].(map[string]any)["title"])

	w = s.do(http.MethodGet, "/api/items?q=aki", "")
	s.Equal(http.StatusOK, w.Code)
	s.Len(s.decode(w)["items"].([]any), 1)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/items?state=nope", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/items", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/items?state=wanted&limit=0", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/items?state=wanted&offset=-1", "").Code)
}

func (s *APITestSuite) TestListItems_PendingUncachedUnderscore() {
	s.insert("Perfect Blue", database.StatePendingUncached)

	w := s.do(http.MethodGet, "/api/items?state=pending_uncached", "")
	s.Equal(http.StatusOK, w.Code)
	s.Len(s.decode(w)["items"].([]any), 1)
}

func (s *APITestSuite) TestGetItem() {
	item := s.insert("Akira", database.StateWanted)

	w := s.do(http.MethodGet, fmt.Sprintf("/api/items/%d", item.ID), "")
	s.Equal(http.StatusOK, w.Code)
	got := s.decode(w)["item"].(map[string]any)
	s.Equal("Akira (2000)", got["label"])
	s.Equal("Wanted", got["state"])

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/items/999", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/items/abc", "").Code)
}

func (s *APITestSuite) TestAddItem() {
	w := s.do(http.MethodPost, "/api/items", `{"imdb_id":"tt0094625","kind":"movie","version":"1080p"}`)
	s.Equal(http.StatusCreated, w.Code, w.Body.String())
	items := s.decode(w)["items"].([]any)
	s.Require().Len(items, 1)
	s.Equal("Akira", items[0].(map[string]any)["title"])

	stored, err := s.db.GetByState(context.Background(), database.StateWanted, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(database.SourceManual, stored[0].Source)

	// the same request again inserts nothing
	w = s.do(http.MethodPost, "/api/items", `{"imdb_id":"tt0094625","kind":"movie","version":"1080p"}`)
	s.Equal(http.StatusCreated, w.Code)
	s.Empty(s.decode(w)["items"])
}

func (s *APITestSuite) TestAddItem_Invalid() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/items", `{`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/items", `{"imdb_id":"tt1","kind":"book"}`).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/items", `{"kind":"movie"}`).Code)
}

func (s *APITestSuite) TestUnblacklist() {
	item := s.insert("Akira", database.StateBlacklisted)

	w := s.do(http.MethodGet, "/api/blacklist", "")
	s.Equal(http.StatusOK, w.Code)
	s.Len(s.decode(w)["items"].([]any), 1)

	w = s.do(http.MethodPost, fmt.Sprintf("/api/items/%d/unblacklist", item.ID), "")
	s.Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal("Wanted", s.decode(w)["item"].(map[string]any)["state"])

	w = s.do(http.MethodPost, fmt.Sprintf("/api/items/%d/unblacklist", item.ID), "")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/items/999/unblacklist", "").Code)
}

func (s *APITestSuite) TestFailedVerifications() {
	w := s.do(http.MethodGet, "/api/verifications/failed", "")
	s.Equal(http.StatusOK, w.Code)
	s.Empty(s.decode(w)["verifications"])
}

func (s *APITestSuite) TestJobs() {
	w := s.do(http.MethodGet, "/api/jobs", "")
	s.Equal(http.StatusOK, w.Code)
	s.Len(s.decode(w)["jobs"].([]any), 1)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/jobs/missing/run", "").Code)

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/jobs/wanted/disable", "").Code)
	job, ok := s.pipeline.scheduler.GetJob("wanted")
	s.Require().True(ok)
	s.False(job.Enabled)

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/jobs/wanted/enable", "").Code)
	job, _ = s.pipeline.scheduler.GetJob("wanted")
	s.True(job.Enabled)
}

func (s *APITestSuite) TestRateLimitReset() {
	s.limiter.MarkRateLimited("api.real-debrid.com")
	s.True(s.limiter.OverUsage())

	w := s.do(http.MethodGet, "/api/ratelimit", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, s.decode(w)["over_usage"])

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/ratelimit/reset", "").Code)
	s.False(s.limiter.OverUsage())
}

func (s *APITestSuite) TestCacheWithoutManager() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/cache/stats", "").Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/cache/clear", "").Code)
}

func (s *APITestSuite) TestMetrics() {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "go_goroutines")
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
