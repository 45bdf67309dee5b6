package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taocrawl/marketplace-scraper/internal/database"
	"github.com/taocrawl/marketplace-scraper/internal/jobs"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/testutil"
)

type stubJobs struct {
	jobs      map[string]*models.Job
	started   []models.SearchParams
	cancelled []string
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: map[string]*models.Job{}}
}

func (s *stubJobs) StartSearch(_ context.Context, plat string, params models.SearchParams) (*models.Job, error) {
	if plat != "taobao" && plat != "tmall" && plat != "1688" {
		return nil, errors.New("unknown platform " + plat)
	}
	if params.Keyword == "" && params.CategoryID == "" {
		return nil, errors.New("search needs a keyword or category id")
	}
	s.started = append(s.started, params)
	job := &models.Job{ID: "job-1", Platform: plat, Status: models.JobPending}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobs) StartBatchRescrape(_ context.Context, plat string, itemIDs []string) (*models.Job, error) {
	if len(itemIDs) == 0 {
		return nil, errors.New("batch re-scrape needs at least one item id")
	}
	job := &models.Job{ID: "batch-1", Platform: plat, Status: models.JobPending}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobs) Cancel(_ context.Context, jobID string) (*models.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	if job.Status.Terminal() {
		return job, jobs.ErrJobFinished
	}
	s.cancelled = append(s.cancelled, jobID)
	return job, nil
}

func (s *stubJobs) Get(_ context.Context, jobID string) (*models.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

func (s *stubJobs) List(_ context.Context, status models.JobStatus, _ int) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

type stubProducts struct {
	byID      map[string]*models.Product
	deleted   []string
	lastQuery string
}

func newStubProducts() *stubProducts {
	return &stubProducts{byID: map[string]*models.Product{}}
}

func (s *stubProducts) FindByItemID(_ context.Context, itemID string) (*models.Product, error) {
	p, ok := s.byID[itemID]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return p, nil
}

func (s *stubProducts) FindMany(_ context.Context, f database.ProductFilter) ([]*models.Product, int, error) {
	var out []*models.Product
	for _, p := range s.byID {
		if f.Platform != "" && p.Platform != f.Platform {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (s *stubProducts) SearchText(_ context.Context, query string, _ int) ([]*models.Product, error) {
	s.lastQuery = query
	var out []*models.Product
	for _, p := range s.byID {
		if strings.Contains(p.Title, query) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProducts) Stats(context.Context) (*database.Stats, error) {
	return &database.Stats{TotalProducts: len(s.byID)}, nil
}

func (s *stubProducts) Delete(_ context.Context, itemID string) error {
	if _, ok := s.byID[itemID]; !ok {
		return database.ErrProductNotFound
	}
	delete(s.byID, itemID)
	s.deleted = append(s.deleted, itemID)
	return nil
}

type stubRescraper struct {
	called []string
	err    error
}

func (s *stubRescraper) RescrapeDetails(_ context.Context, p *models.Product) error {
	s.called = append(s.called, p.ItemID)
	if s.err != nil {
		return s.err
	}
	p.DetailsScraped = true
	p.ExtractionQuality = 70
	return nil
}

type env struct {
	jobs      *stubJobs
	products  *stubProducts
	rescraper *stubRescraper
	router    http.Handler
}

func newEnv() *env {
	e := &env{
		jobs:      newStubJobs(),
		products:  newStubProducts(),
		rescraper: &stubRescraper{},
	}
	h := NewHandlers(e.jobs, e.products, e.rescraper, testutil.Logger())
	e.router = NewRouter(h, nil)
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestStartSearch(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/search", SearchRequest{
		Platform: "taobao",
		Keyword:  "phone case",
		MaxPages: 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "started", resp.Status)

	require.Len(t, e.jobs.started, 1)
	assert.Equal(t, "phone case", e.jobs.started[0].Keyword)
	assert.Equal(t, 3, e.jobs.started[0].MaxPages)
}

func TestStartSearchRejectsBadInput(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/search", SearchRequest{Platform: "amazon", Keyword: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/scraper/search", SearchRequest{Platform: "taobao"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "keyword or category")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/search", strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleEndpoints(t *testing.T) {
	e := newEnv()
	e.do(t, http.MethodPost, "/api/v1/scraper/search", SearchRequest{Platform: "taobao", Keyword: "mug"})

	rec := e.do(t, http.MethodGet, "/api/v1/scraper/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.ID)

	rec = e.do(t, http.MethodGet, "/api/v1/scraper/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/scraper/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job-1"}, e.jobs.cancelled)

	rec = e.do(t, http.MethodGet, "/api/v1/scraper/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	e := newEnv()
	e.jobs.jobs["done"] = &models.Job{ID: "done", Status: models.JobCompleted}

	rec := e.do(t, http.MethodDelete, "/api/v1/scraper/jobs/done", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchDetails(t *testing.T) {
	e := newEnv()

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/batch-details", BatchDetailsRequest{
		Platform: "tmall",
		ItemIDs:  []string{"1", "2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)

	rec = e.do(t, http.MethodPost, "/api/v1/scraper/batch-details", BatchDetailsRequest{Platform: "tmall"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRescrapeDetails(t *testing.T) {
	e := newEnv()
	e.products.byID["42"] = &models.Product{ItemID: "42", Platform: "taobao"}

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/details/42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"42"}, e.rescraper.called)

	var p models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.True(t, p.DetailsScraped)
}

func TestRescrapeDetailsShortCircuitsWhenAlreadyScraped(t *testing.T) {
	e := newEnv()
	e.products.byID["42"] = &models.Product{ItemID: "42", DetailsScraped: true}

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/details/42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, e.rescraper.called, "already detailed products are not re-visited")

	rec = e.do(t, http.MethodPost, "/api/v1/scraper/details/42?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"42"}, e.rescraper.called)
}

func TestRescrapeDetailsFailure(t *testing.T) {
	e := newEnv()
	e.products.byID["42"] = &models.Product{ItemID: "42"}
	e.rescraper.err = errors.New("anti-bot challenge detected")

	rec := e.do(t, http.MethodPost, "/api/v1/scraper/details/42", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/scraper/details/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductEndpoints(t *testing.T) {
	e := newEnv()
	e.products.byID["1"] = &models.Product{ItemID: "1", Platform: "taobao", Title: "Blue Mug"}
	e.products.byID["2"] = &models.Product{ItemID: "2", Platform: "tmall", Title: "Red Mug"}

	rec := e.do(t, http.MethodGet, "/api/v1/products/?platform=taobao", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ProductListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = e.do(t, http.MethodGet, "/api/v1/products/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/products/search/text?q=Mug", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mug", e.products.lastQuery)

	rec = e.do(t, http.MethodGet, "/api/v1/products/search/text", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/products/stats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats database.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalProducts)

	rec = e.do(t, http.MethodDelete, "/api/v1/products/2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/v1/products/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv()
	h := NewHandlers(e.jobs, e.products, e.rescraper, testutil.Logger())

	healthy := NewRouter(h, map[string]HealthCheck{"database": func() error { return nil }})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	broken := NewRouter(h, map[string]HealthCheck{"database": func() error { return errors.New("down") }})
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
