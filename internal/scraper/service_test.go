package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taocrawl/marketplace-scraper/internal/browser"
	"github.com/taocrawl/marketplace-scraper/internal/config"
	"github.com/taocrawl/marketplace-scraper/internal/events"
	"github.com/taocrawl/marketplace-scraper/internal/extractor"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
	"github.com/taocrawl/marketplace-scraper/internal/testutil"
)

// --- fakes -----------------------------------------------------------------

type fakePage struct {
	mu         sync.Mutex
	url        string
	current    string
	content    map[string]string // url -> served content
	redirects  map[string]string // url -> landing url
	navErrs    map[string]int    // url -> failures before first success
	navCount   map[string]int
	clickPages []string // contents served by successive ClickNext calls
	clickIdx   int
	metricsSeq []browser.ScrollMetrics
	metricsIdx int
	scrolls    []string
	shots      []string
	closed     bool
	onNavigate func(url string)
}

func newFakePage() *fakePage {
	return &fakePage{
		content:   map[string]string{},
		redirects: map[string]string{},
		navErrs:   map[string]int{},
		navCount:  map[string]int{},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCount[url]++
	if p.onNavigate != nil {
		p.onNavigate(url)
	}
	if p.navErrs[url] > 0 {
		p.navErrs[url]--
		return browser.ErrNavigationTimeout
	}
	p.url = url
	if landing, ok := p.redirects[url]; ok {
		p.url = landing
	}
	p.current = p.content[p.url]
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) WaitReady(context.Context, time.Duration) error { return nil }

func (p *fakePage) Content(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *fakePage) Metrics(context.Context, string) (browser.ScrollMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.metricsSeq) == 0 {
		return browser.ScrollMetrics{Height: 1000, ItemCount: 10}, nil
	}
	m := p.metricsSeq[p.metricsIdx]
	if p.metricsIdx < len(p.metricsSeq)-1 {
		p.metricsIdx++
	}
	return m, nil
}

func (p *fakePage) ScrollBy(context.Context, int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, "by")
	return nil
}

func (p *fakePage) ScrollToBottom(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, "bottom")
	return nil
}

func (p *fakePage) ScrollToTop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, "top")
	return nil
}

func (p *fakePage) ClickNext(context.Context, string, time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickIdx >= len(p.clickPages) {
		return false, nil
	}
	p.current = p.clickPages[p.clickIdx]
	p.clickIdx++
	return true, nil
}

func (p *fakePage) Screenshot(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots = append(p.shots, path)
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeFactory struct{ page *fakePage }

func (f fakeFactory) NewPage() (Page, error) { return f.page, nil }

type fakeProducts struct {
	mu       sync.Mutex
	saved    map[string]*models.Product
	existing map[string]*models.Product
	failing  map[string]bool
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{
		saved:    map[string]*models.Product{},
		existing: map[string]*models.Product{},
		failing:  map[string]bool{},
	}
}

func (s *fakeProducts) Upsert(_ context.Context, p *models.Product) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[p.ItemID] {
		return false, errors.New("write failed")
	}
	_, existed := s.saved[p.ItemID]
	if !existed {
		_, existed = s.existing[p.ItemID]
	}
	s.saved[p.ItemID] = p
	return !existed, nil
}

func (s *fakeProducts) FindByItemID(_ context.Context, itemID string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.existing[itemID]; ok {
		return p, nil
	}
	return nil, errors.New("product not found")
}

type fakeJobs struct {
	mu       sync.Mutex
	running  []string
	progress []models.JobProgress
	status   map[string]models.JobStatus
	results  map[string]models.JobResults
	errs     map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		status:  map[string]models.JobStatus{},
		results: map[string]models.JobResults{},
		errs:    map[string]string{},
	}
}

func (s *fakeJobs) MarkRunning(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = append(s.running, jobID)
	return nil
}

func (s *fakeJobs) UpdateProgress(_ context.Context, jobID string, p models.JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, p)
	return nil
}

func (s *fakeJobs) Finish(_ context.Context, jobID string, status models.JobStatus, results models.JobResults, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[jobID] = status
	s.results[jobID] = results
	s.errs[jobID] = errMsg
	return nil
}

type fakeSink struct {
	mu            sync.Mutex
	productEvents []events.ProductScraped
	jobEvents     []events.JobFinished
}

func (s *fakeSink) ProductScraped(_ context.Context, e events.ProductScraped) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productEvents = append(s.productEvents, e)
}

func (s *fakeSink) JobFinished(_ context.Context, e events.JobFinished) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobEvents = append(s.jobEvents, e)
}

// fakeDetails maps page content to canned extraction results.
type fakeDetails struct {
	results map[string]*extractor.Result
}

func (f *fakeDetails) Extract(html string, _ platform.Platform) (*extractor.Result, error) {
	if r, ok := f.results[strings.TrimSpace(html)]; ok {
		return r, nil
	}
	return &extractor.Result{Detail: &models.ProductDetail{}}, nil
}

// --- fixtures --------------------------------------------------------------

func taobaoResults(nextEnabled bool, ids ...int) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, id := range ids {
		fmt.Fprintf(&b,
			`<div class="item"><a href="https://item.taobao.com/item.htm?id=%d">Phone Case %d</a><span class="price">¥%d.50</span></div>`,
			id, id, id)
	}
	if nextEnabled {
		b.WriteString(`<a class="next">next</a>`)
	} else {
		b.WriteString(`<a class="next disabled">next</a>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func detailURL(id int) string {
	return fmt.Sprintf("https://item.taobao.com/item.htm?id=%d", id)
}

func richResult(quality int) *extractor.Result {
	return &extractor.Result{
		Title: "Phone Case Deluxe",
		Price: "19.90",
		Detail: &models.ProductDetail{
			FullDescription: "Shockproof case",
			ShopName:        "CaseShop",
			Images:          []string{"https://img.example.com/1.jpg"},
		},
		Completeness: quality,
	}
}

type harness struct {
	page     *fakePage
	products *fakeProducts
	jobs     *fakeJobs
	sink     *fakeSink
	details  *fakeDetails
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		page:     newFakePage(),
		products: newFakeProducts(),
		jobs:     newFakeJobs(),
		sink:     &fakeSink{},
		details:  &fakeDetails{results: map[string]*extractor.Result{}},
	}

	cfg := config.ScraperConfig{
		MinExtractionQuality: 50,
		MaxScrollAttempts:    4,
		DetailScrollAttempts: 3,
		DetailBatchSize:      10,
		MaxRetries:           2,
		DefaultMaxProducts:   100,
		DefaultMaxPages:      10,
	}
	h.svc = New(fakeFactory{page: h.page}, h.details, h.products, h.jobs, h.sink,
		cfg, time.Second, testutil.Logger())
	return h
}

// seedSearch wires a two-page taobao search for "phone case" into the fake
// page: six listings on page one, then four new listings plus two repeats.
func (h *harness) seedSearch(t *testing.T) string {
	t.Helper()
	strat := platform.StrategyFor(platform.Taobao)
	searchURL, err := strat.BuildSearchURL("phone case", "")
	require.NoError(t, err)

	h.page.content[searchURL] = taobaoResults(true, 100, 101, 102, 103, 104, 105)
	h.page.clickPages = []string{taobaoResults(false, 104, 105, 200, 201, 202, 203)}
	for _, id := range []int{100, 101, 102, 103, 104, 105, 200, 201, 202, 203} {
		marker := fmt.Sprintf("detail-%d", id)
		h.page.content[detailURL(id)] = marker
		h.details.results[marker] = richResult(80)
	}
	return searchURL
}

func keywordJob() *models.Job {
	return &models.Job{
		ID:         "job-1",
		Platform:   "taobao",
		SearchType: models.SearchTypeKeyword,
		Params:     models.SearchParams{Keyword: "phone case"},
		Status:     models.JobPending,
		CreatedAt:  time.Now(),
	}
}

// --- tests -----------------------------------------------------------------

func TestRunKeywordJobEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedSearch(t)

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, models.JobCompleted, h.jobs.status["job-1"])
	assert.Empty(t, job.Error)

	// 6 from page one, 4 new from page two; the 2 repeats collapse.
	assert.Len(t, h.products.saved, 10)
	assert.Equal(t, 10, job.Results.NewProducts)
	assert.Zero(t, job.Results.FailedProducts)

	assert.Equal(t, 2, job.Progress.CurrentPage)
	assert.Equal(t, 2, job.Progress.PagesScraped)
	assert.Equal(t, 10, job.Progress.ProductsScraped)
	assert.Equal(t, 10, job.Progress.DetailsScraped)
	assert.Zero(t, job.Progress.DetailsFailed)

	for _, p := range h.products.saved {
		assert.True(t, p.DetailsScraped, "item %s should carry details", p.ItemID)
		assert.Equal(t, 80, p.ExtractionQuality)
		assert.Equal(t, "phone case", p.SearchKeyword)
	}

	assert.Len(t, h.sink.productEvents, 10)
	require.Len(t, h.sink.jobEvents, 1)
	assert.Equal(t, models.JobCompleted, h.sink.jobEvents[0].Status)

	assert.True(t, h.page.closed)
}

func TestRunCancelledMidEnrichKeepsPartialResults(t *testing.T) {
	h := newHarness(t)
	h.seedSearch(t)

	var cancelled atomic.Bool
	detailNavs := 0
	h.page.onNavigate = func(url string) {
		if strings.Contains(url, "item.htm?id=") {
			detailNavs++
			if detailNavs == 4 {
				cancelled.Store(true)
			}
		}
	}

	job := keywordJob()
	h.svc.Run(context.Background(), job, &cancelled)

	assert.Equal(t, models.JobCancelled, job.Status)
	assert.Equal(t, models.JobCancelled, h.jobs.status["job-1"])

	// The item in flight when the flag flipped still finished; everything
	// collected was persisted even though enrichment stopped early.
	assert.Equal(t, 4, job.Progress.DetailsScraped)
	assert.Len(t, h.products.saved, 10)

	enriched := 0
	for _, p := range h.products.saved {
		if p.DetailsScraped {
			enriched++
		}
	}
	assert.Equal(t, 4, enriched)
}

func TestRunFailsFastOnAntiBotRedirect(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.ScreenshotDir = t.TempDir()

	strat := platform.StrategyFor(platform.Taobao)
	searchURL, err := strat.BuildSearchURL("phone case", "")
	require.NoError(t, err)
	h.page.redirects[searchURL] = "https://login.taobao.com/member/login.jhtml"

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "anti-bot")
	assert.Empty(t, h.products.saved)
	require.Len(t, h.page.shots, 1)
	assert.Contains(t, h.page.shots[0], "failure_job-1")
}

func TestRunCompletesWithZeroResults(t *testing.T) {
	h := newHarness(t)

	strat := platform.StrategyFor(platform.Taobao)
	searchURL, err := strat.BuildSearchURL("phone case", "")
	require.NoError(t, err)
	h.page.content[searchURL] = taobaoResults(false)

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Empty(t, job.Error)
	assert.Zero(t, job.Results.NewProducts)
	assert.Zero(t, job.Progress.ProductsScraped)
	assert.Empty(t, h.products.saved)
}

func TestCollectStopsAfterConsecutiveEmptyPages(t *testing.T) {
	h := newHarness(t)

	strat := platform.StrategyFor(platform.Taobao)
	searchURL, err := strat.BuildSearchURL("phone case", "")
	require.NoError(t, err)
	h.page.content[searchURL] = taobaoResults(true, 100, 101)
	h.page.clickPages = []string{
		taobaoResults(true),
		taobaoResults(true),
		taobaoResults(true, 300), // never reached
	}
	for _, id := range []int{100, 101} {
		marker := fmt.Sprintf("detail-%d", id)
		h.page.content[detailURL(id)] = marker
		h.details.results[marker] = richResult(70)
	}

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Progress.PagesScraped)
	assert.Len(t, h.products.saved, 2)
}

func TestEnrichRetriesNavigationTimeouts(t *testing.T) {
	h := newHarness(t)
	h.seedSearch(t)
	h.page.navErrs[detailURL(101)] = 1

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 10, job.Progress.DetailsScraped)
	assert.Zero(t, job.Progress.DetailsFailed)
	assert.Equal(t, 2, h.page.navCount[detailURL(101)])
	assert.True(t, h.products.saved["101"].DetailsScraped)
}

func TestEnrichGatesOnExtractionQuality(t *testing.T) {
	h := newHarness(t)
	h.seedSearch(t)
	// Item 102 never clears the floor; all attempts are burned.
	h.details.results["detail-102"] = richResult(30)

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 9, job.Progress.DetailsScraped)
	assert.Equal(t, 1, job.Progress.DetailsFailed)
	assert.Equal(t, 3, h.page.navCount[detailURL(102)], "initial attempt plus two retries")

	p := h.products.saved["102"]
	require.NotNil(t, p, "a failed enrichment still persists the listing stub")
	assert.False(t, p.DetailsScraped)
	assert.Zero(t, p.ExtractionQuality)
}

func TestPersistCountsWriteFailuresWithoutAborting(t *testing.T) {
	h := newHarness(t)
	h.seedSearch(t)
	h.products.failing["103"] = true

	job := keywordJob()
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 9, job.Results.NewProducts)
	assert.Equal(t, 1, job.Results.FailedProducts)
	assert.Len(t, h.sink.productEvents, 9)
}

func TestRunBatchDetailsJob(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int{500, 501} {
		itemID := fmt.Sprintf("%d", id)
		h.products.existing[itemID] = &models.Product{
			ItemID:   itemID,
			Platform: "taobao",
			Title:    "Old Title",
			Link:     detailURL(id),
		}
		marker := fmt.Sprintf("detail-%d", id)
		h.page.content[detailURL(id)] = marker
		h.details.results[marker] = richResult(90)
	}

	job := &models.Job{
		ID:         "batch-1",
		Platform:   "taobao",
		SearchType: models.SearchTypeBatchDetails,
		Params:     models.SearchParams{ItemIDs: []string{"500", "501", "999"}},
		Status:     models.JobPending,
		CreatedAt:  time.Now(),
	}
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, job.Progress.ProductsScraped)
	assert.Equal(t, 2, job.Progress.DetailsScraped)
	assert.Equal(t, 1, job.Progress.DetailsFailed, "unknown item counts as a failure")
	assert.Equal(t, 2, job.Results.UpdatedProducts)

	assert.Equal(t, "Phone Case Deluxe", h.products.saved["500"].Title)
	assert.True(t, h.products.saved["500"].DetailsScraped)
}

func TestRunBatchDetailsFailsWhenNoItemsResolve(t *testing.T) {
	h := newHarness(t)

	job := &models.Job{
		ID:         "batch-2",
		Platform:   "taobao",
		SearchType: models.SearchTypeBatchDetails,
		Params:     models.SearchParams{ItemIDs: []string{"998", "999"}},
		Status:     models.JobPending,
		CreatedAt:  time.Now(),
	}
	h.svc.Run(context.Background(), job, &atomic.Bool{})

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "no products collected")
	assert.Equal(t, 2, job.Progress.DetailsFailed)
}

func TestRescrapeDetailsSingleProduct(t *testing.T) {
	h := newHarness(t)
	p := &models.Product{ItemID: "700", Platform: "taobao", Link: detailURL(700)}
	h.page.content[detailURL(700)] = "detail-700"
	h.details.results["detail-700"] = richResult(60)

	require.NoError(t, h.svc.RescrapeDetails(context.Background(), p))

	assert.True(t, p.DetailsScraped)
	assert.Equal(t, 60, p.ExtractionQuality)
	assert.NotNil(t, h.products.saved["700"])
	assert.True(t, h.page.closed)
}

func TestStabilizeWaitsForThreeStableSamples(t *testing.T) {
	page := newFakePage()
	page.metricsSeq = []browser.ScrollMetrics{
		{Height: 1000, ItemCount: 10},
		{Height: 2000, ItemCount: 20},
		{Height: 3000, ItemCount: 30},
		{Height: 3000, ItemCount: 30},
		{Height: 3000, ItemCount: 30},
	}

	m, err := stabilize(context.Background(), page, ".item", 15, 0)
	require.NoError(t, err)
	assert.Equal(t, browser.ScrollMetrics{Height: 3000, ItemCount: 30}, m)

	// Four scroll steps before convergence, then the return to top.
	require.NotEmpty(t, page.scrolls)
	assert.Equal(t, "top", page.scrolls[len(page.scrolls)-1])
}

func TestStabilizeJumpsToBottomEveryFifthScroll(t *testing.T) {
	page := newFakePage()
	// Metrics never settle, so all attempts are spent.
	page.metricsSeq = make([]browser.ScrollMetrics, 20)
	for i := range page.metricsSeq {
		page.metricsSeq[i] = browser.ScrollMetrics{Height: 100 * (i + 1), ItemCount: i}
	}

	_, err := stabilize(context.Background(), page, ".item", 10, 0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(page.scrolls), 11)
	assert.Equal(t, "bottom", page.scrolls[4])
	assert.Equal(t, "bottom", page.scrolls[9])
	assert.Equal(t, "top", page.scrolls[len(page.scrolls)-1])
}
