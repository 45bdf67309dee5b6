// Package scraper runs scraping jobs end to end. A job moves through three
// phases: collect listings from search result pages, enrich each listing by
// visiting its detail page, then persist everything through the product
// store. Cancellation is checked between units of work, never mid-unit, so a
// cancelled job always leaves consistent partial results behind.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taocrawl/marketplace-scraper/internal/browser"
	"github.com/taocrawl/marketplace-scraper/internal/config"
	"github.com/taocrawl/marketplace-scraper/internal/events"
	"github.com/taocrawl/marketplace-scraper/internal/extractor"
	"github.com/taocrawl/marketplace-scraper/internal/models"
)

var (
	// ErrAntiBotDetected means the site redirected us to a login or
	// verification page instead of content. Retrying immediately makes the
	// block worse, so the whole job fails fast.
	ErrAntiBotDetected = errors.New("anti-bot challenge detected")

	// ErrCancelled is the internal signal that a cancellation check fired.
	ErrCancelled = errors.New("job cancelled")

	// ErrNoProducts means a batch job matched none of its item ids.
	ErrNoProducts = errors.New("no products collected")

	// ErrLowQuality means a detail extraction never cleared the configured
	// completeness floor.
	ErrLowQuality = errors.New("extraction below quality floor")
)

// Page is the browser surface the orchestrator drives. *browser.Page
// satisfies it; tests substitute fakes.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL() string
	WaitReady(ctx context.Context, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Metrics(ctx context.Context, itemSelector string) (browser.ScrollMetrics, error)
	ScrollBy(ctx context.Context, px int) error
	ScrollToBottom(ctx context.Context) error
	ScrollToTop(ctx context.Context) error
	ClickNext(ctx context.Context, selector string, wait time.Duration) (bool, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// PageFactory hands out fresh isolated pages, one per job run.
type PageFactory interface {
	NewPage() (Page, error)
}

// SessionPages adapts a live browser session to the PageFactory seam.
func SessionPages(s *browser.Session) PageFactory {
	return sessionPages{s: s}
}

type sessionPages struct {
	s *browser.Session
}

func (f sessionPages) NewPage() (Page, error) {
	p, err := f.s.NewPage()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ProductStore is the persistence surface the persist phase writes through.
type ProductStore interface {
	Upsert(ctx context.Context, p *models.Product) (bool, error)
	FindByItemID(ctx context.Context, itemID string) (*models.Product, error)
}

// JobStore records lifecycle transitions and live progress.
type JobStore interface {
	MarkRunning(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error
	Finish(ctx context.Context, jobID string, status models.JobStatus, results models.JobResults, errMsg string) error
}

// EventSink receives notifications; implementations must not block scraping.
type EventSink interface {
	ProductScraped(ctx context.Context, e events.ProductScraped)
	JobFinished(ctx context.Context, e events.JobFinished)
}

// Service executes jobs. It is safe for concurrent use; each run gets its own
// page and rate limiter.
type Service struct {
	pages     PageFactory
	extractor extractor.DetailExtractor
	products  ProductStore
	jobs      JobStore
	events    EventSink
	cfg       config.ScraperConfig
	navWait   time.Duration
	logger    *slog.Logger
}

func New(pages PageFactory, ext extractor.DetailExtractor, products ProductStore, jobs JobStore, sink EventSink, cfg config.ScraperConfig, navTimeout time.Duration, logger *slog.Logger) *Service {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	return &Service{
		pages:     pages,
		extractor: ext,
		products:  products,
		jobs:      jobs,
		events:    sink,
		cfg:       cfg,
		navWait:   navTimeout,
		logger:    logger,
	}
}
