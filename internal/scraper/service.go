package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/taocrawl/marketplace-scraper/internal/events"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
)

// run is the per-job working state. It lives for exactly one Run call.
type run struct {
	svc       *Service
	job       *models.Job
	strat     *platform.Strategy
	page      Page
	cancelled *atomic.Bool
	logger    *slog.Logger

	progress models.JobProgress
	results  models.JobResults
	products []*models.Product
}

// Run executes one job to a terminal state. It never returns an error; every
// outcome, including a panic-free failure, is recorded on the job itself and
// in the store.
func (s *Service) Run(ctx context.Context, job *models.Job, cancelled *atomic.Bool) {
	logger := s.logger.With("job_id", job.ID, "platform", job.Platform)

	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		logger.Error("failed to start job", "error", err)
		return
	}
	job.Status = models.JobRunning
	logger.Info("job started", "search_type", job.SearchType, "keyword", job.Params.Keyword)

	r := &run{
		svc:       s,
		job:       job,
		cancelled: cancelled,
		logger:    logger,
	}
	err := r.execute(ctx)

	status := models.JobCompleted
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		status = models.JobCancelled
	default:
		status = models.JobFailed
		errMsg = err.Error()
	}

	job.Status = status
	job.Error = errMsg
	job.Progress = r.progress
	job.Results = r.results

	if err := s.jobs.Finish(ctx, job.ID, status, r.results, errMsg); err != nil {
		logger.Error("failed to finalize job", "error", err)
	}
	s.events.JobFinished(ctx, events.JobFinished{
		JobID:    job.ID,
		Platform: job.Platform,
		Status:   status,
		Results:  r.results,
		Error:    errMsg,
	})
	logger.Info("job finished", "status", status,
		"new", r.results.NewProducts, "updated", r.results.UpdatedProducts,
		"detail_failures", r.progress.DetailsFailed)
}

func (r *run) execute(ctx context.Context) error {
	plat, err := platform.Parse(r.job.Platform)
	if err != nil {
		return err
	}
	r.strat = platform.StrategyFor(plat)

	r.page, err = r.svc.pages.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer r.page.Close()

	if r.job.SearchType == models.SearchTypeBatchDetails {
		err = r.loadBatch(ctx)
	} else {
		err = r.collect(ctx)
	}
	if err == nil {
		err = r.enrich(ctx)
	}

	if err != nil {
		if !errors.Is(err, ErrCancelled) && !errors.Is(err, context.Canceled) {
			r.captureFailure(ctx)
		}
		// Whatever was gathered before the failure is still worth keeping.
		if len(r.products) > 0 {
			r.persist(ctx)
		}
		return err
	}

	r.persist(ctx)
	return nil
}

// loadBatch replaces the collect phase for detail re-scrape jobs: the
// products already exist, we only need to fetch them back out of the store.
func (r *run) loadBatch(ctx context.Context) error {
	for _, itemID := range r.job.Params.ItemIDs {
		p, err := r.svc.products.FindByItemID(ctx, itemID)
		if err != nil {
			r.logger.Warn("skipping unknown product in batch", "item_id", itemID, "error", err)
			r.progress.DetailsFailed++
			continue
		}
		r.products = append(r.products, p)
	}
	r.progress.ProductsScraped = len(r.products)
	r.saveProgress(ctx)

	if len(r.products) == 0 {
		return ErrNoProducts
	}
	return nil
}

// RescrapeDetails re-fetches the detail page of a single known product and
// writes it back through the store. Used by the synchronous re-scrape
// endpoint, outside of any job.
func (s *Service) RescrapeDetails(ctx context.Context, p *models.Product) error {
	plat, err := platform.Parse(p.Platform)
	if err != nil {
		return err
	}

	page, err := s.pages.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	r := &run{
		svc:    s,
		job:    &models.Job{},
		strat:  platform.StrategyFor(plat),
		page:   page,
		logger: s.logger.With("item_id", p.ItemID),
	}
	if err := r.enrichOne(ctx, p); err != nil {
		return err
	}
	if _, err := s.products.Upsert(ctx, p); err != nil {
		return fmt.Errorf("failed to persist re-scraped product: %w", err)
	}
	return nil
}

// checkCancel fires between units of work. A unit in flight always finishes.
func (r *run) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.cancelled != nil && r.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

// saveProgress writes the counters through on a best-effort basis; a failed
// write only costs observers one refresh.
func (r *run) saveProgress(ctx context.Context) {
	r.job.Progress = r.progress
	if err := r.svc.jobs.UpdateProgress(ctx, r.job.ID, r.progress); err != nil {
		r.logger.Warn("failed to save progress", "error", err)
	}
}

func (r *run) captureFailure(ctx context.Context) {
	if r.svc.cfg.ScreenshotDir == "" || r.page == nil {
		return
	}
	path := filepath.Join(r.svc.cfg.ScreenshotDir, fmt.Sprintf("failure_%s.png", r.job.ID))
	if err := r.page.Screenshot(ctx, path); err != nil {
		r.logger.Warn("failed to capture failure screenshot", "error", err)
		return
	}
	r.logger.Info("failure screenshot saved", "path", path)
}
