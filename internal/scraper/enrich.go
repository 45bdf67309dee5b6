package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
	"github.com/taocrawl/marketplace-scraper/internal/ratelimit"
)

// enrich is phase two: visit every collected product's detail page. A product
// whose extraction never clears the quality floor keeps its listing stub and
// is counted as a detail failure; the job itself carries on. Anti-bot
// detection aborts the whole phase because every further visit would burn the
// session.
func (r *run) enrich(ctx context.Context) error {
	limiter := ratelimit.NewAdaptive(r.svc.cfg.ItemDelayMin, r.svc.cfg.ItemDelayMax)

	for i, p := range r.products {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}

		if i > 0 {
			if r.svc.cfg.DetailBatchSize > 0 && i%r.svc.cfg.DetailBatchSize == 0 {
				r.logger.Info("resting between detail batches", "scraped", i)
				if err := ratelimit.Sleep(ctx, r.svc.cfg.BatchRestDelay); err != nil {
					return err
				}
			}
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := r.enrichOne(ctx, p)
		switch {
		case err == nil:
			limiter.RecordSuccess()
			r.progress.DetailsScraped++
		case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
			return err
		case errors.Is(err, ErrAntiBotDetected):
			return err
		default:
			limiter.RecordError()
			r.progress.DetailsFailed++
			r.logger.Warn("detail scrape failed", "item_id", p.ItemID, "error", err)
		}

		r.saveProgress(ctx)
	}

	return nil
}

// enrichOne retries a single detail page a bounded number of times. Only the
// last error survives; intermediate failures are an expected part of scraping
// flaky marketplaces.
func (r *run) enrichOne(ctx context.Context, p *models.Product) error {
	var lastErr error
	for attempt := 0; attempt <= r.svc.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Debug("retrying detail page", "item_id", p.ItemID, "attempt", attempt)
			if err := ratelimit.Sleep(ctx, r.svc.cfg.RetryDelay); err != nil {
				return err
			}
		}
		if err := r.checkCancel(ctx); err != nil {
			return err
		}

		err := r.scrapeDetail(ctx, p)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrAntiBotDetected) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// scrapeDetail loads one detail page, extracts it, and folds the result into
// the product if it clears the quality floor.
func (r *run) scrapeDetail(ctx context.Context, p *models.Product) error {
	if p.Link == "" {
		return fmt.Errorf("product %s has no detail link", p.ItemID)
	}

	if err := r.page.Navigate(ctx, p.Link, r.svc.navWait); err != nil {
		return fmt.Errorf("failed to open detail page: %w", err)
	}
	if r.strat.IsBlockedURL(r.page.URL()) {
		return ErrAntiBotDetected
	}
	if err := r.page.WaitReady(ctx, r.svc.navWait); err != nil {
		return err
	}
	if err := ratelimit.Sleep(ctx, r.svc.cfg.DetailPageDelay); err != nil {
		return err
	}

	// Detail pages lazy-load their description images and sku panels too.
	if _, err := stabilize(ctx, r.page, "img", r.svc.cfg.DetailScrollAttempts, r.svc.cfg.ScrollStepDelay); err != nil {
		return err
	}

	html, err := r.page.Content(ctx)
	if err != nil {
		return fmt.Errorf("failed to read detail page: %w", err)
	}

	res, err := r.svc.extractor.Extract(html, platform.Platform(p.Platform))
	if err != nil {
		return fmt.Errorf("failed to extract detail page: %w", err)
	}
	if res.Completeness < r.svc.cfg.MinExtractionQuality {
		return fmt.Errorf("%w: %d < %d", ErrLowQuality, res.Completeness, r.svc.cfg.MinExtractionQuality)
	}

	if res.Title != "" {
		p.Title = res.Title
	}
	if res.Price != "" {
		p.Price = res.Price
	}
	now := time.Now().UTC()
	p.Detail = res.Detail
	p.DetailsScraped = true
	p.DetailsScrapedAt = &now
	p.ExtractionQuality = res.Completeness

	return nil
}
