package scraper

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/taocrawl/marketplace-scraper/internal/extractor"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
	"github.com/taocrawl/marketplace-scraper/internal/ratelimit"
)

// maxEmptyPages is how many consecutive result pages may yield zero new
// products before the collect phase gives up. Marketplaces keep paginating
// past their real result set and serve filler, so pressing on is wasted load.
const maxEmptyPages = 2

// collect is phase one: walk the search result pages and gather listing
// stubs. It stops at the product or page cap, when pagination runs out, or
// after maxEmptyPages pages in a row add nothing new.
func (r *run) collect(ctx context.Context) error {
	searchURL, err := r.strat.BuildSearchURL(r.job.Params.Keyword, r.job.Params.CategoryID)
	if err != nil {
		return err
	}

	if err := r.openResultsPage(ctx, searchURL); err != nil {
		return err
	}

	maxProducts := r.job.Params.MaxProducts
	if maxProducts <= 0 {
		maxProducts = r.svc.cfg.DefaultMaxProducts
	}
	maxPages := r.job.Params.MaxPages
	if maxPages <= 0 {
		maxPages = r.svc.cfg.DefaultMaxPages
	}

	seen := mapset.NewSet[string]()
	emptyPages := 0

	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}

		r.progress.CurrentPage = pageNum

		if _, err := stabilize(ctx, r.page, r.strat.ItemSelector, r.svc.cfg.MaxScrollAttempts, r.svc.cfg.ScrollStepDelay); err != nil {
			return err
		}

		if r.strat.IsBlockedURL(r.page.URL()) {
			return ErrAntiBotDetected
		}

		html, err := r.page.Content(ctx)
		if err != nil {
			return fmt.Errorf("failed to read results page %d: %w", pageNum, err)
		}

		listings, err := extractor.Listings(html, r.strat, extractor.Provenance{
			Keyword:      r.job.Params.Keyword,
			CategoryID:   r.job.Params.CategoryID,
			CategoryName: r.job.Params.CategoryName,
			PageNumber:   pageNum,
		})
		if err != nil {
			return fmt.Errorf("failed to extract listings from page %d: %w", pageNum, err)
		}

		added := 0
		for _, p := range listings {
			if len(r.products) >= maxProducts {
				break
			}
			if seen.Contains(p.ItemID) {
				continue
			}
			seen.Add(p.ItemID)
			r.products = append(r.products, p)
			added++
		}

		r.progress.PagesScraped = pageNum
		r.progress.ProductsScraped = len(r.products)
		r.saveProgress(ctx)

		r.logger.Info("results page collected",
			"page", pageNum, "listings", len(listings), "new", added, "total", len(r.products))

		if added == 0 {
			emptyPages++
			if emptyPages >= maxEmptyPages {
				r.logger.Warn("stopping pagination after consecutive empty pages", "pages", emptyPages)
				break
			}
		} else {
			emptyPages = 0
		}

		if len(r.products) >= maxProducts {
			break
		}
		if !extractor.HasNextPage(html, r.strat) {
			break
		}
		advanced, err := r.advancePage(ctx, pageNum+1)
		if err != nil {
			return err
		}
		if !advanced {
			r.logger.Info("next page control vanished, stopping pagination", "page", pageNum)
			break
		}
	}

	// An empty result set is a valid outcome: the job completes with zero
	// counts rather than failing.
	if len(r.products) == 0 {
		r.logger.Info("search yielded no products", "keyword", r.job.Params.Keyword)
	}
	return nil
}

func (r *run) openResultsPage(ctx context.Context, url string) error {
	if err := r.page.Navigate(ctx, url, r.svc.navWait); err != nil {
		return fmt.Errorf("failed to open search page: %w", err)
	}
	if r.strat.IsBlockedURL(r.page.URL()) {
		return ErrAntiBotDetected
	}
	if err := r.page.WaitReady(ctx, r.svc.navWait); err != nil {
		return err
	}
	return ratelimit.Sleep(ctx, r.svc.cfg.PageLoadDelay)
}

// advancePage moves to the next results page. Button platforms render the
// next page in place; URL platforms get a fresh navigation. A false return
// without error means the control was gone and pagination simply ended.
func (r *run) advancePage(ctx context.Context, nextPage int) (bool, error) {
	switch r.strat.Pagination {
	case platform.PaginateButton:
		clicked, err := r.page.ClickNext(ctx, r.strat.NextSelector, r.svc.navWait)
		if err != nil {
			return false, fmt.Errorf("failed to click next page: %w", err)
		}
		if !clicked {
			return false, nil
		}
	case platform.PaginateURL:
		next := r.strat.NextPageURL(r.page.URL(), nextPage)
		if err := r.page.Navigate(ctx, next, r.svc.navWait); err != nil {
			return false, fmt.Errorf("failed to open page %d: %w", nextPage, err)
		}
		if r.strat.IsBlockedURL(r.page.URL()) {
			return false, ErrAntiBotDetected
		}
	default:
		return false, fmt.Errorf("unknown pagination mode %q", r.strat.Pagination)
	}

	return true, ratelimit.Sleep(ctx, r.svc.cfg.PageLoadDelay)
}
