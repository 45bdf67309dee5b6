package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/taocrawl/marketplace-scraper/internal/browser"
	"github.com/taocrawl/marketplace-scraper/internal/ratelimit"
)

const (
	// stableSamples is how many consecutive identical measurements mean the
	// page has stopped lazy-loading.
	stableSamples = 3

	scrollStepMin = 600
	scrollStepMax = 1000

	// Every bottomJumpEvery-th scroll jumps straight to the bottom to trigger
	// loaders that only fire near the end of the document.
	bottomJumpEvery = 5
)

// stabilize scrolls until the page height and item count stop changing, or
// until maxAttempts scrolls have been spent. The step size is jittered so the
// scroll pattern does not look scripted. The page is returned to the top
// afterwards because some result grids virtualize rows away when they leave
// the viewport.
func stabilize(ctx context.Context, page Page, itemSelector string, maxAttempts int, stepDelay time.Duration) (browser.ScrollMetrics, error) {
	last, err := page.Metrics(ctx, itemSelector)
	if err != nil {
		return last, fmt.Errorf("failed to read page metrics: %w", err)
	}

	stable := 1
	for attempt := 1; attempt <= maxAttempts && stable < stableSamples; attempt++ {
		if attempt%bottomJumpEvery == 0 {
			err = page.ScrollToBottom(ctx)
		} else {
			err = page.ScrollBy(ctx, scrollStepMin+rand.Intn(scrollStepMax-scrollStepMin+1))
		}
		if err != nil {
			return last, fmt.Errorf("scroll failed: %w", err)
		}

		if err := ratelimit.Sleep(ctx, stepDelay); err != nil {
			return last, err
		}

		m, err := page.Metrics(ctx, itemSelector)
		if err != nil {
			return last, fmt.Errorf("failed to read page metrics: %w", err)
		}
		if m == last {
			stable++
		} else {
			stable = 1
			last = m
		}
	}

	if err := page.ScrollToTop(ctx); err != nil {
		return last, fmt.Errorf("failed to return to top: %w", err)
	}
	return last, nil
}
