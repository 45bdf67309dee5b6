package scraper

import (
	"context"

	"github.com/taocrawl/marketplace-scraper/internal/events"
)

// persist is phase three: write every collected product through the store.
// A single write failure is counted and logged but never aborts the phase;
// by this point the browser work is done and every remaining product is pure
// profit. Cancellation is deliberately not checked here for the same reason.
func (r *run) persist(ctx context.Context) {
	for _, p := range r.products {
		isNew, err := r.svc.products.Upsert(ctx, p)
		if err != nil {
			r.results.FailedProducts++
			r.logger.Error("failed to persist product", "item_id", p.ItemID, "error", err)
			continue
		}

		if isNew {
			r.results.NewProducts++
		} else {
			r.results.UpdatedProducts++
		}

		r.svc.events.ProductScraped(ctx, events.ProductScraped{
			ItemID:            p.ItemID,
			Platform:          p.Platform,
			Title:             p.Title,
			Price:             p.Price,
			DetailsScraped:    p.DetailsScraped,
			ExtractionQuality: p.ExtractionQuality,
			IsNew:             isNew,
		})
	}
}
