// Package extractor reads raw product fields out of page HTML snapshots.
// The selector chains in selectors.go are configuration: marketplaces rotate
// their obfuscated class names, so every field is looked up through an
// ordered fallback list and the result is scored for completeness rather
// than trusted blindly.
package extractor

import (
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
)

// Result is one detail-extraction attempt: the raw field map plus the 0-100
// completeness score the orchestrator gates on. It is transient; only the
// Detail sub-record is ever persisted, folded into a Product.
type Result struct {
	Title        string
	Price        string
	Detail       *models.ProductDetail
	Completeness int
}

// DetailExtractor produces a Result from a loaded detail page.
type DetailExtractor interface {
	Extract(html string, p platform.Platform) (*Result, error)
}

// score counts how many of the expected field groups were found.
func score(r *Result) int {
	d := r.Detail
	checks := []bool{
		r.Title != "",
		r.Price != "",
		len(d.Images) > 0,
		len(d.Variants) > 0,
		len(d.Specifications) > 0,
		d.SalesVolume != "",
		d.ShopName != "",
		d.Brand != "",
		d.ReviewCount != "",
		d.FullDescription != "",
	}

	found := 0
	for _, ok := range checks {
		if ok {
			found++
		}
	}
	return found * 100 / len(checks)
}
