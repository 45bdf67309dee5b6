package models

import (
	"time"
)

// Product is one marketplace listing, addressed by the platform-assigned
// item id which is unique across the whole store.
type Product struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	// Price is kept as text to avoid precision loss across locales.
	Price string `json:"price"`
	Image string `json:"image"`
	Link  string `json:"link"`

	// Search provenance
	SearchKeyword string `json:"search_keyword,omitempty"`
	CategoryID    string `json:"category_id,omitempty"`
	CategoryName  string `json:"category_name,omitempty"`
	PageNumber    int    `json:"page_number,omitempty"`

	Platform string `json:"platform"`

	Detail            *ProductDetail `json:"detail,omitempty"`
	DetailsScraped    bool           `json:"details_scraped"`
	DetailsScrapedAt  *time.Time     `json:"details_scraped_at,omitempty"`
	ExtractionQuality int            `json:"extraction_quality"`

	ExtractedAt time.Time `json:"extracted_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductDetail is the enrichment sub-record, populated by a detail-page
// extraction that passed the quality gate.
type ProductDetail struct {
	FullDescription string            `json:"full_description,omitempty"`
	Specifications  map[string]string `json:"specifications,omitempty"`
	Brand           string            `json:"brand,omitempty"`
	Images          []string          `json:"images,omitempty"`
	Variants        []Variant         `json:"variants,omitempty"`
	ReviewCount     string            `json:"review_count,omitempty"`
	Rating          string            `json:"rating,omitempty"`
	InStock         bool              `json:"in_stock"`
	ShippingInfo    string            `json:"shipping_info,omitempty"`
	SalesVolume     string            `json:"sales_volume,omitempty"`
	Guarantees      []string          `json:"guarantees,omitempty"`
	ShopName        string            `json:"shop_name,omitempty"`
}

// Variant is one selectable axis on a listing, e.g. "Size" or "Color".
type Variant struct {
	Label   string          `json:"label"`
	Options []VariantOption `json:"options"`
}

type VariantOption struct {
	Value string `json:"value"`
	Image string `json:"image,omitempty"`
	// VID is the platform-assigned variant id, when the page exposes one.
	VID string `json:"vid,omitempty"`
}

// Merge folds a fresh sighting of the same item into the stored record.
// Search-provenance fields always refresh; the detail sub-record only moves
// forward: once details are scraped, a later extraction may replace them only
// if its quality is at least as high, so automated re-scraping never regresses
// an enriched product.
func Merge(existing, incoming *Product) *Product {
	merged := *existing

	merged.Title = pick(incoming.Title, existing.Title)
	merged.Price = pick(incoming.Price, existing.Price)
	merged.Image = pick(incoming.Image, existing.Image)
	merged.Link = pick(incoming.Link, existing.Link)

	merged.SearchKeyword = pick(incoming.SearchKeyword, existing.SearchKeyword)
	merged.CategoryID = pick(incoming.CategoryID, existing.CategoryID)
	merged.CategoryName = pick(incoming.CategoryName, existing.CategoryName)
	if incoming.PageNumber > 0 {
		merged.PageNumber = incoming.PageNumber
	}
	if !incoming.ExtractedAt.IsZero() {
		merged.ExtractedAt = incoming.ExtractedAt
	}

	if acceptDetail(existing, incoming) {
		merged.Detail = incoming.Detail
		merged.DetailsScraped = true
		merged.DetailsScrapedAt = incoming.DetailsScrapedAt
		merged.ExtractionQuality = incoming.ExtractionQuality
	}

	return &merged
}

// acceptDetail decides whether the incoming detail sub-record may replace the
// stored one. The whole sub-record, including the quality score, is covered by
// the monotonic-enrichment rule.
func acceptDetail(existing, incoming *Product) bool {
	if !incoming.DetailsScraped || incoming.Detail == nil {
		return false
	}
	if !existing.DetailsScraped {
		return true
	}
	return incoming.ExtractionQuality >= existing.ExtractionQuality
}

func pick(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}
