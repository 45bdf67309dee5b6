package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
)

var (
	countDigits = regexp.MustCompile(`\d[\d,]*`)
	brandKeys   = []string{"品牌", "Brand", "brand"}
)

// HTMLExtractor is the goquery-based detail extractor used in production.
type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract walks the selector fallback chains over a detail-page snapshot and
// scores the result. The platform argument is accepted for interface
// symmetry; the chains themselves already cover all supported marketplaces.
func (e *HTMLExtractor) Extract(html string, _ platform.Platform) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}

	detail := &models.ProductDetail{
		Specifications: extractSpecs(doc),
		Images:         extractImages(doc),
		Variants:       extractVariants(doc),
		ShopName:       firstText(doc, shopNameSelectors),
		SalesVolume:    firstText(doc, salesVolumeSelectors),
		Rating:         firstText(doc, ratingSelectors),
		ShippingInfo:   truncate(firstText(doc, shippingSelectors), 200),
		Guarantees:     extractGuarantees(doc),
	}

	detail.FullDescription = truncate(firstText(doc, descriptionSelectors), 5000)
	detail.Brand = brandFromSpecs(detail.Specifications)
	detail.ReviewCount = extractReviewCount(doc)
	detail.InStock = extractStock(doc)

	result := &Result{
		Title:  extractTitle(doc),
		Price:  extractPrice(doc),
		Detail: detail,
	}
	result.Completeness = score(result)

	return result, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := firstText(doc, titleSelectors); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

func extractPrice(doc *goquery.Document) string {
	text := firstText(doc, priceSelectors)
	return priceDigits.FindString(text)
}

func extractImages(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var images []string

	add := func(sel *goquery.Selection) {
		sel.Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("data-src")
			if !ok || src == "" {
				src, _ = img.Attr("src")
			}
			src = absoluteURL(src)
			// Placeholder pixel the gallery uses before lazy-load fires.
			if src == "" || strings.HasSuffix(src, "s.gif") || seen[src] {
				return
			}
			seen[src] = true
			images = append(images, src)
		})
	}

	for _, sel := range galleryImageSelectors {
		add(doc.Find(sel))
		if len(images) > 0 {
			break
		}
	}
	for _, sel := range detailImageSelectors {
		add(doc.Find(sel))
		if len(images) > 5 {
			break
		}
	}

	if len(images) > 30 {
		images = images[:30]
	}
	return images
}

func extractVariants(doc *goquery.Document) []models.Variant {
	var variants []models.Variant

	for _, containerSel := range skuContainerSelectors {
		groups := doc.Find(containerSel)
		if groups.Length() == 0 {
			continue
		}

		groups.Each(func(_ int, group *goquery.Selection) {
			label := firstTextIn(group, skuLabelSelectors)
			if label == "" {
				return
			}

			var options []models.VariantOption
			for _, valueSel := range skuValueSelectors {
				items := group.Find(valueSel)
				if items.Length() == 0 {
					continue
				}

				items.Each(func(_ int, item *goquery.Selection) {
					if disabled, ok := item.Attr("data-disabled"); ok && disabled == "true" {
						return
					}
					if item.HasClass("disabled") {
						return
					}

					text := strings.TrimSpace(item.Text())
					if text == "" || len([]rune(text)) >= 100 {
						return
					}

					opt := models.VariantOption{Value: text}
					if img := item.Find("img").First(); img.Length() > 0 {
						src, ok := img.Attr("src")
						if !ok || src == "" {
							src, _ = img.Attr("data-src")
						}
						opt.Image = absoluteURL(src)
					}
					if vid, ok := item.Attr("data-vid"); ok {
						opt.VID = vid
					} else if vid, ok := item.Attr("data-value"); ok {
						opt.VID = vid
					}

					options = append(options, opt)
				})
				if len(options) > 0 {
					break
				}
			}

			if len(options) > 0 {
				variants = append(variants, models.Variant{Label: label, Options: options})
			}
		})

		if len(variants) > 0 {
			break
		}
	}

	return variants
}

func extractSpecs(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)

	for _, sel := range specSelectors {
		doc.Find(sel).Each(func(_ int, item *goquery.Selection) {
			// Prefer explicit name/value children, fall back to "name: value" text.
			name := strings.TrimSpace(item.Find(`[class*="name"], dt, .label`).First().Text())
			value := strings.TrimSpace(item.Find(`[class*="value"], dd`).First().Text())

			if name == "" || value == "" {
				parts := strings.SplitN(strings.TrimSpace(item.Text()), ":", 2)
				if len(parts) == 2 {
					name, value = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
				}
			}

			if name != "" && value != "" && len(name) < 50 && len(value) < 200 {
				specs[name] = value
			}
		})
		if len(specs) > 0 {
			break
		}
	}

	return specs
}

func extractGuarantees(doc *goquery.Document) []string {
	var guarantees []string
	for _, sel := range guaranteeSelectors {
		doc.Find(sel).Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if len(text) > 3 && len(text) < 100 {
				guarantees = append(guarantees, text)
			}
		})
		if len(guarantees) > 0 {
			break
		}
	}
	if len(guarantees) > 10 {
		guarantees = guarantees[:10]
	}
	return guarantees
}

func extractReviewCount(doc *goquery.Document) string {
	text := firstText(doc, reviewCountSelectors)
	count := countDigits.FindString(text)
	return strings.ReplaceAll(count, ",", "")
}

func extractStock(doc *goquery.Document) bool {
	text := strings.ToLower(firstText(doc, stockSelectors))
	if text == "" {
		return false
	}
	if strings.Contains(text, "out of stock") || strings.Contains(text, "无货") {
		return false
	}
	return true
}

func brandFromSpecs(specs map[string]string) string {
	for _, key := range brandKeys {
		if v, ok := specs[key]; ok {
			return v
		}
	}
	return ""
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstTextIn(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
