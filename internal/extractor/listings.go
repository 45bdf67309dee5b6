package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
)

const (
	listingsPerPage = 50
	minTitleLength  = 3
)

var priceDigits = regexp.MustCompile(`[\d.]+`)

// Provenance carries the search context a listing was found under.
type Provenance struct {
	Keyword      string
	CategoryID   string
	CategoryName string
	PageNumber   int
}

// Listings extracts candidate products from a results-page snapshot. Anchors
// without a parseable price or with a too-short title are noise, not errors,
// and are silently dropped. Duplicate item ids within the page are collapsed.
func Listings(html string, strat *platform.Strategy, prov Provenance) ([]*models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var products []*models.Product
	seen := make(map[string]bool)
	now := time.Now()

	doc.Find(strat.ItemSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if len(products) >= listingsPerPage {
			return false
		}

		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		href = absoluteURL(href)

		itemID := strat.ItemID(href)
		if itemID == "" || seen[itemID] {
			return true
		}

		container := listingContainer(a)

		price := listingPrice(container)
		if price == "" {
			return true
		}

		title := listingTitle(a)
		if len([]rune(title)) < minTitleLength {
			return true
		}

		seen[itemID] = true
		products = append(products, &models.Product{
			ItemID:        itemID,
			Title:         truncate(title, 200),
			Price:         price,
			Image:         listingImage(container),
			Link:          href,
			SearchKeyword: prov.Keyword,
			CategoryID:    prov.CategoryID,
			CategoryName:  prov.CategoryName,
			PageNumber:    prov.PageNumber,
			Platform:      string(strat.Platform),
			ExtractedAt:   now,
		})
		return true
	})

	return products, nil
}

// HasNextPage checks the snapshot for an enabled next-page control.
func HasNextPage(html string, strat *platform.Strategy) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	found := false
	doc.Find(strat.NextSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if disabled, ok := s.Attr("aria-disabled"); ok && disabled == "true" {
			return true
		}
		if _, ok := s.Attr("disabled"); ok {
			return true
		}
		found = true
		return false
	})
	return found
}

func listingContainer(a *goquery.Selection) *goquery.Selection {
	for _, sel := range listingContainerSelectors {
		if c := a.Closest(sel); c.Length() > 0 {
			return c
		}
	}
	return a.Parent()
}

func listingPrice(container *goquery.Selection) string {
	text := container.Find(listingPriceSelectors).First().Text()
	return priceDigits.FindString(text)
}

func listingTitle(a *goquery.Selection) string {
	title := strings.TrimSpace(a.Text())
	if title == "" {
		title, _ = a.Attr("title")
		title = strings.TrimSpace(title)
	}
	return title
}

func listingImage(container *goquery.Selection) string {
	img := container.Find("img").First()
	if img.Length() == 0 {
		return ""
	}
	src, ok := img.Attr("data-src")
	if !ok || src == "" {
		src, _ = img.Attr("src")
	}
	return absoluteURL(src)
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
