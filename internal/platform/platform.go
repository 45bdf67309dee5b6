package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Platform identifies one supported marketplace.
type Platform string

const (
	Taobao      Platform = "taobao"
	Tmall       Platform = "tmall"
	Alibaba1688 Platform = "1688"
)

// Parse validates a client-supplied platform name.
func Parse(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case Taobao:
		return Taobao, nil
	case Tmall:
		return Tmall, nil
	case Alibaba1688:
		return Alibaba1688, nil
	}
	return "", fmt.Errorf("unknown platform %q (must be taobao, tmall or 1688)", s)
}

// All lists the supported platforms, for validation messages.
func All() []Platform {
	return []Platform{Taobao, Tmall, Alibaba1688}
}

// PaginationMode says how a platform advances to the next results page.
type PaginationMode string

const (
	// PaginateButton clicks a next button; the platform renders client-side.
	PaginateButton PaginationMode = "button"
	// PaginateURL increments a page query parameter and navigates.
	PaginateURL PaginationMode = "url"
)

// Strategy is the per-platform pagination policy: how to build a search URL,
// find listing anchors, recognize the next-page control, and advance.
type Strategy struct {
	Platform      Platform
	SearchURL     string
	BaseURL       string
	QueryParam    string
	CategoryParam string

	// ItemSelector finds listing anchors on a results page.
	ItemSelector string
	// NextSelector matches the enabled next-page control.
	NextSelector string
	Pagination   PaginationMode

	itemIDPattern *regexp.Regexp
	// blockedPatterns are URL substrings that mean we were redirected to a
	// login or verification page instead of content.
	blockedPatterns []string
}

var strategies = map[Platform]*Strategy{
	Taobao: {
		Platform:        Taobao,
		SearchURL:       "https://s.taobao.com/search",
		BaseURL:         "https://www.taobao.com",
		QueryParam:      "q",
		CategoryParam:   "catId",
		ItemSelector:    `a[href*="item.taobao.com"][href*="id="]`,
		NextSelector:    `.next:not(.disabled), .next-next:not(.disabled)`,
		Pagination:      PaginateButton,
		itemIDPattern:   regexp.MustCompile(`[?&]id=(\d+)`),
		blockedPatterns: []string{"login", "verify", "sec.taobao.com"},
	},
	Tmall: {
		Platform:        Tmall,
		SearchURL:       "https://list.tmall.com/search_product.htm",
		BaseURL:         "https://www.tmall.com",
		QueryParam:      "q",
		CategoryParam:   "cat",
		ItemSelector:    `a[href*="detail.tmall.com"][href*="id="]`,
		NextSelector:    `.ui-page-next:not(.ui-page-disabled)`,
		Pagination:      PaginateButton,
		itemIDPattern:   regexp.MustCompile(`[?&]id=(\d+)`),
		blockedPatterns: []string{"login", "verify"},
	},
	Alibaba1688: {
		Platform:        Alibaba1688,
		SearchURL:       "https://s.1688.com/selloffer/offer_search.htm",
		BaseURL:         "https://www.1688.com",
		QueryParam:      "keywords",
		CategoryParam:   "categoryId",
		ItemSelector:    `a[href*="detail.1688.com"][href*="offer"]`,
		NextSelector:    `.fui-next:not(.disabled)`,
		Pagination:      PaginateURL,
		itemIDPattern:   regexp.MustCompile(`offer/(\d+)\.html`),
		blockedPatterns: []string{"login", "verify"},
	},
}

// StrategyFor returns the pagination strategy of p.
func StrategyFor(p Platform) *Strategy {
	return strategies[p]
}

// BuildSearchURL builds the first results page URL for a keyword or a
// category id. Exactly one of the two should be set; keyword wins if both are.
func (s *Strategy) BuildSearchURL(keyword, categoryID string) (string, error) {
	u, err := url.Parse(s.SearchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	switch {
	case keyword != "":
		q.Set(s.QueryParam, keyword)
	case categoryID != "":
		q.Set(s.CategoryParam, categoryID)
	default:
		return "", fmt.Errorf("search needs a keyword or category id")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NextPageURL rewrites or appends the page parameter of the current URL.
// Used by URL-paginated platforms.
func (s *Strategy) NextPageURL(current string, nextPage int) string {
	if pageParam.MatchString(current) {
		return pageParam.ReplaceAllString(current, fmt.Sprintf("${1}page=%d", nextPage))
	}
	sep := "?"
	if strings.Contains(current, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", current, sep, nextPage)
}

var pageParam = regexp.MustCompile(`([?&])page=\d+`)

// ItemID extracts the platform item id from a listing href, or "" when the
// link is not a listing.
func (s *Strategy) ItemID(href string) string {
	m := s.itemIDPattern.FindStringSubmatch(href)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// IsBlockedURL reports whether u looks like a login/verification redirect
// rather than a content page.
func (s *Strategy) IsBlockedURL(u string) bool {
	lower := strings.ToLower(u)
	for _, p := range s.blockedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
