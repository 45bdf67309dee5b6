package platform

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Platform
		wantErr bool
	}{
		{"taobao", "taobao", Taobao, false},
		{"tmall", "tmall", Tmall, false},
		{"1688", "1688", Alibaba1688, false},
		{"uppercase", "TAOBAO", Taobao, false},
		{"padded", " tmall ", Tmall, false},
		{"unknown", "amazon", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildSearchURL(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		keyword  string
		category string
		contains string
		wantErr  bool
	}{
		{"taobao keyword", Taobao, "phone case", "", "s.taobao.com/search?q=phone+case", false},
		{"1688 keyword param", Alibaba1688, "shoes", "", "keywords=shoes", false},
		{"tmall category", Tmall, "", "50025135", "cat=50025135", false},
		{"taobao category", Taobao, "", "123", "catId=123", false},
		{"missing both", Taobao, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StrategyFor(tt.platform)
			got, err := s.BuildSearchURL(tt.keyword, tt.category)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildSearchURL error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(got, tt.contains) {
				t.Errorf("BuildSearchURL = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestNextPageURL(t *testing.T) {
	s := StrategyFor(Alibaba1688)

	tests := []struct {
		name    string
		current string
		next    int
		want    string
	}{
		{
			"replaces existing page param",
			"https://s.1688.com/selloffer/offer_search.htm?keywords=x&page=2",
			3,
			"https://s.1688.com/selloffer/offer_search.htm?keywords=x&page=3",
		},
		{
			"appends to existing query",
			"https://s.1688.com/selloffer/offer_search.htm?keywords=x",
			2,
			"https://s.1688.com/selloffer/offer_search.htm?keywords=x&page=2",
		},
		{
			"appends to bare url",
			"https://s.1688.com/selloffer/offer_search.htm",
			2,
			"https://s.1688.com/selloffer/offer_search.htm?page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextPageURL(tt.current, tt.next); got != tt.want {
				t.Errorf("NextPageURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestItemID(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		href     string
		want     string
	}{
		{"taobao item link", Taobao, "https://item.taobao.com/item.htm?id=123456", "123456"},
		{"taobao extra params", Taobao, "https://item.taobao.com/item.htm?spm=a21n57&id=987", "987"},
		{"tmall detail link", Tmall, "https://detail.tmall.com/item.htm?id=42", "42"},
		{"1688 offer link", Alibaba1688, "https://detail.1688.com/offer/7788.html", "7788"},
		{"not a listing", Taobao, "https://www.taobao.com/about", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := StrategyFor(tt.platform)
			if got := s.ItemID(tt.href); got != tt.want {
				t.Errorf("ItemID(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestIsBlockedURL(t *testing.T) {
	s := StrategyFor(Taobao)

	blocked := []string{
		"https://login.taobao.com/member/login.jhtml",
		"https://sec.taobao.com/query.htm",
		"https://s.taobao.com/verify?from=search",
	}
	for _, u := range blocked {
		if !s.IsBlockedURL(u) {
			t.Errorf("IsBlockedURL(%q) = false, want true", u)
		}
	}

	if s.IsBlockedURL("https://s.taobao.com/search?q=phone") {
		t.Error("search results URL flagged as blocked")
	}
}
