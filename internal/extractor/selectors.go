package extractor

// Selector fallback chains, ordered most-specific first. The leading entries
// track the class names the marketplaces currently ship; the trailing
// `[class*=...]` entries survive their periodic renames.

var titleSelectors = []string{
	`[class*="MainTitle"] [class*="mainTitle"]`,
	`.tb-detail-hd h1`,
	`h1[class*="title"]`,
	`.item-title`,
	`[class*="ItemTitle"]`,
}

var priceSelectors = []string{
	`[class*="highlightPrice"] [class*="text"]`,
	`.tb-rmb-num`,
	`[class*="price"] [class*="num"]`,
	`em[class*="price"]`,
	`.price strong`,
}

var salesVolumeSelectors = []string{
	`[class*="salesDesc"]`,
	`.tb-detail-sellCount`,
	`[class*="sold-count"]`,
	`[class*="salesVolume"]`,
	`[class*="sold"]`,
}

var ratingSelectors = []string{
	`[class*="starNum"]`,
	`[class*="rating"] [class*="num"]`,
	`[class*="rate-star"]`,
}

var shopNameSelectors = []string{
	`[class*="shopName"]`,
	`.tb-shop-name`,
	`[class*="shop-name"]`,
	`[class*="seller-name"]`,
}

var descriptionSelectors = []string{
	`#imageTextInfo-content`,
	`.desc-root`,
	`#description`,
	`.item-desc`,
	`[class*="description"]`,
}

var galleryImageSelectors = []string{
	`[class*="thumbnail"] img`,
	`.tb-thumb img`,
	`#J_UlThumb img`,
}

var detailImageSelectors = []string{
	`#imageTextInfo-container img`,
	`[class*="descV8"] img`,
}

var skuContainerSelectors = []string{
	`[class*="skuItem"]`,
	`.tb-sku`,
	`[class*="sku-item"]`,
	`[class*="property-item"]`,
}

var skuLabelSelectors = []string{
	`[class*="ItemLabel"] span`,
	`dt`,
	`[class*="label"]`,
	`.tb-property-type`,
}

var skuValueSelectors = []string{
	`[class*="valueItem"]`,
	`li[class*="sku"]`,
	`dd`,
	`li`,
}

var specSelectors = []string{
	`[class*="emphasisParams"]`,
	`[class*="generalParams"]`,
	`.attributes-list li`,
	`[class*="property"]`,
}

var reviewCountSelectors = []string{
	`[class*="comment"] [class*="count"]`,
	`[class*="rate-count"]`,
	`.tb-rate-counter`,
}

var stockSelectors = []string{
	`.tb-amount`,
	`[class*="stock"]`,
	`[class*="inventory"]`,
}

var shippingSelectors = []string{
	`[class*="shipping"]`,
	`[class*="delivery"]`,
	`.tb-shipping`,
}

var guaranteeSelectors = []string{
	`[class*="guarantee"]`,
	`.service-promise`,
	`[class*="service"]`,
}

// listingPriceSelectors locate the price inside a search-result card.
var listingPriceSelectors = `[class*="price"], [class*="Price"], .price, strong`

// listingContainerSelectors climb from a listing anchor to its card.
var listingContainerSelectors = []string{
	`[class*="item"]`,
	`[class*="Card"]`,
	`[data-atp]`,
}
