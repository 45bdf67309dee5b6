package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/taocrawl/marketplace-scraper/internal/models"
)

// ErrProductNotFound is returned by point lookups that match nothing.
var ErrProductNotFound = errors.New("product not found")

// ProductRepository is the store gateway for marketplace listings. Upserts
// are atomic per document; a given item id is only ever written by the one
// job run that is processing it.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `item_id, title, price, image, link,
	search_keyword, category_id, category_name, page_number, platform,
	detail, details_scraped, details_scraped_at, extraction_quality,
	extracted_at, created_at, updated_at`

// Upsert inserts the product or merges it over the stored row under
// models.Merge semantics. Returns true when the item was seen for the first
// time. The select-for-update keeps the read-merge-write atomic per document.
func (r *ProductRepository) Upsert(ctx context.Context, p *models.Product) (bool, error) {
	isNew := false

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE item_id = $1 FOR UPDATE`,
			p.ItemID)

		existing, err := scanProduct(row)
		if errors.Is(err, pgx.ErrNoRows) {
			isNew = true
			return insertProduct(ctx, tx, p)
		}
		if err != nil {
			return err
		}

		merged := models.Merge(existing, p)
		return updateProduct(ctx, tx, merged)
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert product %s: %w", p.ItemID, err)
	}

	return isNew, nil
}

func insertProduct(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	detail, err := marshalDetail(p.Detail)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO products (item_id, title, price, image, link,
			search_keyword, category_id, category_name, page_number, platform,
			detail, details_scraped, details_scraped_at, extraction_quality,
			extracted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
	`, p.ItemID, p.Title, p.Price, p.Image, p.Link,
		p.SearchKeyword, p.CategoryID, p.CategoryName, p.PageNumber, p.Platform,
		detail, p.DetailsScraped, p.DetailsScrapedAt, p.ExtractionQuality,
		nullTime(p.ExtractedAt))
	return err
}

func updateProduct(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	detail, err := marshalDetail(p.Detail)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET
			title = $2, price = $3, image = $4, link = $5,
			search_keyword = $6, category_id = $7, category_name = $8,
			page_number = $9, platform = $10,
			detail = $11, details_scraped = $12, details_scraped_at = $13,
			extraction_quality = $14, extracted_at = $15, updated_at = NOW()
		WHERE item_id = $1
	`, p.ItemID, p.Title, p.Price, p.Image, p.Link,
		p.SearchKeyword, p.CategoryID, p.CategoryName,
		p.PageNumber, p.Platform,
		detail, p.DetailsScraped, p.DetailsScrapedAt,
		p.ExtractionQuality, nullTime(p.ExtractedAt))
	return err
}

// FindByItemID is a point lookup.
func (r *ProductRepository) FindByItemID(ctx context.Context, itemID string) (*models.Product, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE item_id = $1`, itemID)

	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", itemID, err)
	}
	return p, nil
}

// ProductFilter narrows FindMany; zero values mean "any".
type ProductFilter struct {
	Platform       string
	CategoryID     string
	Keyword        string
	DetailsScraped *bool
	Page           int
	Limit          int
	Sort           string
}

// sortColumns whitelists client-facing sort keys.
var sortColumns = map[string]string{
	"created_at":         "created_at DESC",
	"-created_at":        "created_at DESC",
	"updated_at":         "updated_at DESC",
	"extraction_quality": "extraction_quality DESC",
	"price":              "price ASC",
}

// FindMany lists products under a filter with pagination and the total count.
func (r *ProductRepository) FindMany(ctx context.Context, f ProductFilter) ([]*models.Product, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Platform != "" {
		where = append(where, "platform = "+arg(f.Platform))
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = "+arg(f.CategoryID))
	}
	if f.Keyword != "" {
		where = append(where, "search_keyword ILIKE "+arg("%"+f.Keyword+"%"))
	}
	if f.DetailsScraped != nil {
		where = append(where, "details_scraped = "+arg(*f.DetailsScraped))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	order, ok := sortColumns[f.Sort]
	if !ok {
		order = sortColumns["created_at"]
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * limit
	}

	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY %s LIMIT %s OFFSET %s",
		productColumns, clause, order, arg(limit), arg(offset))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// SearchText runs a ranked full-text search over titles and descriptions.
func (r *ProductRepository) SearchText(ctx context.Context, query string, limit int) ([]*models.Product, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM products
		WHERE to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(detail->>'full_description', ''))
		      @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(
			to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(detail->>'full_description', '')),
			plainto_tsquery('simple', $1)) DESC
		LIMIT $2
	`, productColumns), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// Stats is the grouped aggregation summary exposed by the API.
type Stats struct {
	TotalProducts int            `json:"total_products"`
	WithDetails   int            `json:"products_with_details"`
	ByPlatform    map[string]int `json:"by_platform"`
	TopCategories map[string]int `json:"top_categories"`
}

func (r *ProductRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByPlatform:    make(map[string]int),
		TopCategories: make(map[string]int),
	}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE details_scraped)
		FROM products
	`).Scan(&stats.TotalProducts, &stats.WithDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT platform, COUNT(*) FROM products GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("failed to group by platform: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, err
		}
		stats.ByPlatform[platform] = count
	}

	catRows, err := r.db.Query(ctx, `
		SELECT category_name, COUNT(*) FROM products
		WHERE category_name <> ''
		GROUP BY category_name
		ORDER BY COUNT(*) DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to group by category: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var count int
		if err := catRows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.TopCategories[category] = count
	}

	return stats, nil
}

// Delete removes a product. Maintenance operation, not used by the scraper.
func (r *ProductRepository) Delete(ctx context.Context, itemID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var (
		p           models.Product
		detail      []byte
		extractedAt *time.Time
	)
	err := row.Scan(
		&p.ItemID, &p.Title, &p.Price, &p.Image, &p.Link,
		&p.SearchKeyword, &p.CategoryID, &p.CategoryName, &p.PageNumber, &p.Platform,
		&detail, &p.DetailsScraped, &p.DetailsScrapedAt, &p.ExtractionQuality,
		&extractedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if extractedAt != nil {
		p.ExtractedAt = *extractedAt
	}

	if len(detail) > 0 {
		p.Detail = &models.ProductDetail{}
		if err := json.Unmarshal(detail, p.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode detail of %s: %w", p.ItemID, err)
		}
	}

	return &p, nil
}

func scanProducts(rows pgx.Rows) ([]*models.Product, error) {
	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func marshalDetail(d *models.ProductDetail) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detail: %w", err)
	}
	return b, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
