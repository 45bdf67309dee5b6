package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taocrawl/marketplace-scraper/internal/database"
	"github.com/taocrawl/marketplace-scraper/internal/jobs"
	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/scraper"
)

// JobService is the job lifecycle surface the handlers call into.
type JobService interface {
	StartSearch(ctx context.Context, platform string, params models.SearchParams) (*models.Job, error)
	StartBatchRescrape(ctx context.Context, platform string, itemIDs []string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
}

// ProductStore is the product persistence surface the handlers read from.
type ProductStore interface {
	FindByItemID(ctx context.Context, itemID string) (*models.Product, error)
	FindMany(ctx context.Context, f database.ProductFilter) ([]*models.Product, int, error)
	SearchText(ctx context.Context, query string, limit int) ([]*models.Product, error)
	Stats(ctx context.Context) (*database.Stats, error)
	Delete(ctx context.Context, itemID string) error
}

// Rescraper re-visits a single product's detail page synchronously.
type Rescraper interface {
	RescrapeDetails(ctx context.Context, p *models.Product) error
}

type Handlers struct {
	jobs      JobService
	products  ProductStore
	rescraper Rescraper
	logger    *slog.Logger
}

func NewHandlers(jobs JobService, products ProductStore, rescraper Rescraper, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:      jobs,
		products:  products,
		rescraper: rescraper,
		logger:    logger,
	}
}

// SearchRequest starts a search scraping job.
type SearchRequest struct {
	Platform     string `json:"platform"`
	Keyword      string `json:"keyword"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	MaxProducts  int    `json:"max_products"`
	MaxPages     int    `json:"max_pages"`
}

type JobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// jobStatusStarted acknowledges submission; the job itself is still pending
// until its goroutine picks it up, so callers poll the jobs endpoint for the
// stored status.
const jobStatusStarted = "started"

// StartSearch handles new search job creation.
func (h *Handlers) StartSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.StartSearch(r.Context(), req.Platform, models.SearchParams{
		Keyword:      req.Keyword,
		CategoryID:   req.CategoryID,
		CategoryName: req.CategoryName,
		MaxProducts:  req.MaxProducts,
		MaxPages:     req.MaxPages,
	})
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, JobResponse{
		JobID:   job.ID,
		Status:  jobStatusStarted,
		Message: "job created",
	})
}

// BatchDetailsRequest re-scrapes the detail pages of known products.
type BatchDetailsRequest struct {
	Platform string   `json:"platform"`
	ItemIDs  []string `json:"item_ids"`
}

// StartBatchDetails handles batch detail re-scrape job creation.
func (h *Handlers) StartBatchDetails(w http.ResponseWriter, r *http.Request) {
	var req BatchDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.StartBatchRescrape(r.Context(), req.Platform, req.ItemIDs)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, JobResponse{
		JobID:   job.ID,
		Status:  jobStatusStarted,
		Message: "job created",
	})
}

// GetJob handles job status retrieval.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs handles listing recent jobs, optionally filtered by status.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	list, err := h.jobs.List(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	h.respondJSON(w, http.StatusOK, list)
}

// CancelJob handles cooperative job cancellation.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, jobs.ErrJobFinished):
		h.respondError(w, http.StatusConflict, "job already finished")
		return
	case err != nil:
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, JobResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: "cancellation requested",
	})
}

// RescrapeDetails synchronously re-visits one product's detail page. Products
// that already carry details are returned as-is unless force=true.
func (h *Handlers) RescrapeDetails(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	product, err := h.products.FindByItemID(r.Context(), itemID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	if product.DetailsScraped && !force {
		h.respondJSON(w, http.StatusOK, product)
		return
	}

	if err := h.rescraper.RescrapeDetails(r.Context(), product); err != nil {
		h.logger.Error("failed to re-scrape details", "item_id", itemID, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, scraper.ErrLowQuality) {
			status = http.StatusUnprocessableEntity
		}
		h.respondError(w, status, "detail scrape failed: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

// ProductListResponse pages through stored products.
type ProductListResponse struct {
	Products []*models.Product `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// ListProducts handles filtered product listing.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ProductFilter{
		Platform:   q.Get("platform"),
		CategoryID: q.Get("category_id"),
		Keyword:    q.Get("keyword"),
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 20),
		Sort:       q.Get("sort"),
	}
	if v := q.Get("details_scraped"); v != "" {
		scraped := v == "true"
		filter.DetailsScraped = &scraped
	}

	products, total, err := h.products.FindMany(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []*models.Product{}
	}

	h.respondJSON(w, http.StatusOK, ProductListResponse{
		Products: products,
		Total:    total,
		Page:     filter.Page,
		Limit:    filter.Limit,
	})
}

// GetProduct handles single product retrieval.
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.FindByItemID(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

// SearchProducts handles full-text product search.
func (h *Handlers) SearchProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.respondError(w, http.StatusBadRequest, "q is required")
		return
	}

	products, err := h.products.SearchText(r.Context(), query, queryInt(r, "limit", 20))
	if err != nil {
		h.logger.Error("product search failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if products == nil {
		products = []*models.Product{}
	}
	h.respondJSON(w, http.StatusOK, products)
}

// GetStats handles catalog statistics retrieval.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.products.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// DeleteProduct handles product removal.
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if err := h.products.Delete(r.Context(), itemID); err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			h.respondError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to delete product", "item_id", itemID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
