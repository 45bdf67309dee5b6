// Package jobs owns the lifecycle of scraping jobs: creation, background
// execution, cancellation, and lookup. The scraper package does the actual
// work; this package only dispatches and tracks it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taocrawl/marketplace-scraper/internal/models"
	"github.com/taocrawl/marketplace-scraper/internal/platform"
)

// ErrJobFinished is returned when cancelling a job that already reached a
// terminal state.
var ErrJobFinished = errors.New("job already finished")

// Store is the slice of job persistence the manager needs.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	Finish(ctx context.Context, jobID string, status models.JobStatus, results models.JobResults, errMsg string) error
}

// Runner executes one job to completion. Implemented by scraper.Service.
type Runner interface {
	Run(ctx context.Context, job *models.Job, cancelled *atomic.Bool)
}

// Manager dispatches jobs onto background goroutines and keeps a cancel flag
// per live job. Cancellation is cooperative: the flag is observed between
// units of work, so a cancel request returns before the job actually stops.
type Manager struct {
	store  Store
	runner Runner
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*atomic.Bool
	wg     sync.WaitGroup
}

func NewManager(store Store, runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		runner: runner,
		logger: logger,
		active: make(map[string]*atomic.Bool),
	}
}

// StartSearch creates and launches a keyword or category job.
func (m *Manager) StartSearch(ctx context.Context, plat string, params models.SearchParams) (*models.Job, error) {
	if _, err := platform.Parse(plat); err != nil {
		return nil, err
	}

	searchType := models.SearchTypeKeyword
	switch {
	case params.Keyword != "":
	case params.CategoryID != "":
		searchType = models.SearchTypeCategory
	case params.CategoryName != "":
		// No platform exposes stable category-name URLs, so the name doubles
		// as the search query while provenance keeps it as a category.
		params.Keyword = params.CategoryName
		searchType = models.SearchTypeCategory
	default:
		return nil, fmt.Errorf("search needs a keyword or category id")
	}

	return m.create(ctx, plat, searchType, params)
}

// StartBatchRescrape creates and launches a job that re-visits the detail
// pages of already known products.
func (m *Manager) StartBatchRescrape(ctx context.Context, plat string, itemIDs []string) (*models.Job, error) {
	if _, err := platform.Parse(plat); err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("batch re-scrape needs at least one item id")
	}

	return m.create(ctx, plat, models.SearchTypeBatchDetails, models.SearchParams{ItemIDs: itemIDs})
}

func (m *Manager) create(ctx context.Context, plat, searchType string, params models.SearchParams) (*models.Job, error) {
	job := &models.Job{
		ID:         uuid.NewString(),
		Platform:   plat,
		SearchType: searchType,
		Params:     params,
		Status:     models.JobPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	m.launch(job)
	return job, nil
}

func (m *Manager) launch(job *models.Job) {
	flag := &atomic.Bool{}
	m.mu.Lock()
	m.active[job.ID] = flag
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, job.ID)
			m.mu.Unlock()
		}()
		// The request context dies with the HTTP response; the job must not.
		m.runner.Run(context.Background(), job, flag)
	}()
}

// Cancel marks the job cancelled in the store right away and, when this
// process is running it, raises the cooperative flag so the run winds itself
// down. The run's own final write loses against the terminal state already
// recorded here.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, ErrJobFinished
	}

	m.mu.Lock()
	flag, live := m.active[jobID]
	m.mu.Unlock()

	errMsg := "cancelled before execution"
	if live {
		flag.Store(true)
		errMsg = "cancelled by request"
		m.logger.Info("cancellation requested", "job_id", jobID)
	}

	if err := m.store.Finish(ctx, jobID, models.JobCancelled, job.Results, errMsg); err != nil {
		return nil, err
	}
	job.Status = models.JobCancelled
	return job, nil
}

func (m *Manager) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	return m.store.List(ctx, status, limit)
}

// ActiveCount reports how many jobs are currently executing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown flags every live job for cancellation and waits for the runs to
// finish their current unit of work and finalize.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for id, flag := range m.active {
		flag.Store(true)
		m.logger.Info("cancelling job for shutdown", "job_id", id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}
