package models

import (
	"time"
)

// JobStatus is the lifecycle state of a scraping job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the pending -> running -> terminal ordering
// permits moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobCancelled || next == JobFailed
	case JobRunning:
		return next.Terminal()
	default:
		return false
	}
}

const (
	SearchTypeKeyword      = "keyword"
	SearchTypeCategory     = "category"
	SearchTypeBatchDetails = "batch_details"
)

// SearchParams are the client-supplied inputs of a job.
type SearchParams struct {
	Keyword      string `json:"keyword,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	MaxProducts  int    `json:"max_products"`
	MaxPages     int    `json:"max_pages"`
	// ItemIDs is set for batch detail re-scrape jobs instead of a keyword.
	ItemIDs []string `json:"item_ids,omitempty"`
}

// JobProgress counters are non-decreasing within a run and written back to the
// store as the orchestrator advances, so observers see live progress.
type JobProgress struct {
	CurrentPage     int `json:"current_page"`
	PagesScraped    int `json:"pages_scraped"`
	ProductsScraped int `json:"products_scraped"`
	DetailsScraped  int `json:"details_scraped"`
	DetailsFailed   int `json:"details_failed"`
}

// JobResults are the persist-phase outcome counters.
type JobResults struct {
	NewProducts     int `json:"new_products"`
	UpdatedProducts int `json:"updated_products"`
	FailedProducts  int `json:"failed_products"`
}

// Job is one scraping request with tracked lifecycle. A job is owned by the
// single orchestrator run that executes it; nothing else mutates it while the
// run is live.
type Job struct {
	ID          string       `json:"id"`
	Platform    string       `json:"platform"`
	SearchType  string       `json:"search_type"`
	Params      SearchParams `json:"params"`
	Status      JobStatus    `json:"status"`
	Progress    JobProgress  `json:"progress"`
	Results     JobResults   `json:"results"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
