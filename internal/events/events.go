// Package events publishes scrape lifecycle notifications to a Redis stream
// so downstream consumers (pricing, indexing) can react without polling the
// database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taocrawl/marketplace-scraper/internal/models"
)

const (
	TypeProductScraped = "product.scraped"
	TypeJobFinished    = "job.finished"
)

// Event is the envelope written to the stream. Payload is JSON-encoded so
// consumers in other languages can decode it without sharing Go types.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ProductScraped is emitted once per product after the persist phase.
type ProductScraped struct {
	ItemID            string `json:"item_id"`
	Platform          string `json:"platform"`
	Title             string `json:"title"`
	Price             string `json:"price"`
	DetailsScraped    bool   `json:"details_scraped"`
	ExtractionQuality int    `json:"extraction_quality"`
	IsNew             bool   `json:"is_new"`
}

// JobFinished is emitted when a job reaches a terminal state.
type JobFinished struct {
	JobID    string            `json:"job_id"`
	Platform string            `json:"platform"`
	Status   models.JobStatus  `json:"status"`
	Results  models.JobResults `json:"results"`
	Error    string            `json:"error,omitempty"`
}

// Publisher writes events via XADD. Publish failures are logged but never
// propagate; the scrape result is already durable in Postgres by the time an
// event fires.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, stream: stream, logger: logger}
}

func (p *Publisher) ProductScraped(ctx context.Context, e ProductScraped) {
	p.publish(ctx, TypeProductScraped, e)
}

func (p *Publisher) JobFinished(ctx context.Context, e JobFinished) {
	p.publish(ctx, TypeJobFinished, e)
}

func (p *Publisher) publish(ctx context.Context, eventType string, payload interface{}) {
	if p == nil || p.client == nil {
		return
	}

	body, err := Encode(eventType, payload)
	if err != nil {
		p.logger.Error("failed to encode event", "type", eventType, "error", err)
		return
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"event": body},
	}).Err()
	if err != nil {
		p.logger.Warn("failed to publish event", "type", eventType, "error", err)
	}
}

// Encode builds the serialized envelope for one event.
func Encode(eventType string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	env, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(env), nil
}
