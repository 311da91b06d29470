// Package worker consumes evaluation jobs from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker subscribes to the evaluation topics and runs the engine for
// each job. Document and company jobs share one worker; the payload
// decides which evaluator runs.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates an evaluation worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to both evaluation topics for every tenant.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	for _, topic := range []string{domain.TopicDocumentEvaluate, domain.TopicCompanyEvaluate} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.processJob(ctx, tenantID, msg)
		})
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
	)

	return nil
}

// processJob runs one evaluation job. A malformed payload is logged
// and dropped; retrying it can never succeed.
func (w *Worker) processJob(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var job domain.EvaluationJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse evaluation job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The subscription tenant wins over the payload: a job cannot
	// redirect itself into another tenant's data.
	if job.TenantID != "" && job.TenantID != tenantID {
		slog.Warn("evaluation job tenant mismatch, dropping",
			"message_id", msg.ID,
			"subscription_tenant", tenantID,
			"payload_tenant", job.TenantID,
		)
		return fmt.Errorf("tenant mismatch")
	}

	var score *domain.RiskScore
	var err error

	switch {
	case job.DocumentID != "":
		score, err = w.engine.EvaluateDocument(ctx, tenantID, job.DocumentID)
	case job.ClientCompanyID != "":
		score, err = w.engine.EvaluateCompany(ctx, tenantID, job.ClientCompanyID)
	default:
		slog.Error("evaluation job names no entity",
			"message_id", msg.ID,
		)
		return fmt.Errorf("evaluation job names no entity")
	}

	if err != nil {
		slog.Error("evaluation failed",
			"tenant_id", tenantID,
			"document_id", job.DocumentID,
			"company_id", job.ClientCompanyID,
			"error", err,
		)
		return err
	}

	slog.Info("evaluation job processed",
		"tenant_id", tenantID,
		"entity_type", score.EntityType,
		"entity_id", score.EntityID,
		"score", score.Score,
		"severity", score.Severity,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
