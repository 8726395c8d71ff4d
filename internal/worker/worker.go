// Package worker consumes submitted keystroke samples from the EventBus and
// runs them through the submit decision asynchronously.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/verifier"
)

var errStopped = errors.New("worker stopped")

// Worker subscribes to domain.TopicSampleSubmitted per tenant.
type Worker struct {
	bus     domain.EventBus
	service *verifier.Service

	mu            sync.Mutex
	subscriptions map[string]domain.Subscription
	stopped       bool
	inflight      sync.WaitGroup // added to only under mu while running
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker. It does nothing until Start or Track.
func NewWorker(bus domain.EventBus, service *verifier.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		service:       service,
		subscriptions: make(map[string]domain.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes every configured tenant. A tenant that fails to
// subscribe is logged and skipped; more can be added later with Track.
func (w *Worker) Start(cfg domain.WorkerConfig) error {
	for _, tenantID := range cfg.Tenants {
		if err := w.Track(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	slog.Info("workers started", "tenant_count", len(cfg.Tenants))
	return nil
}

// Track subscribes tenantID if it is not subscribed yet.
func (w *Worker) Track(tenantID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return errStopped
	}
	if _, ok := w.subscriptions[tenantID]; ok {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSampleSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSample(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions[tenantID] = sub

	slog.Debug("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSampleSubmitted,
	)
	return nil
}

// processSample runs one submitted sample through Service.Submit. Once
// started, a sample runs to completion even if Stop is called meanwhile.
func (w *Worker) processSample(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		slog.Warn("sample arrived after stop, not processed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
		)
		return errStopped
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	// the subscription context ends on Stop; keep its values only
	ctx = context.WithoutCancel(ctx)

	start := time.Now()

	var sm domain.SampleMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse sample message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	traceID := sm.TraceID
	if traceID == "" {
		traceID = msg.Metadata["trace_id"]
	}

	res, err := w.service.Submit(ctx, tenantID, sm.AccountID, sm.Keystroke)
	if err != nil {
		w.failed.Add(1)
		slog.Error("async submit failed",
			"tenant_id", tenantID,
			"account_id", sm.AccountID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Info("sample processed",
		"tenant_id", tenantID,
		"account_id", sm.AccountID,
		"trace_id", traceID,
		"decision", res.Decision,
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes every tenant, then waits for samples already being
// processed to finish, audit record included.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.cancel()
	for tenantID, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		delete(w.subscriptions, tenantID)
	}
	w.mu.Unlock()

	w.inflight.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats describes worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Tenants           []string `json:"tenants"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	tenants := make([]string, 0, len(w.subscriptions))
	for tenantID := range w.subscriptions {
		tenants = append(tenants, tenantID)
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Tenants:           tenants,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
