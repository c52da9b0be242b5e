package worker

import (
	"context"
	"errors"

	"redemption-engine/internal/broker"
	"redemption-engine/internal/models"
	"redemption-engine/internal/service"
	"redemption-engine/internal/util"

	"go.uber.org/zap"
)

// ReconciliationStore is the slice of the durable store the worker needs:
// event idempotency plus the failure records it reconciles.
type ReconciliationStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	GetSettlementFailure(ctx context.Context, id int64) (*models.SettlementFailure, error)
}

// ReconciliationWorker consumes SettlementFailed events and retries the
// off-chain leg. Retries that still fail stay uncommitted so the broker
// redelivers; rows that never reconcile remain PENDING for operators.
type ReconciliationWorker struct {
	consumer   *broker.Consumer
	handler    *broker.EventHandler
	settlement *service.SettlementService
	store      ReconciliationStore
	logger     *zap.Logger
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(
	consumer *broker.Consumer,
	settlement *service.SettlementService,
	store ReconciliationStore,
) *ReconciliationWorker {
	w := &ReconciliationWorker{
		consumer:   consumer,
		settlement: settlement,
		store:      store,
		logger:     util.GetLogger(),
	}

	handler := broker.NewEventHandler()
	handler.OnSettlementFailed(w.handleSettlementFailed)
	w.handler = handler

	return w
}

// Start starts the worker
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconciliation worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *ReconciliationWorker) Stop() error {
	w.logger.Info("Stopping reconciliation worker")
	return w.consumer.Close()
}

func (w *ReconciliationWorker) handleSettlementFailed(ctx context.Context, event *models.SettlementFailedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	failure, err := w.store.GetSettlementFailure(ctx, event.FailureID)
	if err != nil {
		if errors.Is(err, models.ErrSettlementFailureNotFound) {
			w.logger.Warn("Settlement failure record missing, dropping event",
				zap.Int64("failure_id", event.FailureID))
			return nil
		}
		return err
	}
	if failure.Status != models.SettlementFailurePending {
		// resolved by an operator while the event was in flight
		w.logger.Info("Settlement failure already resolved",
			zap.Int64("failure_id", event.FailureID))
		if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.Error(err))
		}
		return nil
	}

	w.logger.Info("Reconciling failed settlement",
		zap.String("session_id", event.SessionID),
		zap.Int64("failure_id", event.FailureID),
		zap.String("db_amount", event.DBAmount.String()))

	if err := w.settlement.RetrySettlement(ctx, event); err != nil {
		w.logger.Warn("Reconciliation retry failed, leaving pending",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return err
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
