package worker

import (
	"context"
	"time"

	"github.com/rookgm/flyem/internal/logger"
	"go.uber.org/zap"
)

type OrderService interface {
	ReconcilePending(ctx context.Context) error
}

// FulfillmentReconciler is worker that resubmits paid orders whose fulfillment sync was skipped or interrupted
type FulfillmentReconciler struct {
	svc      OrderService
	interval time.Duration
}

// NewFulfillmentReconciler create new reconciler running every interval
func NewFulfillmentReconciler(svc OrderService, interval time.Duration) *FulfillmentReconciler {
	return &FulfillmentReconciler{svc: svc, interval: interval}
}

// Run blocks until ctx is done
func (fr *FulfillmentReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(fr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Debug("fulfillment reconciler is done")
			return
		case <-ticker.C:
			if err := fr.svc.ReconcilePending(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Error("error reconcile pending fulfillment", zap.Error(err))
			}
		}
	}
}
