// Package reconciliation implements the reconciliation loop (spec §4.G):
// a ticker-driven pass that audits every non-final order against the
// exchange's own view, fanned out per order across a bounded worker pool.
// Structure grounded on the teacher's internal/risk.Reconciler (ticker +
// mutex-guarded runLoop), concurrency grounded on pkg/concurrency.WorkerPool.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconciler is the core.IReconciler implementation.
type Reconciler struct {
	store             core.IStore
	exchange          core.IExchangeREST
	orders            core.IOrderStateMachine
	interval          time.Duration
	lookback          time.Duration
	submissionTimeout time.Duration
	pool              *pond.WorkerPool
	logger            core.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func New(store core.IStore, exchange core.IExchangeREST, orders core.IOrderStateMachine, interval, lookback, submissionTimeout time.Duration, workerPoolSize int, logger core.ILogger) *Reconciler {
	return &Reconciler{
		store:             store,
		exchange:          exchange,
		orders:            orders,
		interval:          interval,
		lookback:          lookback,
		submissionTimeout: submissionTimeout,
		pool:              pond.New(workerPoolSize, workerPoolSize*4),
		logger:            logger.WithField("component", "reconciliation"),
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.runLoop()
	return nil
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.pool.StopAndWait()
}

func (r *Reconciler) runLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(r.ctx); err != nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// Reconcile runs one pass: list every non-final order created within the
// lookback window, and fan each out to the worker pool for an independent
// audit against the exchange. If a previous pass is still in flight, the call
// logs a warning and returns nil without starting a second pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if !r.mu.TryLock() {
		r.logger.Warn("previous reconciliation pass still in flight, skipping")
		return nil
	}
	defer r.mu.Unlock()

	since := time.Now().Add(-r.lookback)
	orders, err := r.store.ListNonFinalOrdersSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list non-final orders: %w", err)
	}

	var wg sync.WaitGroup
	for _, order := range orders {
		order := order
		wg.Add(1)
		r.pool.Submit(func() {
			defer wg.Done()
			if err := r.reconcileOrder(ctx, order); err != nil {
				r.logger.Error("failed to reconcile order", "orderId", order.ID, "error", err)
			}
		})
	}
	wg.Wait()

	r.logger.Info("reconciliation pass complete", "ordersChecked", len(orders))
	return nil
}

func (r *Reconciler) reconcileOrder(ctx context.Context, order *core.Order) error {
	if order.ExchangeOrderID == nil {
		return r.handleSubmissionTimeout(ctx, order)
	}

	snapshot, err := r.exchange.QueryOrder(ctx, order.Symbol, *order.ExchangeOrderID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeExchangeAPIError) {
			return r.markGhostOrder(ctx, order)
		}
		return err
	}

	return r.reconcileAgainstSnapshot(ctx, order, snapshot)
}

// handleSubmissionTimeout covers orders stuck in NEW/SUBMITTED past
// submissionTimeout with no exchangeOrderId: the workflow never reached the
// exchange (or crashed before recording the ack), so the order is rejected
// locally rather than left to audit forever. An order still within the
// timeout window is legitimately in flight and is left alone.
func (r *Reconciler) handleSubmissionTimeout(ctx context.Context, order *core.Order) error {
	if order.Status != core.OrderStatusNew && order.Status != core.OrderStatusSubmitted {
		return nil
	}
	if time.Since(order.CreatedAt) < r.submissionTimeout {
		return nil
	}
	_, err := r.orders.TransitionOrder(ctx, order.ID, core.OrderStatusRejected, nil, map[string]any{
		"reason": "SUBMISSION_TIMEOUT",
	})
	if err != nil {
		return err
	}
	return r.logOutcome(ctx, order, core.ReconMarkedRejected, order.Status, core.OrderStatusRejected, order.FilledQuantity, order.FilledQuantity,
		"order never reached exchange within submission timeout")
}

// markGhostOrder covers an exchangeOrderId the exchange no longer
// recognizes — treated as rejected since there is no further state to
// recover from the exchange side.
func (r *Reconciler) markGhostOrder(ctx context.Context, order *core.Order) error {
	if order.Status.IsTerminal() {
		return nil
	}
	_, err := r.orders.TransitionOrder(ctx, order.ID, core.OrderStatusRejected, order.ExchangeOrderID, map[string]any{
		"reason": "ghost order: exchange does not recognize exchangeOrderId",
	})
	if err != nil {
		return err
	}
	return r.logOutcome(ctx, order, core.ReconMarkedRejected, order.Status, core.OrderStatusRejected, order.FilledQuantity, order.FilledQuantity,
		"exchange returned no record of this order")
}

// reconcileAgainstSnapshot implements spec §4.G's directional comparison:
// rule (d) local ahead of the exchange is a critical discrepancy that writes
// nothing; rule (c) the exchange ahead of local means fills are missing and
// get imported; and once filled quantities agree, rules (b)/(e) make the
// exchange's own status — terminal or not — authoritative over the local
// record.
func (r *Reconciler) reconcileAgainstSnapshot(ctx context.Context, order *core.Order, snapshot *core.ExchangeOrderSnapshot) error {
	mappedStatus, ok := core.MapExchangeStatus(snapshot.Status)
	if !ok {
		return fmt.Errorf("order %s: unrecognized exchange status %q", order.ID, snapshot.Status)
	}

	if order.FilledQuantity.GreaterThan(snapshot.FilledQuantity) {
		return r.logOutcome(ctx, order, core.ReconCriticalDiscrepancy, order.Status, order.Status, order.FilledQuantity, snapshot.FilledQuantity,
			fmt.Sprintf("local filled quantity %s exceeds exchange filled quantity %s", order.FilledQuantity, snapshot.FilledQuantity))
	}

	if snapshot.FilledQuantity.GreaterThan(order.FilledQuantity) {
		return r.importMissingFills(ctx, order, snapshot, mappedStatus)
	}

	if mappedStatus != order.Status {
		return r.applyExchangeStatus(ctx, order, mappedStatus)
	}

	return r.logOutcome(ctx, order, core.ReconNoChange, order.Status, order.Status, order.FilledQuantity, order.FilledQuantity, "")
}

// applyExchangeStatus transitions order to the exchange's mapped status
// (spec §4.G rules (b) and (e)).
func (r *Reconciler) applyExchangeStatus(ctx context.Context, order *core.Order, mappedStatus core.OrderStatus) error {
	_, err := r.orders.TransitionOrder(ctx, order.ID, mappedStatus, order.ExchangeOrderID, map[string]any{
		"reason": "exchange status authoritative",
	})
	if err != nil {
		return err
	}
	return r.logOutcome(ctx, order, core.ReconStateUpdated, order.Status, mappedStatus, order.FilledQuantity, order.FilledQuantity,
		"local status updated to match exchange")
}

// importMissingFills replays every exchange trade through ProcessFill, which
// dedups on exchangeFillId — already-recorded fills are a no-op, so this is
// safe to run regardless of which trades are new. If the exchange's status
// is terminal and still disagrees with the order's state after the fills
// land (e.g. a CANCELED order with one last fill the stream never
// delivered), that terminal status is applied too.
func (r *Reconciler) importMissingFills(ctx context.Context, order *core.Order, snapshot *core.ExchangeOrderSnapshot, mappedStatus core.OrderStatus) error {
	before := order.FilledQuantity
	imported := 0
	for _, trade := range snapshot.Trades {
		fill, err := r.orders.ProcessFill(ctx, order.ID, core.FillParams{
			ExchangeFillID: trade.TradeID,
			Price:          trade.Price,
			Quantity:       trade.Quantity,
			Fee:            trade.Commission,
			FeeAsset:       trade.CommissionAsset,
			ExchangeTime:   trade.Time,
			Source:         core.FillSourceReconciliation,
		})
		if err != nil {
			return fmt.Errorf("import fill %s: %w", trade.TradeID, err)
		}
		if fill != nil {
			imported++
		}
	}

	refreshed, err := r.store.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	if mappedStatus.IsTerminal() && mappedStatus != refreshed.Status {
		if _, err := r.orders.TransitionOrder(ctx, order.ID, mappedStatus, order.ExchangeOrderID, map[string]any{
			"reason": "exchange status authoritative",
		}); err != nil {
			return err
		}
		refreshed.Status = mappedStatus
	}

	action := core.ReconFillsAdded
	if refreshed.Status != order.Status {
		action = core.ReconStateUpdated
	}
	return r.logOutcome(ctx, order, action, order.Status, refreshed.Status, before, refreshed.FilledQuantity,
		fmt.Sprintf("imported %d trades from exchange", imported))
}

func (r *Reconciler) logOutcome(ctx context.Context, order *core.Order, action core.ReconciliationAction, before, after core.OrderStatus, beforeQty, afterQty decimal.Decimal, detail string) error {
	if action == core.ReconNoChange {
		return nil
	}
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry := &core.ReconciliationLogEntry{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Action:          action,
		BeforeStatus:    before,
		AfterStatus:     after,
		BeforeFilledQty: beforeQty,
		AfterFilledQty:  afterQty,
		Detail:          detail,
		CreatedAt:       time.Now(),
	}
	if err := r.store.InsertReconciliationLog(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

var _ core.IReconciler = (*Reconciler)(nil)
