// Package portfolio implements the Portfolio Projector (spec §4.H): it
// drains the transactional outbox in fixed-size batches, groups rows by
// (userId, symbol) so updates to the same position stay strictly ordered,
// and processes distinct symbols concurrently through a bounded worker pool.
// Grounded on the teacher's pkg/concurrency.WorkerPool and the durable
// outbox-consumer shape of internal/risk.Reconciler's ticker loop.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/alitto/pond"
	"github.com/shopspring/decimal"
)

// Projector is the core.IProjector implementation.
type Projector struct {
	store     core.IStore
	batchSize int
	interval  time.Duration
	pool      *pond.WorkerPool
	logger    core.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store core.IStore, batchSize, workerPoolSize int, interval time.Duration, logger core.ILogger) *Projector {
	return &Projector{
		store:     store,
		batchSize: batchSize,
		interval:  interval,
		pool:      pond.New(workerPoolSize, workerPoolSize*4),
		logger:    logger.WithField("component", "portfolio_projector"),
	}
}

func (p *Projector) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.runLoop()
	return nil
}

func (p *Projector) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.StopAndWait()
}

func (p *Projector) runLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(p.ctx); err != nil {
				p.logger.Error("projector tick failed", "error", err)
			}
		}
	}
}

type positionKey struct {
	userID string
	symbol string
}

// Tick drains up to batchSize unprocessed outbox rows, groups them by
// (userId, symbol) to preserve FIFO ordering per position, and fans the
// distinct groups out across the worker pool.
func (p *Projector) Tick(ctx context.Context) error {
	rows, err := p.store.ListUnprocessed(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed outbox rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	grouped := make(map[positionKey][]*core.OutboxRow)
	order := make([]positionKey, 0)
	for _, row := range rows {
		key := positionKey{userID: row.UserID, symbol: row.Symbol}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], row)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		key := key
		batch := grouped[key]
		wg.Add(1)
		p.pool.Submit(func() {
			defer wg.Done()
			if err := p.applyBatch(ctx, key, batch); err != nil {
				p.logger.Error("failed to apply outbox batch", "userId", key.userID, "symbol", key.symbol, "error", err)
			}
		})
	}
	wg.Wait()

	p.logger.Debug("projector tick complete", "rowsProcessed", len(rows), "positionsTouched", len(order))
	return nil
}

// applyBatch processes rows for a single (userId, symbol) in order, each in
// its own transaction so a mid-batch failure only loses progress on the rows
// after it — already-processed rows stay marked and aren't replayed.
func (p *Projector) applyBatch(ctx context.Context, key positionKey, rows []*core.OutboxRow) error {
	for _, row := range rows {
		if err := p.applyRow(ctx, key, row); err != nil {
			return fmt.Errorf("apply outbox row %s: %w", row.ID, err)
		}
	}
	return nil
}

func (p *Projector) applyRow(ctx context.Context, key positionKey, row *core.OutboxRow) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if row.EventType == core.OutboxOrderCanceled {
		// No position effect: the row is only marked processed.
		if err := p.store.MarkProcessed(ctx, tx, row.ID, time.Now()); err != nil {
			return fmt.Errorf("mark outbox row processed: %w", err)
		}
		return tx.Commit()
	}

	position, err := p.store.GetPositionForUpdate(ctx, tx, key.userID, key.symbol)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodePositionNotFound) {
			return err
		}
		position = &core.Position{
			ID:                row.OrderID + ":" + key.symbol, // deterministic, unique per (user,symbol) on first creation
			UserID:            key.userID,
			Symbol:            key.symbol,
			Quantity:          decimal.Zero,
			AvgEntryPrice:     decimal.Zero,
			RealizedPnl:       decimal.Zero,
			TotalFees:         decimal.Zero,
			Version:           1,
			UpdatedAt:         time.Now(),
			DataAsOfTimestamp: time.Now(),
		}
		if err := p.store.CreatePosition(ctx, tx, position); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
	}

	switch row.EventType {
	case core.OutboxFillProcessed:
		applyFillToPosition(position, row.Payload)
	case core.OutboxOrderCanceled:
		// Handled before the position lookup above; the row exists purely so
		// the projector's processed_at watermark advances past every order event.
	}
	position.UpdatedAt = time.Now()
	position.DataAsOfTimestamp = time.Now()

	if err := p.store.UpdatePositionWithVersion(ctx, tx, position, position.Version); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if err := p.store.MarkProcessed(ctx, tx, row.ID, time.Now()); err != nil {
		return fmt.Errorf("mark outbox row processed: %w", err)
	}
	return tx.Commit()
}

// applyFillToPosition folds a fill's quantity/price/fee into the running
// position, realizing PnL on the portion of the fill that reduces an
// existing position rather than opens or extends one.
func applyFillToPosition(position *core.Position, payload map[string]any) {
	price := decimalFromPayload(payload, "price")
	quantity := decimalFromPayload(payload, "quantity")
	fee := decimalFromPayload(payload, "fee")

	sameSign := position.Quantity.Sign() == 0 || position.Quantity.Sign() == quantity.Sign()
	if sameSign {
		totalQty := position.Quantity.Add(quantity)
		if !totalQty.IsZero() {
			weighted := position.Quantity.Abs().Mul(position.AvgEntryPrice).Add(quantity.Abs().Mul(price))
			position.AvgEntryPrice = weighted.Div(totalQty.Abs())
		}
		position.Quantity = totalQty
	} else {
		closingQty := decimal.Min(quantity.Abs(), position.Quantity.Abs())
		pnl := closingQty.Mul(price.Sub(position.AvgEntryPrice))
		if position.Quantity.IsNegative() {
			pnl = pnl.Neg()
		}
		position.RealizedPnl = position.RealizedPnl.Add(pnl)
		position.Quantity = position.Quantity.Add(quantity)
	}
	position.TotalFees = position.TotalFees.Add(fee)
}

func decimalFromPayload(payload map[string]any, key string) decimal.Decimal {
	raw, ok := payload[key].(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ core.IProjector = (*Projector)(nil)
