// Package fillingestor consumes execution reports from the exchange's
// user-data stream and turns them into order-state-machine transitions and
// fills (spec §4.F). It is stateless: every call carries enough information
// to act, so it can run as a plain callback off the stream client without
// its own background loop.
package fillingestor

import (
	"context"
	"fmt"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"
)

// Ingestor is the core.IFillIngestor implementation.
type Ingestor struct {
	orders core.IOrderStateMachine
	store  core.OrderRepository
	logger core.ILogger
}

func New(orders core.IOrderStateMachine, store core.OrderRepository, logger core.ILogger) *Ingestor {
	return &Ingestor{orders: orders, store: store, logger: logger}
}

// HandleExecutionReport resolves the local order by exchangeOrderID, applies
// any fill carried on the report via ProcessFill, and otherwise drives a
// transition to the report's mapped status (for example OPEN, CANCELED,
// REJECTED or EXPIRED) when it differs from the order's current status.
func (i *Ingestor) HandleExecutionReport(ctx context.Context, report core.ExecutionReport) error {
	order, err := i.store.GetOrderByExchangeID(ctx, report.ExchangeOrderID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeOrderNotFound) {
			i.logger.Warn("execution report for unknown exchange order id", "exchangeOrderId", report.ExchangeOrderID)
			return nil
		}
		return err
	}

	if report.LastExecutedQty.IsPositive() {
		_, err := i.orders.ProcessFill(ctx, order.ID, core.FillParams{
			ExchangeFillID: report.TradeID,
			Price:          report.LastExecutedPrice,
			Quantity:       report.LastExecutedQty,
			Fee:            report.Commission,
			FeeAsset:       report.CommissionAsset,
			ExchangeTime:   report.TransactionTime,
			Source:         core.FillSourceWebsocket,
		})
		if err != nil {
			return fmt.Errorf("process fill from execution report: %w", err)
		}
		return nil
	}

	newStatus, ok := core.MapExchangeStatus(report.Status)
	if !ok {
		i.logger.Debug("unmapped exchange status ignored", "status", report.Status)
		return nil
	}
	if newStatus == order.Status {
		return nil
	}

	_, err = i.orders.TransitionOrder(ctx, order.ID, newStatus, &report.ExchangeOrderID, map[string]any{
		"source": "websocket",
	})
	return err
}

var _ core.IFillIngestor = (*Ingestor)(nil)
