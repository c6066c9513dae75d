// Package durable implements the Admission Façade's asynchronous order
// submission as a DBOS durable workflow (spec §4.I expansion): a process
// crash between the exchange accepting an order and the local OPEN transition
// (SUBMITTED is recorded before the exchange call) resumes from the last completed step instead of losing the
// acknowledgement.
//
// Grounded on the teacher's internal/engine/durable.TradingWorkflows: each
// side effect runs inside its own ctx.RunAsStep so DBOS can replay the
// workflow without repeating a step that already completed.
package durable

import (
	"context"

	"executioncore/internal/core"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// OrderSubmission is SubmitOrderWorkflow's input: the order has already been
// created (status NEW) by the Admission Façade in the same call that starts
// this workflow.
type OrderSubmission struct {
	OrderID string
}

// Workflows holds the collaborators SubmitOrderWorkflow needs. It carries no
// other mutable state (§9 "ambient singletons" redesign).
type Workflows struct {
	orders   core.IOrderStateMachine
	store    core.OrderRepository
	exchange core.IExchangeAdapter
	logger   core.ILogger
}

func NewWorkflows(orders core.IOrderStateMachine, store core.OrderRepository, exchange core.IExchangeAdapter, logger core.ILogger) *Workflows {
	return &Workflows{orders: orders, store: store, exchange: exchange, logger: logger.WithField("component", "durable_workflow")}
}

// SubmitOrderWorkflow drives a NEW order through SUBMITTED and then either
// OPEN (exchange accepted) or REJECTED (exchange declined or errored),
// matching the order state machine's transition graph at every step.
func (w *Workflows) SubmitOrderWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	submission := input.(OrderSubmission)

	_, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		_, err := w.orders.TransitionOrder(stepCtx, submission.OrderID, core.OrderStatusSubmitted, nil, nil)
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	placementRaw, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		order, err := w.store.GetOrder(stepCtx, submission.OrderID)
		if err != nil {
			return nil, err
		}
		exchangeOrderID, placeErr := w.exchange.PlaceOrder(stepCtx, core.PlaceOrderRequest{
			UserID:     order.UserID,
			StrategyID: order.StrategyID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Type:       order.Type,
			Quantity:   order.Quantity,
			LimitPrice: order.LimitPrice,
		}, submission.OrderID)
		return placementResult{ExchangeOrderID: exchangeOrderID, Err: placeErr}, nil
	})
	if err != nil {
		return nil, err
	}
	placement := placementRaw.(placementResult)

	_, err = ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		if placement.Err != nil {
			w.logger.Warn("exchange rejected order submission", "orderId", submission.OrderID, "error", placement.Err)
			_, terr := w.orders.TransitionOrder(stepCtx, submission.OrderID, core.OrderStatusRejected, nil, map[string]any{
				"reason": placement.Err.Error(),
			})
			return nil, terr
		}
		_, terr := w.orders.TransitionOrder(stepCtx, submission.OrderID, core.OrderStatusOpen, &placement.ExchangeOrderID, nil)
		return nil, terr
	})
	return nil, err
}

type placementResult struct {
	ExchangeOrderID string
	Err             error
}
