package durable

import (
	"context"
	"fmt"
	"time"

	"executioncore/internal/core"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// Engine owns the DBOS runtime and exposes SubmitOrder as the durable
// counterpart to the order state machine's synchronous CreateOrder.
// Grounded on the teacher's internal/engine/durable.DBOSEngine.
type Engine struct {
	dbosCtx   dbos.DBOSContext
	workflows *Workflows
	logger    core.ILogger
}

func NewEngine(dbosCtx dbos.DBOSContext, orders core.IOrderStateMachine, store core.OrderRepository, exchange core.IExchangeAdapter, logger core.ILogger) *Engine {
	return &Engine{
		dbosCtx:   dbosCtx,
		workflows: NewWorkflows(orders, store, exchange, logger),
		logger:    logger.WithField("component", "durable_engine"),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("starting durable workflow runtime")
	return e.dbosCtx.Launch()
}

func (e *Engine) Stop() {
	e.logger.Info("stopping durable workflow runtime")
	e.dbosCtx.Shutdown(30 * time.Second)
}

// SubmitOrder starts SubmitOrderWorkflow asynchronously and returns once DBOS
// has durably recorded the workflow, without waiting for it to finish — the
// Admission Façade's PlaceOrder call returns as soon as the order exists
// locally, per spec §4.I step 4 ("asynchronously... best-effort").
func (e *Engine) SubmitOrder(orderID string) error {
	_, err := e.dbosCtx.RunWorkflow(e.dbosCtx, e.workflows.SubmitOrderWorkflow, OrderSubmission{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("failed to start submit-order workflow: %w", err)
	}
	return nil
}
