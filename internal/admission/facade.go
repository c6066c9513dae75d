package admission

import (
	"context"
	"encoding/json"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// submitter is the narrow surface the façade needs from the durable workflow
// engine; kept as an interface here rather than importing internal/durable
// directly so admission and durable don't form an import cycle through
// bootstrap wiring.
type submitter interface {
	SubmitOrder(orderID string) error
}

// records is the narrow read surface the façade needs for getOrder/
// listOrdersByUser/listFillsByOrder — a subset of core.OrderRepository and
// core.FillRepository rather than the full core.IStore, so the façade can't
// accidentally reach for write methods that belong to the state machine.
type records interface {
	GetOrder(ctx context.Context, orderID string) (*core.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*core.Order, error)
	ListFillsByOrder(ctx context.Context, orderID string) ([]*core.Fill, error)
}

// Facade is the core.IAdmissionFacade implementation: the single entry point
// an external caller (HTTP handler, CLI, test) uses to place an order
// (spec §4.I).
type Facade struct {
	killSwitch   core.IKillSwitch
	risk         core.IRiskValidator
	positions    core.PositionRepository
	orders       core.IOrderStateMachine
	records      records
	exchange     core.IExchangeREST
	idempotency  core.IIdempotencyStore
	idempTTLSecs int64
	submitter    submitter
	logger       core.ILogger
}

func New(killSwitch core.IKillSwitch, risk core.IRiskValidator, positions core.PositionRepository, orders core.IOrderStateMachine, records records, exchange core.IExchangeREST, idempotency core.IIdempotencyStore, idempTTLSeconds int64, submitter submitter, logger core.ILogger) *Facade {
	return &Facade{
		killSwitch:   killSwitch,
		risk:         risk,
		positions:    positions,
		orders:       orders,
		records:      records,
		exchange:     exchange,
		idempotency:  idempotency,
		idempTTLSecs: idempTTLSeconds,
		submitter:    submitter,
		logger:       logger.WithField("component", "admission_facade"),
	}
}

// PlaceOrder implements spec §4.I: kill-switch check, idempotency-key
// dedup, risk validation, order creation, and best-effort async submission
// to the exchange via the durable workflow.
func (f *Facade) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest, idempotencyKey string) (*core.Order, error) {
	if idempotencyKey != "" {
		if cached, found, err := f.idempotency.Get(ctx, idempotencyKey); err == nil && found {
			var order core.Order
			if err := json.Unmarshal(cached, &order); err == nil {
				return &order, nil
			}
		}
	}

	if err := f.killSwitch.CheckOrFail(ctx); err != nil {
		return nil, err
	}

	currentPosition, positionVersion, err := f.currentPosition(ctx, req.UserID, req.Symbol)
	if err != nil {
		return nil, err
	}

	if _, err := f.risk.Validate(ctx, core.RiskCheckRequest{
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Quantity,
		CurrentPosition: currentPosition,
		PositionVersion: positionVersion,
	}); err != nil {
		return nil, err
	}

	order, err := f.orders.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := f.submitter.SubmitOrder(order.ID); err != nil {
		// The order already exists locally (status NEW); a failure here only
		// means the durable workflow didn't get kicked off, which the
		// reconciliation loop's submission-timeout path will catch and
		// reject the order for, per spec §4.G.
		f.logger.Error("failed to start durable submission workflow", "orderId", order.ID, "error", err)
	}

	if idempotencyKey != "" {
		if raw, err := json.Marshal(order); err == nil {
			ttl := time.Duration(f.idempTTLSecs) * time.Second
			if err := f.idempotency.Put(ctx, idempotencyKey, raw, ttl); err != nil {
				f.logger.Warn("failed to persist idempotency record", "idempotencyKey", idempotencyKey, "error", err)
			}
		}
	}

	return order, nil
}

// currentPosition resolves the position a proposed order would be checked
// against. A user with no prior position is a legitimate, zero-valued case
// rather than an error.
func (f *Facade) currentPosition(ctx context.Context, userID, symbol string) (decimal.Decimal, int64, error) {
	position, err := f.positions.GetPosition(ctx, userID, symbol)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodePositionNotFound) {
			return decimal.Zero, 0, nil
		}
		return decimal.Zero, 0, err
	}
	return position.Quantity, position.Version, nil
}

// CancelOrder requests cancellation of an OPEN or PARTIALLY_FILLED order:
// the local status moves to CANCELING before the exchange call goes out, so
// a crash between the two leaves the reconciliation loop an order it still
// recognizes as in-flight rather than a silently stuck OPEN order.
func (f *Facade) CancelOrder(ctx context.Context, orderID string) (*core.Order, error) {
	order, err := f.records.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	updated, err := f.orders.TransitionOrder(ctx, orderID, core.OrderStatusCanceling, nil, nil)
	if err != nil {
		return nil, err
	}

	if order.ExchangeOrderID != nil {
		if err := f.exchange.CancelOrder(ctx, order.Symbol, *order.ExchangeOrderID); err != nil {
			f.logger.Error("exchange cancel request failed", "orderId", orderID, "error", err)
			return nil, err
		}
	}

	return updated, nil
}

func (f *Facade) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	return f.records.GetOrder(ctx, orderID)
}

func (f *Facade) ListOrdersByUser(ctx context.Context, userID string) ([]*core.Order, error) {
	return f.records.ListOrdersByUser(ctx, userID)
}

func (f *Facade) ListFillsByOrder(ctx context.Context, orderID string) ([]*core.Fill, error) {
	return f.records.ListFillsByOrder(ctx, orderID)
}

func (f *Facade) ValidateRisk(ctx context.Context, req core.RiskCheckRequest) (*core.RiskApproval, error) {
	return f.risk.Validate(ctx, req)
}

func (f *Facade) ActivateKillSwitch(ctx context.Context, reason, actor string) error {
	return f.killSwitch.Activate(ctx, reason, actor)
}

func (f *Facade) DeactivateKillSwitch(ctx context.Context) error {
	return f.killSwitch.Deactivate(ctx)
}

func (f *Facade) ClearRiskApprovalCache(ctx context.Context, pattern string) (int64, error) {
	return f.risk.ClearApprovalCache(ctx, pattern)
}

var _ core.IAdmissionFacade = (*Facade)(nil)
