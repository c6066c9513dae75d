// Package orderstatemachine implements the heart of the execution core
// (spec §4.D): order creation, state transitions, and fill processing, all
// inside a single Durable Store transaction so the order row, its append-only
// event log, and the outbox entry that feeds the Portfolio Projector commit
// or roll back together.
package orderstatemachine

import (
	"context"
	"fmt"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Machine is the core.IOrderStateMachine implementation.
type Machine struct {
	store  core.IStore
	logger core.ILogger
}

func New(store core.IStore, logger core.ILogger) *Machine {
	return &Machine{store: store, logger: logger}
}

// CreateOrder persists a new order in NEW status plus its CREATED event
// (spec §4.D step 1). Admission's risk check happens before this is called;
// CreateOrder itself only validates shape, not trading limits.
func (m *Machine) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (*core.Order, error) {
	if err := validatePlaceOrderRequest(req); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &core.Order{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		LimitPrice:     req.LimitPrice,
		Status:         core.OrderStatusNew,
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.store.InsertOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	if err := m.appendEvent(ctx, tx, order, core.OrderStatusNew, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("order created", "orderId", order.ID, "userId", order.UserID, "symbol", order.Symbol)
	return order, nil
}

func validatePlaceOrderRequest(req core.PlaceOrderRequest) error {
	if req.UserID == "" || req.Symbol == "" {
		return apperrors.New(apperrors.CodeValidation, "userId and symbol are required")
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return apperrors.New(apperrors.CodeValidation, "quantity must be positive")
	}
	if req.Type == core.OrderTypeLimit && req.LimitPrice == nil {
		return apperrors.New(apperrors.CodeValidation, "limitPrice is required for LIMIT orders")
	}
	return nil
}

// TransitionOrder advances orderID to newStatus under the transition graph
// from transitions.go, appending the corresponding 1:1-mapped event (spec
// §4.D). Invalid transitions are rejected without side effects.
func (m *Machine) TransitionOrder(ctx context.Context, orderID string, newStatus core.OrderStatus, exchangeOrderID *string, metadata map[string]any) (*core.Order, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := m.store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if !isAllowedTransition(order.Status, newStatus) {
		return nil, apperrors.New(apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot transition order from %s to %s", order.Status, newStatus)).
			WithDetail("orderId", orderID).WithDetail("from", string(order.Status)).WithDetail("to", string(newStatus))
	}

	order.Status = newStatus
	order.UpdatedAt = time.Now()
	if exchangeOrderID != nil {
		order.ExchangeOrderID = exchangeOrderID
	}

	if err := m.store.UpdateOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	// CANCELING has no mapped event type (spec §4.D's event enum stops at the
	// eight stable statuses) — it's a transient marker the reconciliation
	// loop polls for, not an audited state change, so it gets no event row.
	if _, hasEvent := core.EventTypeForStatus(newStatus); hasEvent {
		if err := m.appendEvent(ctx, tx, order, newStatus, metadata); err != nil {
			return nil, err
		}
	}

	if newStatus == core.OrderStatusCanceled {
		if err := m.insertOutboxRow(ctx, tx, order, core.OutboxOrderCanceled, nil, metadata); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("order transitioned", "orderId", order.ID, "status", string(newStatus))
	return order, nil
}

// ProcessFill applies a single fill to orderID (spec §4.D step 3): dedups on
// exchangeFillId, recomputes filledQuantity and the weighted-average fill
// price, derives the resulting order status (PARTIALLY_FILLED or FILLED),
// and writes an outbox row for the Portfolio Projector to consume.
// Re-delivery of an already-recorded fill is a successful no-op returning a
// nil fill, not an error, even when the order is already FILLED, since the exchange stream and the reconciliation loop can both
// observe the same trade.
func (m *Machine) ProcessFill(ctx context.Context, orderID string, params core.FillParams) (*core.Fill, error) {
	if params.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.New(apperrors.CodeValidation, "fill quantity must be positive")
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := m.store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	fill := &core.Fill{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		ExchangeFillID: params.ExchangeFillID,
		Price:          params.Price,
		Quantity:       params.Quantity,
		Fee:            params.Fee,
		FeeAsset:       params.FeeAsset,
		ExchangeTime:   params.ExchangeTime,
		Source:         params.Source,
	}

	inserted, err := m.store.InsertFill(ctx, tx, fill)
	if err != nil {
		return nil, fmt.Errorf("insert fill: %w", err)
	}
	if !inserted {
		m.logger.Debug("duplicate fill ignored", "orderId", orderID, "exchangeFillId", params.ExchangeFillID)
		return nil, nil
	}

	if order.Status != core.OrderStatusOpen && order.Status != core.OrderStatusPartiallyFilled {
		return nil, apperrors.New(apperrors.CodeInvalidStateForFill,
			fmt.Sprintf("order %s is in state %s and cannot accept fills", orderID, order.Status)).
			WithDetail("orderId", orderID)
	}

	newFilledQuantity := order.FilledQuantity.Add(params.Quantity)
	if newFilledQuantity.GreaterThan(order.Quantity) {
		return nil, apperrors.New(apperrors.CodeFillExceedsOrder,
			fmt.Sprintf("fill would bring filled quantity to %s, exceeding order quantity %s", newFilledQuantity, order.Quantity)).
			WithDetail("orderId", orderID)
	}

	order.AvgFillPrice = weightedAvgPrice(order.FilledQuantity, order.AvgFillPrice, params.Quantity, params.Price)
	order.FilledQuantity = newFilledQuantity
	order.UpdatedAt = time.Now()

	newStatus := core.OrderStatusPartiallyFilled
	if newFilledQuantity.Equal(order.Quantity) {
		newStatus = core.OrderStatusFilled
	}
	fromStatus := order.Status
	if fromStatus != newStatus {
		if !isAllowedTransition(fromStatus, newStatus) {
			return nil, apperrors.New(apperrors.CodeInvalidTransition,
				fmt.Sprintf("fill-driven transition from %s to %s is not allowed", fromStatus, newStatus)).
				WithDetail("orderId", orderID)
		}
		order.Status = newStatus
	}

	if err := m.store.UpdateOrder(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	eventData := map[string]any{
		"fillId":         fill.ID,
		"exchangeFillId": fill.ExchangeFillID,
		"price":          fill.Price.String(),
		"quantity":       fill.Quantity.String(),
		"fee":            fill.Fee.String(),
		"feeAsset":       fill.FeeAsset,
	}
	if fromStatus != newStatus {
		if err := m.appendEvent(ctx, tx, order, newStatus, eventData); err != nil {
			return nil, err
		}
	} else {
		// Status unchanged (e.g. a second partial fill) still needs its own
		// audit row; reuse PARTIAL_FILL's event type regardless of target status.
		if err := m.appendEventType(ctx, tx, order, core.EventPartialFill, eventData); err != nil {
			return nil, err
		}
	}

	if err := m.insertOutboxRow(ctx, tx, order, core.OutboxFillProcessed, &fill.ID, eventData); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("fill processed", "orderId", orderID, "fillId", fill.ID, "status", string(order.Status))
	return fill, nil
}

// weightedAvgPrice folds a new fill into the order's running average fill
// price (spec §4.D): avg = (prevQty*prevAvg + newQty*newPrice) / (prevQty+newQty).
func weightedAvgPrice(prevQty decimal.Decimal, prevAvg *decimal.Decimal, newQty, newPrice decimal.Decimal) *decimal.Decimal {
	if prevAvg == nil || prevQty.IsZero() {
		p := newPrice
		return &p
	}
	totalQty := prevQty.Add(newQty)
	weighted := prevQty.Mul(*prevAvg).Add(newQty.Mul(newPrice))
	avg := weighted.Div(totalQty)
	return &avg
}

func (m *Machine) appendEvent(ctx context.Context, tx core.Tx, order *core.Order, status core.OrderStatus, metadata map[string]any) error {
	eventType, ok := core.EventTypeForStatus(status)
	if !ok {
		return fmt.Errorf("no event type mapped for status %s", status)
	}
	return m.appendEventType(ctx, tx, order, eventType, metadata)
}

func (m *Machine) appendEventType(ctx context.Context, tx core.Tx, order *core.Order, eventType core.EventType, metadata map[string]any) error {
	seq, err := m.store.MaxSequenceNumber(ctx, tx, order.ID)
	if err != nil {
		return fmt.Errorf("max sequence number: %w", err)
	}
	event := &core.OrderEvent{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		EventType:      eventType,
		Data:           metadata,
		SequenceNumber: seq + 1,
		Timestamp:      time.Now(),
	}
	return m.store.InsertEvent(ctx, tx, event)
}

func (m *Machine) insertOutboxRow(ctx context.Context, tx core.Tx, order *core.Order, eventType core.OutboxEventType, fillID *string, payload map[string]any) error {
	row := &core.OutboxRow{
		ID:        uuid.NewString(),
		EventType: eventType,
		UserID:    order.UserID,
		Symbol:    order.Symbol,
		OrderID:   order.ID,
		FillID:    fillID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return m.store.InsertOutboxRow(ctx, tx, row)
}

var _ core.IOrderStateMachine = (*Machine)(nil)
