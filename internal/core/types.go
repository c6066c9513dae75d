// Package core defines the domain types and collaborator interfaces shared
// across the execution core. Nothing in this package touches a concrete
// transport or storage technology.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus enumerates the order state machine's states.
type OrderStatus string

const (
	OrderStatusNew              OrderStatus = "NEW"
	OrderStatusSubmitted        OrderStatus = "SUBMITTED"
	OrderStatusOpen             OrderStatus = "OPEN"
	OrderStatusPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled           OrderStatus = "FILLED"
	OrderStatusCanceled         OrderStatus = "CANCELED"
	OrderStatusRejected         OrderStatus = "REJECTED"
	OrderStatusExpired          OrderStatus = "EXPIRED"
	OrderStatusCanceling        OrderStatus = "CANCELING"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// EventType enumerates OrderEvent.eventType, 1:1 with most OrderStatus values.
type EventType string

const (
	EventCreated     EventType = "CREATED"
	EventSubmitted   EventType = "SUBMITTED"
	EventOpened      EventType = "OPENED"
	EventPartialFill EventType = "PARTIAL_FILL"
	EventFilled      EventType = "FILLED"
	EventCanceled    EventType = "CANCELED"
	EventRejected    EventType = "REJECTED"
	EventExpired     EventType = "EXPIRED"
)

// EventTypeForStatus implements the 1:1 status->event mapping from spec §4.D.
// It covers every status except CANCELING, for which it reports ok=false.
func EventTypeForStatus(status OrderStatus) (EventType, bool) {
	switch status {
	case OrderStatusNew:
		return EventCreated, true
	case OrderStatusSubmitted:
		return EventSubmitted, true
	case OrderStatusOpen:
		return EventOpened, true
	case OrderStatusPartiallyFilled:
		return EventPartialFill, true
	case OrderStatusFilled:
		return EventFilled, true
	case OrderStatusCanceled:
		return EventCanceled, true
	case OrderStatusRejected:
		return EventRejected, true
	case OrderStatusExpired:
		return EventExpired, true
	default:
		return "", false
	}
}

// FillSource enumerates how a Fill entered the system.
type FillSource string

const (
	FillSourceWebsocket     FillSource = "WEBSOCKET"
	FillSourceReconciliation FillSource = "RECONCILIATION"
	FillSourceManual        FillSource = "MANUAL"
)

// OutboxEventType enumerates portfolio_events_outbox.eventType.
type OutboxEventType string

const (
	OutboxFillProcessed OutboxEventType = "FILL_PROCESSED"
	OutboxOrderCanceled OutboxEventType = "ORDER_CANCELED"
)

// ReconciliationAction enumerates the per-order outcome of a reconciliation pass.
type ReconciliationAction string

const (
	ReconNoChange           ReconciliationAction = "NO_CHANGE"
	ReconStateUpdated       ReconciliationAction = "STATE_UPDATED"
	ReconFillsAdded         ReconciliationAction = "FILLS_ADDED"
	ReconMarkedRejected     ReconciliationAction = "MARKED_REJECTED"
	ReconCriticalDiscrepancy ReconciliationAction = "CRITICAL_DISCREPANCY"
)

// Order is the durable representation of a user's trading intent (spec §3).
type Order struct {
	ID              string
	UserID          string
	StrategyID      *string
	Symbol          string
	Side            Side
	Type            OrderType
	Quantity        decimal.Decimal
	LimitPrice      *decimal.Decimal
	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	ExchangeOrderID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderEvent is an immutable, append-only audit record (spec §3).
type OrderEvent struct {
	ID             string
	OrderID        string
	EventType      EventType
	Data           map[string]any
	SequenceNumber int64
	Timestamp      time.Time
}

// Fill is a single trade execution against an order (spec §3).
type Fill struct {
	ID             string
	OrderID        string
	ExchangeFillID string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Fee            decimal.Decimal
	FeeAsset       string
	ExchangeTime   time.Time
	Source         FillSource
}

// Position is the per-(user,symbol) ledger row (spec §3).
type Position struct {
	ID                string
	UserID            string
	Symbol            string
	Quantity          decimal.Decimal
	AvgEntryPrice     decimal.Decimal
	RealizedPnl       decimal.Decimal
	TotalFees         decimal.Decimal
	Version           int64
	UpdatedAt         time.Time
	DataAsOfTimestamp time.Time
}

// IsStale reports whether the position snapshot is older than maxAge (spec §4.H).
func (p *Position) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.DataAsOfTimestamp) > maxAge
}

// OutboxRow is a transactional-outbox entry consumed by the Portfolio Projector (spec §3).
type OutboxRow struct {
	ID          string
	EventType   OutboxEventType
	UserID      string
	Symbol      string
	OrderID     string
	FillID      *string
	Payload     map[string]any
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// RiskLimits bounds admission for a (user, symbol-or-nil) pair (spec §3).
type RiskLimits struct {
	UserID          string
	Symbol          *string
	MaxPositionSize decimal.Decimal
	MaxExposure     decimal.Decimal
	MaxDailyLoss    decimal.Decimal
}

// KillSwitchState is the cluster-visible admission gate (spec §3/§4.B).
type KillSwitchState struct {
	Active      bool
	Reason      string
	ActivatedAt time.Time
	ActivatedBy string
}

// ReconciliationLogEntry records one per-order reconciliation outcome (SPEC_FULL §3).
type ReconciliationLogEntry struct {
	ID              string
	OrderID         string
	Action          ReconciliationAction
	BeforeStatus    OrderStatus
	AfterStatus     OrderStatus
	BeforeFilledQty decimal.Decimal
	AfterFilledQty  decimal.Decimal
	Detail          string
	CreatedAt       time.Time
}

// ExchangeOrderSnapshot is the authoritative exchange-side view of an order,
// returned by queryOrder/listOpenOrders (spec §6).
type ExchangeOrderSnapshot struct {
	ExchangeOrderID string
	Symbol          string
	Status          string // raw exchange status string, mapped via MapExchangeStatus
	FilledQuantity  decimal.Decimal
	Trades          []ExchangeTrade
}

// exchangeStatusMap translates the exchange's own status vocabulary into the
// order state machine's OrderStatus (spec §6's MapOrderStatus customization
// point, generalized from the teacher's per-exchange function pointer into a
// fixed table since this system only targets one exchange wire format).
// PENDING_CANCEL has no local equivalent status of its own — the order is
// still open pending the exchange's cancel ack, so it maps to OPEN.
var exchangeStatusMap = map[string]OrderStatus{
	"NEW":              OrderStatusOpen,
	"PARTIALLY_FILLED": OrderStatusPartiallyFilled,
	"FILLED":           OrderStatusFilled,
	"CANCELED":         OrderStatusCanceled,
	"PENDING_CANCEL":   OrderStatusOpen,
	"REJECTED":         OrderStatusRejected,
	"EXPIRED":          OrderStatusExpired,
}

// MapExchangeStatus translates a raw exchange status string into the order
// state machine's OrderStatus vocabulary (spec §4.G/§6). ok is false for any
// status outside the known vocabulary, so a caller can fail just the order
// being reconciled rather than the whole vocabulary.
func MapExchangeStatus(status string) (OrderStatus, bool) {
	mapped, ok := exchangeStatusMap[status]
	return mapped, ok
}

// ExchangeTrade is one fill as reported by the exchange (queryOrder/listOrderTrades).
type ExchangeTrade struct {
	TradeID          string
	Price            decimal.Decimal
	Quantity         decimal.Decimal
	Commission       decimal.Decimal
	CommissionAsset  string
	Time             time.Time
}

// ExecutionReport mirrors the exchange stream's executionReport payload (spec §6).
type ExecutionReport struct {
	Symbol             string
	Side               Side
	Type               OrderType
	Status             string
	ExchangeOrderID    string
	LastExecutedQty    decimal.Decimal
	CumulativeFilledQty decimal.Decimal
	LastExecutedPrice  decimal.Decimal
	Commission         decimal.Decimal
	CommissionAsset    string
	TransactionTime    time.Time
	TradeID            string
}

// PlaceOrderRequest is the admission boundary's input (spec §4.I).
type PlaceOrderRequest struct {
	UserID     string
	StrategyID *string
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
}

// RiskCheckRequest is the Risk Validator's input (spec §4.C).
type RiskCheckRequest struct {
	UserID          string
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	CurrentPosition decimal.Decimal
	PositionVersion int64
}

// RiskApproval is the Risk Validator's success output (spec §4.C).
type RiskApproval struct {
	Limits          RiskLimits
	ValidatedAt     time.Time
	PositionVersion int64
}
