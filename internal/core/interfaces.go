package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger is the structured logging facade every component depends on.
// Concrete implementation: pkg/logging (zap + OTel bridge).
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Tx is a single database transaction handle (spec §4.A).
type Tx interface {
	Commit() error
	Rollback() error
}

// IStore is the Durable Store's transaction boundary (spec §4.A).
type IStore interface {
	BeginTx(ctx context.Context) (Tx, error)
	OrderRepository
	EventRepository
	FillRepository
	PositionRepository
	OutboxRepository
	RiskLimitRepository
	ReconciliationLogRepository
}

// OrderRepository persists Order rows. All write methods require a Tx opened
// against the same IStore; read methods may run outside a transaction.
type OrderRepository interface {
	InsertOrder(ctx context.Context, tx Tx, order *Order) error
	UpdateOrder(ctx context.Context, tx Tx, order *Order) error
	GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error)
	ListNonFinalOrdersSince(ctx context.Context, since time.Time) ([]*Order, error)
}

// EventRepository persists the append-only OrderEvent log.
type EventRepository interface {
	InsertEvent(ctx context.Context, tx Tx, event *OrderEvent) error
	MaxSequenceNumber(ctx context.Context, tx Tx, orderID string) (int64, error)
	ListEventsByOrder(ctx context.Context, orderID string) ([]*OrderEvent, error)
}

// FillRepository persists Fill rows with exchangeFillId as the dedup key.
type FillRepository interface {
	// InsertFill inserts a fill. ok=false and err=nil means the unique
	// constraint on exchangeFillId rejected it (already processed).
	InsertFill(ctx context.Context, tx Tx, fill *Fill) (ok bool, err error)
	ListFillsByOrder(ctx context.Context, orderID string) ([]*Fill, error)
}

// PositionRepository persists the per-(user,symbol) position ledger.
type PositionRepository interface {
	GetPositionForUpdate(ctx context.Context, tx Tx, userID, symbol string) (*Position, error)
	CreatePosition(ctx context.Context, tx Tx, position *Position) error
	UpdatePositionWithVersion(ctx context.Context, tx Tx, position *Position, expectedVersion int64) error
	GetPosition(ctx context.Context, userID, symbol string) (*Position, error)
}

// OutboxRepository persists the transactional outbox consumed by the Projector.
type OutboxRepository interface {
	InsertOutboxRow(ctx context.Context, tx Tx, row *OutboxRow) error
	ListUnprocessed(ctx context.Context, limit int) ([]*OutboxRow, error)
	MarkProcessed(ctx context.Context, tx Tx, id string, processedAt time.Time) error
}

// RiskLimitRepository resolves the precedence rule from spec §3.
type RiskLimitRepository interface {
	ResolveLimits(ctx context.Context, userID, symbol string) (*RiskLimits, error)
}

// ReconciliationLogRepository persists the reconciliation audit trail (SPEC_FULL §3).
type ReconciliationLogRepository interface {
	InsertReconciliationLog(ctx context.Context, tx Tx, entry *ReconciliationLogEntry) error
}

// IKillSwitch is the cluster-visible admission gate (spec §4.B).
type IKillSwitch interface {
	Get(ctx context.Context) (*KillSwitchState, error)
	Activate(ctx context.Context, reason, actor string) error
	Deactivate(ctx context.Context) error
	CheckOrFail(ctx context.Context) error
}

// IRiskValidator is the pre-trade admission gate (spec §4.C).
type IRiskValidator interface {
	Validate(ctx context.Context, req RiskCheckRequest) (*RiskApproval, error)
	ClearApprovalCache(ctx context.Context, pattern string) (int64, error)
}

// IOrderStateMachine is the heart of the system (spec §4.D).
type IOrderStateMachine interface {
	CreateOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error)
	TransitionOrder(ctx context.Context, orderID string, newStatus OrderStatus, exchangeOrderID *string, metadata map[string]any) (*Order, error)
	ProcessFill(ctx context.Context, orderID string, fill FillParams) (*Fill, error)
}

// FillParams is processFill's input (spec §4.D).
type FillParams struct {
	ExchangeFillID string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Fee            decimal.Decimal
	FeeAsset       string
	ExchangeTime   time.Time
	Source         FillSource
}

// IRateLimiter is the exchange adapter's token-bucket primitive (spec §4.E).
type IRateLimiter interface {
	Acquire(ctx context.Context) error
	Stop()
}

// CircuitState enumerates the circuit breaker's state machine (spec §4.E).
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ICircuitBreaker protects a flaky upstream (spec §4.E).
type ICircuitBreaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	State() CircuitState
}

// IExchangeREST is the outbound exchange REST surface (spec §6).
type IExchangeREST interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest, clientOrderID string) (exchangeOrderID string, err error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (*ExchangeOrderSnapshot, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]*ExchangeOrderSnapshot, error)
	ListOrderTrades(ctx context.Context, symbol, exchangeOrderID string) ([]ExchangeTrade, error)
	GetListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, key string) error
	ServerTime(ctx context.Context) (time.Time, error)
}

// StreamState enumerates the user-data stream's connection lifecycle (spec §4.E).
type StreamState string

const (
	StreamDisconnected StreamState = "DISCONNECTED"
	StreamConnecting   StreamState = "CONNECTING"
	StreamConnected    StreamState = "CONNECTED"
	StreamReconnecting StreamState = "RECONNECTING"
)

// IStreamClient is the exchange user-data stream (spec §4.E).
type IStreamClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() StreamState
}

// IExchangeAdapter composes rate limiting, circuit breaking, REST, and streaming (spec §4.E).
type IExchangeAdapter interface {
	IExchangeREST
	StartUserDataStream(ctx context.Context, onReport func(ExecutionReport), onStatus func(symbol, exchangeOrderID, status string)) error
	StopUserDataStream() error
}

// IFillIngestor consumes execution reports from the stream (spec §4.F).
type IFillIngestor interface {
	HandleExecutionReport(ctx context.Context, report ExecutionReport) error
}

// IReconciler audits non-final orders against exchange state (spec §4.G).
type IReconciler interface {
	Start(ctx context.Context) error
	Stop()
	Reconcile(ctx context.Context) error
}

// IProjector consumes the outbox and maintains positions (spec §4.H).
type IProjector interface {
	Start(ctx context.Context) error
	Stop()
	Tick(ctx context.Context) error
}

// IIdempotencyStore backs the admission façade's idempotency contract (spec §4.I).
type IIdempotencyStore interface {
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	Put(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// IAdmissionFacade is the single entry point used by HTTP handlers (spec
// §6's logical Core API list: placeOrder, cancelOrder, getOrder,
// listOrdersByUser, listFillsByOrder, validateRisk, activateKillSwitch,
// deactivateKillSwitch, clearRiskApprovalCache).
type IAdmissionFacade interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest, idempotencyKey string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error)
	ListFillsByOrder(ctx context.Context, orderID string) ([]*Fill, error)
	ValidateRisk(ctx context.Context, req RiskCheckRequest) (*RiskApproval, error)
	ActivateKillSwitch(ctx context.Context, reason, actor string) error
	DeactivateKillSwitch(ctx context.Context) error
	ClearRiskApprovalCache(ctx context.Context, pattern string) (int64, error)
}
