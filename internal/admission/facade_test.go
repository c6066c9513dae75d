package admission

import (
	"context"
	"errors"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/shopspring/decimal"
)

type fakeKillSwitch struct {
	active bool
}

func (f *fakeKillSwitch) Get(ctx context.Context) (*core.KillSwitchState, error) {
	return &core.KillSwitchState{Active: f.active}, nil
}
func (f *fakeKillSwitch) Activate(ctx context.Context, reason, actor string) error {
	f.active = true
	return nil
}
func (f *fakeKillSwitch) Deactivate(ctx context.Context) error {
	f.active = false
	return nil
}
func (f *fakeKillSwitch) CheckOrFail(ctx context.Context) error {
	if f.active {
		return apperrors.New(apperrors.CodeKillSwitchActive, "kill switch is active")
	}
	return nil
}

type fakeRiskValidator struct {
	rejectErr error
}

func (f *fakeRiskValidator) Validate(ctx context.Context, req core.RiskCheckRequest) (*core.RiskApproval, error) {
	if f.rejectErr != nil {
		return nil, f.rejectErr
	}
	return &core.RiskApproval{}, nil
}
func (f *fakeRiskValidator) ClearApprovalCache(ctx context.Context, pattern string) (int64, error) {
	return 0, nil
}

type fakePositions struct {
	positions map[string]*core.Position
}

func (f *fakePositions) key(userID, symbol string) string { return userID + ":" + symbol }
func (f *fakePositions) GetPositionForUpdate(ctx context.Context, tx core.Tx, userID, symbol string) (*core.Position, error) {
	return f.GetPosition(ctx, userID, symbol)
}
func (f *fakePositions) CreatePosition(ctx context.Context, tx core.Tx, position *core.Position) error {
	f.positions[f.key(position.UserID, position.Symbol)] = position
	return nil
}
func (f *fakePositions) UpdatePositionWithVersion(ctx context.Context, tx core.Tx, position *core.Position, expectedVersion int64) error {
	f.positions[f.key(position.UserID, position.Symbol)] = position
	return nil
}
func (f *fakePositions) GetPosition(ctx context.Context, userID, symbol string) (*core.Position, error) {
	p, ok := f.positions[f.key(userID, symbol)]
	if !ok {
		return nil, apperrors.New(apperrors.CodePositionNotFound, "no position")
	}
	return p, nil
}

type fakeOrders struct {
	orders    map[string]*core.Order
	createErr error
}

func newFakeOrders() *fakeOrders { return &fakeOrders{orders: make(map[string]*core.Order)} }

func (f *fakeOrders) CreateOrder(ctx context.Context, req core.PlaceOrderRequest) (*core.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	order := &core.Order{
		ID:             "order-" + req.UserID + "-" + req.Symbol,
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Status:         core.OrderStatusNew,
		FilledQuantity: decimal.Zero,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	f.orders[order.ID] = order
	return order, nil
}
func (f *fakeOrders) TransitionOrder(ctx context.Context, orderID string, newStatus core.OrderStatus, exchangeOrderID *string, metadata map[string]any) (*core.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeOrderNotFound, "order not found")
	}
	order.Status = newStatus
	if exchangeOrderID != nil {
		order.ExchangeOrderID = exchangeOrderID
	}
	return order, nil
}
func (f *fakeOrders) ProcessFill(ctx context.Context, orderID string, fill core.FillParams) (*core.Fill, error) {
	return nil, errors.New("not implemented")
}

type fakeRecords struct {
	orders *fakeOrders
	fills  map[string][]*core.Fill
}

func (f *fakeRecords) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	order, ok := f.orders.orders[orderID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeOrderNotFound, "order not found")
	}
	return order, nil
}
func (f *fakeRecords) ListOrdersByUser(ctx context.Context, userID string) ([]*core.Order, error) {
	var out []*core.Order
	for _, o := range f.orders.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}
func (f *fakeRecords) ListFillsByOrder(ctx context.Context, orderID string) ([]*core.Fill, error) {
	return f.fills[orderID], nil
}

type fakeExchangeREST struct {
	cancelErr error
	canceled  []string
}

func (f *fakeExchangeREST) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest, clientOrderID string) (string, error) {
	return "ex-" + clientOrderID, nil
}
func (f *fakeExchangeREST) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	f.canceled = append(f.canceled, exchangeOrderID)
	return f.cancelErr
}
func (f *fakeExchangeREST) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (*core.ExchangeOrderSnapshot, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeExchangeREST) ListOpenOrders(ctx context.Context, symbol string) ([]*core.ExchangeOrderSnapshot, error) {
	return nil, nil
}
func (f *fakeExchangeREST) ListOrderTrades(ctx context.Context, symbol, exchangeOrderID string) ([]core.ExchangeTrade, error) {
	return nil, nil
}
func (f *fakeExchangeREST) GetListenKey(ctx context.Context) (string, error)         { return "", nil }
func (f *fakeExchangeREST) KeepAliveListenKey(ctx context.Context, key string) error { return nil }
func (f *fakeExchangeREST) ServerTime(ctx context.Context) (time.Time, error)        { return time.Now(), nil }

type fakeIdempotency struct {
	store map[string][]byte
}

func newFakeIdempotency() *fakeIdempotency { return &fakeIdempotency{store: make(map[string][]byte)} }

func (f *fakeIdempotency) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := f.store[key]
	return v, ok, nil
}
func (f *fakeIdempotency) Put(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	f.store[key] = response
	return nil
}

type fakeSubmitter struct {
	submitted []string
	err       error
}

func (f *fakeSubmitter) SubmitOrder(orderID string) error {
	f.submitted = append(f.submitted, orderID)
	return f.err
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...interface{})                 {}
func (noopLogger) Info(msg string, fields ...interface{})                  {}
func (noopLogger) Warn(msg string, fields ...interface{})                  {}
func (noopLogger) Error(msg string, fields ...interface{})                 {}
func (noopLogger) Fatal(msg string, fields ...interface{})                 {}
func (l noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func newTestFacade() (*Facade, *fakeKillSwitch, *fakeRiskValidator, *fakeOrders, *fakeSubmitter, *fakeIdempotency) {
	killSwitch := &fakeKillSwitch{}
	riskValidator := &fakeRiskValidator{}
	positions := &fakePositions{positions: make(map[string]*core.Position)}
	orders := newFakeOrders()
	records := &fakeRecords{orders: orders, fills: make(map[string][]*core.Fill)}
	exchange := &fakeExchangeREST{}
	idempotency := newFakeIdempotency()
	submitter := &fakeSubmitter{}

	f := New(killSwitch, riskValidator, positions, orders, records, exchange, idempotency, 60, submitter, noopLogger{})
	return f, killSwitch, riskValidator, orders, submitter, idempotency
}

func testPlaceReq() core.PlaceOrderRequest {
	return core.PlaceOrderRequest{
		UserID:   "user-1",
		Symbol:   "BTC-USD",
		Side:     core.SideBuy,
		Type:     core.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}
}
