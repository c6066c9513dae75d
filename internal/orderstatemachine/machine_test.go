package orderstatemachine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"executioncore/internal/config"
	"executioncore/internal/core"
	"executioncore/internal/store"
	"executioncore/pkg/apperrors"
	"executioncore/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(context.Background(), config.StoreConfig{Driver: "sqlite", SQLitePath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger, err := logging.New("error")
	require.NoError(t, err)

	return New(st, logger)
}

func placeOrderReq() core.PlaceOrderRequest {
	price := decimal.NewFromFloat(50000)
	return core.PlaceOrderRequest{
		UserID:     "user-1",
		Symbol:     "BTC-USD",
		Side:       core.SideBuy,
		Type:       core.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: &price,
	}
}

func TestCreateOrder_PersistsNewOrder(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusNew, order.Status)
	require.True(t, order.FilledQuantity.IsZero())
	require.NotEmpty(t, order.ID)
}

func TestCreateOrder_RejectsBadRequest(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	_, err := m.CreateOrder(ctx, core.PlaceOrderRequest{UserID: "", Symbol: "BTC-USD", Quantity: decimal.NewFromInt(1)})
	require.Error(t, err)

	_, err = m.CreateOrder(ctx, core.PlaceOrderRequest{UserID: "u", Symbol: "BTC-USD", Quantity: decimal.NewFromInt(-1)})
	require.Error(t, err)

	_, err = m.CreateOrder(ctx, core.PlaceOrderRequest{UserID: "u", Symbol: "BTC-USD", Type: core.OrderTypeLimit, Quantity: decimal.NewFromInt(1)})
	require.Error(t, err, "LIMIT orders require a limit price")
}

func TestTransitionOrder_FollowsAllowedGraph(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)

	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusSubmitted, nil, nil)
	require.NoError(t, err)

	exchangeID := "ex-123"
	opened, err := m.TransitionOrder(ctx, order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusOpen, opened.Status)
	require.Equal(t, &exchangeID, opened.ExchangeOrderID)
}

func TestTransitionOrder_RejectsInvalidTransition(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)

	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusFilled, nil, nil)
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeInvalidTransition, appErr.Code)
}

func TestTransitionOrder_CancelingAppendsNoEvent(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusSubmitted, nil, nil)
	require.NoError(t, err)
	exchangeID := "ex-1"
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)

	canceling, err := m.TransitionOrder(ctx, order.ID, core.OrderStatusCanceling, nil, nil)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusCanceling, canceling.Status)

	events, err := m.store.ListEventsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3, "CREATED, SUBMITTED, OPENED; CANCELING appends nothing")
	require.Equal(t, core.EventOpened, events[2].EventType)

	canceled, err := m.TransitionOrder(ctx, order.ID, core.OrderStatusCanceled, nil, nil)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusCanceled, canceled.Status)

	events, err = m.store.ListEventsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, core.EventCanceled, events[3].EventType)
}

func TestProcessFill_WeightedAveragePriceAndStatus(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	req := placeOrderReq()
	req.Quantity = decimal.NewFromInt(2)
	order, err := m.CreateOrder(ctx, req)
	require.NoError(t, err)
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusSubmitted, nil, nil)
	require.NoError(t, err)
	exchangeID := "ex-1"
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)

	fill1, err := m.ProcessFill(ctx, order.ID, core.FillParams{
		ExchangeFillID: "fill-1",
		Price:          decimal.NewFromInt(100),
		Quantity:       decimal.NewFromInt(1),
		ExchangeTime:   time.Now(),
		Source:         core.FillSourceWebsocket,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fill1.ID)

	got, err := m.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusPartiallyFilled, got.Status)

	fill2, err := m.ProcessFill(ctx, order.ID, core.FillParams{
		ExchangeFillID: "fill-2",
		Price:          decimal.NewFromInt(200),
		Quantity:       decimal.NewFromInt(1),
		ExchangeTime:   time.Now(),
		Source:         core.FillSourceWebsocket,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fill2.ID)

	got, err = m.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusFilled, got.Status)
	require.True(t, got.FilledQuantity.Equal(decimal.NewFromInt(2)))
	require.NotNil(t, got.AvgFillPrice)
	require.True(t, got.AvgFillPrice.Equal(decimal.NewFromInt(150)), "(1*100 + 1*200) / 2 = 150, got %s", got.AvgFillPrice)
}

func TestProcessFill_DuplicateFillIsNoOp(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusSubmitted, nil, nil)
	require.NoError(t, err)
	exchangeID := "ex-1"
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)

	params := core.FillParams{
		ExchangeFillID: "dup-fill",
		Price:          decimal.NewFromInt(100),
		Quantity:       decimal.NewFromInt(1),
		ExchangeTime:   time.Now(),
		Source:         core.FillSourceWebsocket,
	}

	_, err = m.ProcessFill(ctx, order.ID, params)
	require.NoError(t, err)

	_, err = m.ProcessFill(ctx, order.ID, params)
	require.NoError(t, err, "redelivery of the same exchangeFillId must not error")
}

func TestProcessFill_RejectsQuantityExceedingOrder(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	order, err := m.CreateOrder(ctx, placeOrderReq())
	require.NoError(t, err)
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusSubmitted, nil, nil)
	require.NoError(t, err)
	exchangeID := "ex-1"
	_, err = m.TransitionOrder(ctx, order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)

	_, err = m.ProcessFill(ctx, order.ID, core.FillParams{
		ExchangeFillID: "over-fill",
		Price:          decimal.NewFromInt(100),
		Quantity:       decimal.NewFromInt(5),
		ExchangeTime:   time.Now(),
		Source:         core.FillSourceWebsocket,
	})
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeFillExceedsOrder, appErr.Code)
}
