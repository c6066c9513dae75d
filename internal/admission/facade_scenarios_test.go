package admission

import (
	"context"
	"testing"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_HappyPathSubmitsToExchange(t *testing.T) {
	f, _, _, _, submitter, _ := newTestFacade()

	order, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusNew, order.Status)
	require.Contains(t, submitter.submitted, order.ID)
}

func TestPlaceOrder_KillSwitchActiveBlocksAdmission(t *testing.T) {
	f, killSwitch, _, _, submitter, _ := newTestFacade()
	killSwitch.active = true

	_, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeKillSwitchActive, appErr.Code)
	require.Empty(t, submitter.submitted, "a blocked order must never reach the submitter")
}

func TestPlaceOrder_RiskRejectionBlocksOrderCreation(t *testing.T) {
	f, _, risk, orders, _, _ := newTestFacade()
	risk.rejectErr = apperrors.RiskLimitExceeded("over limit", apperrors.ViolationMaxPositionSize)

	_, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.Error(t, err)
	require.Empty(t, orders.orders, "a risk-rejected order must never be created")
}

func TestPlaceOrder_IdempotentReplayReturnsCachedOrder(t *testing.T) {
	f, _, _, orders, submitter, _ := newTestFacade()

	first, err := f.PlaceOrder(context.Background(), testPlaceReq(), "idem-key-1")
	require.NoError(t, err)

	second, err := f.PlaceOrder(context.Background(), testPlaceReq(), "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, orders.orders, 1, "replay must not create a second order")
	require.Len(t, submitter.submitted, 1, "replay must not resubmit to the exchange")
}

func TestPlaceOrder_SubmitterFailureStillReturnsCreatedOrder(t *testing.T) {
	f, _, _, orders, submitter, _ := newTestFacade()
	submitter.err = context.DeadlineExceeded

	order, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.NoError(t, err, "a submission failure is recovered by reconciliation, not surfaced to the caller")
	require.Contains(t, orders.orders, order.ID)
}

func TestCancelOrder_TransitionsToCancelingAndCallsExchange(t *testing.T) {
	f, _, _, orders, _, _ := newTestFacade()
	order, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.NoError(t, err)
	exchangeID := "ex-1"
	_, err = orders.TransitionOrder(context.Background(), order.ID, core.OrderStatusOpen, &exchangeID, nil)
	require.NoError(t, err)

	canceled, err := f.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusCanceling, canceled.Status)
	require.Equal(t, []string{"ex-1"}, f.exchange.(*fakeExchangeREST).canceled)
}

func TestCancelOrder_UnknownOrderErrors(t *testing.T) {
	f, _, _, _, _, _ := newTestFacade()
	_, err := f.CancelOrder(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestGetOrder_DelegatesToRecords(t *testing.T) {
	f, _, _, _, _, _ := newTestFacade()
	order, err := f.PlaceOrder(context.Background(), testPlaceReq(), "")
	require.NoError(t, err)

	got, err := f.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
}

func TestActivateDeactivateKillSwitch(t *testing.T) {
	f, killSwitch, _, _, _, _ := newTestFacade()
	require.NoError(t, f.ActivateKillSwitch(context.Background(), "manual halt", "operator-1"))
	require.True(t, killSwitch.active)

	require.NoError(t, f.DeactivateKillSwitch(context.Background()))
	require.False(t, killSwitch.active)
}
