package risk

import (
	"context"
	"testing"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"
	"executioncore/pkg/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeLimitRepo struct {
	limits *core.RiskLimits
}

func (f *fakeLimitRepo) ResolveLimits(ctx context.Context, userID, symbol string) (*core.RiskLimits, error) {
	return f.limits, nil
}

func newTestValidator(t *testing.T, limits *core.RiskLimits) *Validator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, err := logging.New("error")
	require.NoError(t, err)

	return New(&fakeLimitRepo{limits: limits}, client, time.Minute, logger)
}

func TestValidate_WithinLimitApproves(t *testing.T) {
	v := newTestValidator(t, &core.RiskLimits{
		UserID:          "user-1",
		MaxPositionSize: decimal.NewFromInt(10),
	})

	approval, err := v.Validate(context.Background(), core.RiskCheckRequest{
		UserID:          "user-1",
		Symbol:          "BTC-USD",
		Side:            core.SideBuy,
		Quantity:        decimal.NewFromInt(5),
		CurrentPosition: decimal.NewFromInt(2),
		PositionVersion: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, approval)
}

func TestValidate_AtLimitBoundaryApproves(t *testing.T) {
	v := newTestValidator(t, &core.RiskLimits{
		UserID:          "user-1",
		MaxPositionSize: decimal.NewFromInt(10),
	})

	approval, err := v.Validate(context.Background(), core.RiskCheckRequest{
		UserID:          "user-1",
		Symbol:          "BTC-USD",
		Side:            core.SideBuy,
		Quantity:        decimal.NewFromInt(5),
		CurrentPosition: decimal.NewFromInt(5),
		PositionVersion: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, approval)
}

func TestValidate_OverLimitRejects(t *testing.T) {
	v := newTestValidator(t, &core.RiskLimits{
		UserID:          "user-1",
		MaxPositionSize: decimal.NewFromInt(10),
	})

	_, err := v.Validate(context.Background(), core.RiskCheckRequest{
		UserID:          "user-1",
		Symbol:          "BTC-USD",
		Side:            core.SideBuy,
		Quantity:        decimal.NewFromFloat(5.01),
		CurrentPosition: decimal.NewFromInt(5),
		PositionVersion: 1,
	})
	require.Error(t, err)
	appErr, ok := err.(*apperrors.Error)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeRiskLimitExceeded, appErr.Code)
}

func TestValidate_CachesApprovalByPositionVersion(t *testing.T) {
	repo := &fakeLimitRepo{limits: &core.RiskLimits{UserID: "user-1", MaxPositionSize: decimal.NewFromInt(10)}}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger, err := logging.New("error")
	require.NoError(t, err)
	v := New(repo, client, time.Minute, logger)

	req := core.RiskCheckRequest{
		UserID:          "user-1",
		Symbol:          "BTC-USD",
		Side:            core.SideBuy,
		Quantity:        decimal.NewFromInt(1),
		CurrentPosition: decimal.NewFromInt(0),
		PositionVersion: 1,
	}

	_, err = v.Validate(context.Background(), req)
	require.NoError(t, err)

	// Starve out the limits repo: a cache hit must not call ResolveLimits again.
	repo.limits = nil
	approval, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, approval)
}

func TestClearApprovalCache_DeletesMatchingKeys(t *testing.T) {
	v := newTestValidator(t, &core.RiskLimits{UserID: "user-1", MaxPositionSize: decimal.NewFromInt(10)})

	req := core.RiskCheckRequest{
		UserID:          "user-1",
		Symbol:          "BTC-USD",
		Side:            core.SideBuy,
		Quantity:        decimal.NewFromInt(1),
		CurrentPosition: decimal.NewFromInt(0),
		PositionVersion: 1,
	}
	_, err := v.Validate(context.Background(), req)
	require.NoError(t, err)

	deleted, err := v.ClearApprovalCache(context.Background(), "risk:approval:user-1:*")
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
