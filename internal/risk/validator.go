// Package risk implements the pre-trade admission gate (spec §4.C): it
// resolves the applicable limits, checks the proposed order against them,
// and caches a short-lived approval keyed by (user, symbol, side, quantity,
// positionVersion) so a resubmission racing a concurrent fill is forced to
// re-validate.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Validator is the Redis-cached core.IRiskValidator implementation. The
// cache keying mirrors rishavpaul-system-design's token-bucket pattern of
// namespacing Redis keys per logical entity rather than sharing one blob.
type Validator struct {
	store  core.RiskLimitRepository
	redis  *redis.Client
	ttl    time.Duration
	logger core.ILogger
}

func New(store core.RiskLimitRepository, redisClient *redis.Client, ttl time.Duration, logger core.ILogger) *Validator {
	return &Validator{store: store, redis: redisClient, ttl: ttl, logger: logger}
}

func approvalKey(userID, symbol string, side core.Side, quantity decimal.Decimal, positionVersion int64) string {
	return fmt.Sprintf("risk:approval:%s:%s:%s:%s:%d", userID, symbol, side, quantity, positionVersion)
}

// Validate implements spec §4.C: resolve limits (symbol-specific overrides
// user default), check current + proposed exposure against MaxPositionSize,
// and cache the approval for ttl so a follow-up admission within the same
// position version can skip the limit lookup.
func (v *Validator) Validate(ctx context.Context, req core.RiskCheckRequest) (*core.RiskApproval, error) {
	key := approvalKey(req.UserID, req.Symbol, req.Side, req.Quantity, req.PositionVersion)
	if cached, err := v.readCache(ctx, key); err == nil && cached != nil {
		return cached, nil
	}

	limits, err := v.store.ResolveLimits(ctx, req.UserID, req.Symbol)
	if err != nil {
		return nil, err
	}

	projected := req.CurrentPosition
	switch req.Side {
	case core.SideBuy:
		projected = projected.Add(req.Quantity)
	case core.SideSell:
		projected = projected.Sub(req.Quantity)
	}

	if projected.Abs().GreaterThan(limits.MaxPositionSize) {
		return nil, apperrors.RiskLimitExceeded(
			fmt.Sprintf("projected position %s exceeds max position size %s", projected, limits.MaxPositionSize),
			apperrors.ViolationMaxPositionSize,
		).WithDetail("projectedPosition", projected.String()).WithDetail("maxPositionSize", limits.MaxPositionSize.String())
	}

	approval := &core.RiskApproval{
		Limits:          *limits,
		ValidatedAt:     time.Now(),
		PositionVersion: req.PositionVersion,
	}
	v.writeCache(ctx, key, approval)
	return approval, nil
}

type cachedApproval struct {
	UserID          string          `json:"userId"`
	Symbol          *string         `json:"symbol,omitempty"`
	MaxPositionSize decimal.Decimal `json:"maxPositionSize"`
	MaxExposure     decimal.Decimal `json:"maxExposure"`
	MaxDailyLoss    decimal.Decimal `json:"maxDailyLoss"`
	ValidatedAt     time.Time       `json:"validatedAt"`
	PositionVersion int64           `json:"positionVersion"`
}

func (v *Validator) readCache(ctx context.Context, key string) (*core.RiskApproval, error) {
	raw, err := v.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var c cachedApproval
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &core.RiskApproval{
		Limits: core.RiskLimits{
			UserID:          c.UserID,
			Symbol:          c.Symbol,
			MaxPositionSize: c.MaxPositionSize,
			MaxExposure:     c.MaxExposure,
			MaxDailyLoss:    c.MaxDailyLoss,
		},
		ValidatedAt:     c.ValidatedAt,
		PositionVersion: c.PositionVersion,
	}, nil
}

func (v *Validator) writeCache(ctx context.Context, key string, approval *core.RiskApproval) {
	c := cachedApproval{
		UserID:          approval.Limits.UserID,
		Symbol:          approval.Limits.Symbol,
		MaxPositionSize: approval.Limits.MaxPositionSize,
		MaxExposure:     approval.Limits.MaxExposure,
		MaxDailyLoss:    approval.Limits.MaxDailyLoss,
		ValidatedAt:     approval.ValidatedAt,
		PositionVersion: approval.PositionVersion,
	}
	raw, err := json.Marshal(c)
	if err != nil {
		v.logger.Warn("failed to marshal risk approval for cache", "error", err)
		return
	}
	if err := v.redis.Set(ctx, key, raw, v.ttl).Err(); err != nil {
		v.logger.Warn("failed to cache risk approval", "error", err)
	}
}

// ClearApprovalCache purges every cached approval matching pattern (e.g.
// "risk:approval:user123:*") using SCAN rather than KEYS so the purge never
// blocks the shared Redis instance under load.
func (v *Validator) ClearApprovalCache(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := v.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := v.redis.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

var _ core.IRiskValidator = (*Validator)(nil)
