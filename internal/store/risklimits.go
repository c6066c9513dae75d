package store

import (
	"context"
	"database/sql"
	"fmt"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// ResolveLimits implements the precedence rule from spec §3: a per-(user,
// symbol) row overrides the user's symbol-less default row, which in turn is
// the row with symbol = '' (this schema's sentinel for "no symbol").
func (s *Store) ResolveLimits(ctx context.Context, userID, symbol string) (*core.RiskLimits, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT user_id, symbol, max_position_size, max_exposure, max_daily_loss
		FROM risk_limits WHERE user_id = ? AND symbol = ?`), userID, symbol)
	limits, err := s.scanRiskLimits(row)
	if err == nil {
		return limits, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT user_id, symbol, max_position_size, max_exposure, max_daily_loss
		FROM risk_limits WHERE user_id = ? AND symbol = ''`), userID)
	limits, err = s.scanRiskLimits(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.CodeNoLimitsConfigured, fmt.Sprintf("no risk limits configured for user %s", userID))
	}
	return limits, err
}

func (s *Store) scanRiskLimits(row *sql.Row) (*core.RiskLimits, error) {
	var (
		l                                        core.RiskLimits
		symbol                                   string
		maxPositionSize, maxExposure, maxDailyLoss string
	)
	if err := row.Scan(&l.UserID, &symbol, &maxPositionSize, &maxExposure, &maxDailyLoss); err != nil {
		return nil, err
	}
	if symbol != "" {
		l.Symbol = &symbol
	}
	var err error
	if l.MaxPositionSize, err = decimal.NewFromString(maxPositionSize); err != nil {
		return nil, fmt.Errorf("parse max_position_size: %w", err)
	}
	if l.MaxExposure, err = decimal.NewFromString(maxExposure); err != nil {
		return nil, fmt.Errorf("parse max_exposure: %w", err)
	}
	if l.MaxDailyLoss, err = decimal.NewFromString(maxDailyLoss); err != nil {
		return nil, fmt.Errorf("parse max_daily_loss: %w", err)
	}
	return &l, nil
}

// UpsertRiskLimits is an operator-facing write path (not part of core.IStore;
// used by admin tooling and tests to seed risk_limits rows).
func (s *Store) UpsertRiskLimits(ctx context.Context, limits *core.RiskLimits) error {
	symbol := ""
	if limits.Symbol != nil {
		symbol = *limits.Symbol
	}
	var err error
	if s.dialect == DialectPostgres {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO risk_limits (user_id, symbol, max_position_size, max_exposure, max_daily_loss)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, symbol) DO UPDATE SET
				max_position_size = EXCLUDED.max_position_size,
				max_exposure = EXCLUDED.max_exposure,
				max_daily_loss = EXCLUDED.max_daily_loss`,
			limits.UserID, symbol, limits.MaxPositionSize.String(), limits.MaxExposure.String(), limits.MaxDailyLoss.String(),
		)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO risk_limits (user_id, symbol, max_position_size, max_exposure, max_daily_loss)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id, symbol) DO UPDATE SET
				max_position_size = excluded.max_position_size,
				max_exposure = excluded.max_exposure,
				max_daily_loss = excluded.max_daily_loss`,
			limits.UserID, symbol, limits.MaxPositionSize.String(), limits.MaxExposure.String(), limits.MaxDailyLoss.String(),
		)
	}
	return err
}
