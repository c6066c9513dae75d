package store

import (
	"context"
	"database/sql"
	"fmt"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const positionColumns = `id, user_id, symbol, quantity, avg_entry_price, realized_pnl, total_fees, version, updated_at, data_as_of_timestamp`

func (s *Store) scanPosition(row interface{ Scan(dest ...any) error }) (*core.Position, error) {
	var (
		p                                                    core.Position
		quantity, avgEntryPrice, realizedPnl, totalFees       string
		updatedAt, dataAsOf                                   string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &quantity, &avgEntryPrice, &realizedPnl, &totalFees,
		&p.Version, &updatedAt, &dataAsOf); err != nil {
		return nil, err
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if p.AvgEntryPrice, err = decimal.NewFromString(avgEntryPrice); err != nil {
		return nil, fmt.Errorf("parse avg_entry_price: %w", err)
	}
	if p.RealizedPnl, err = decimal.NewFromString(realizedPnl); err != nil {
		return nil, fmt.Errorf("parse realized_pnl: %w", err)
	}
	if p.TotalFees, err = decimal.NewFromString(totalFees); err != nil {
		return nil, fmt.Errorf("parse total_fees: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if p.DataAsOfTimestamp, err = parseTime(dataAsOf); err != nil {
		return nil, fmt.Errorf("parse data_as_of_timestamp: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPositionForUpdate(ctx context.Context, t core.Tx, userID, symbol string) (*core.Position, error) {
	sqlTx := sqlTxOf(t)
	row := sqlTx.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`
		SELECT %s FROM positions WHERE user_id = ? AND symbol = ?%s`, positionColumns, s.forUpdate())), userID, symbol)
	p, err := s.scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrPositionNotFound
	}
	return p, err
}

func (s *Store) GetPosition(ctx context.Context, userID, symbol string) (*core.Position, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`SELECT %s FROM positions WHERE user_id = ? AND symbol = ?`, positionColumns)), userID, symbol)
	p, err := s.scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrPositionNotFound
	}
	return p, err
}

func (s *Store) CreatePosition(ctx context.Context, t core.Tx, position *core.Position) error {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO positions (id, user_id, symbol, quantity, avg_entry_price, realized_pnl, total_fees, version, updated_at, data_as_of_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		position.ID, position.UserID, position.Symbol, position.Quantity.String(), position.AvgEntryPrice.String(),
		position.RealizedPnl.String(), position.TotalFees.String(), position.Version,
		formatTime(position.UpdatedAt), formatTime(position.DataAsOfTimestamp),
	)
	return err
}

// UpdatePositionWithVersion implements the optimistic-concurrency contract
// (spec §4.H): the UPDATE's WHERE clause pins the row to expectedVersion, and
// zero rows affected means a concurrent writer won the race.
func (s *Store) UpdatePositionWithVersion(ctx context.Context, t core.Tx, position *core.Position, expectedVersion int64) error {
	sqlTx := sqlTxOf(t)
	result, err := sqlTx.ExecContext(ctx, s.rebind(`
		UPDATE positions SET quantity = ?, avg_entry_price = ?, realized_pnl = ?, total_fees = ?,
			version = ?, updated_at = ?, data_as_of_timestamp = ?
		WHERE user_id = ? AND symbol = ? AND version = ?`),
		position.Quantity.String(), position.AvgEntryPrice.String(), position.RealizedPnl.String(),
		position.TotalFees.String(), expectedVersion+1, formatTime(position.UpdatedAt), formatTime(position.DataAsOfTimestamp),
		position.UserID, position.Symbol, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.New(apperrors.CodeOptimisticLockFailed, "position version changed concurrently")
	}
	position.Version = expectedVersion + 1
	return nil
}
