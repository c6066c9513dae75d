package store

import (
	"context"
	"fmt"

	"executioncore/internal/core"

	"github.com/shopspring/decimal"
)

// InsertFill relies on the exchange_fill_id UNIQUE constraint for dedup
// (spec §4.D/§4.F): a duplicate insert is the expected idempotent path for
// both stream-delivered and reconciliation-recovered fills, not an error.
func (s *Store) InsertFill(ctx context.Context, t core.Tx, fill *core.Fill) (bool, error) {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO fills (id, order_id, exchange_fill_id, price, quantity, fee, fee_asset, exchange_time, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		fill.ID, fill.OrderID, fill.ExchangeFillID, fill.Price.String(), fill.Quantity.String(),
		fill.Fee.String(), fill.FeeAsset, formatTime(fill.ExchangeTime), string(fill.Source),
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListFillsByOrder(ctx context.Context, orderID string) ([]*core.Fill, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, order_id, exchange_fill_id, price, quantity, fee, fee_asset, exchange_time, source
		FROM fills WHERE order_id = ? ORDER BY exchange_time ASC`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Fill
	for rows.Next() {
		var (
			f                       core.Fill
			price, quantity, fee    string
			exchangeTime, source    string
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.ExchangeFillID, &price, &quantity, &fee, &f.FeeAsset, &exchangeTime, &source); err != nil {
			return nil, err
		}
		var err error
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if f.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if f.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("parse fee: %w", err)
		}
		if f.ExchangeTime, err = parseTime(exchangeTime); err != nil {
			return nil, fmt.Errorf("parse exchange_time: %w", err)
		}
		f.Source = core.FillSource(source)
		out = append(out, &f)
	}
	return out, rows.Err()
}
