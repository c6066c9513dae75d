package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"executioncore/internal/core"

	"github.com/shopspring/decimal"
)

func (s *Store) InsertOrder(ctx context.Context, t core.Tx, order *core.Order) error {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO orders (id, user_id, strategy_id, symbol, side, type, quantity, limit_price,
			status, filled_quantity, avg_fill_price, exchange_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.UserID, nullString(order.StrategyID), order.Symbol, string(order.Side), string(order.Type),
		order.Quantity.String(), nullDecimal(order.LimitPrice), string(order.Status),
		order.FilledQuantity.String(), nullDecimal(order.AvgFillPrice), nullString(order.ExchangeOrderID),
		formatTime(order.CreatedAt), formatTime(order.UpdatedAt),
	)
	return err
}

func (s *Store) UpdateOrder(ctx context.Context, t core.Tx, order *core.Order) error {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`
		UPDATE orders SET status = ?, filled_quantity = ?, avg_fill_price = ?,
			exchange_order_id = ?, updated_at = ?
		WHERE id = ?`),
		string(order.Status), order.FilledQuantity.String(), nullDecimal(order.AvgFillPrice),
		nullString(order.ExchangeOrderID), formatTime(order.UpdatedAt), order.ID,
	)
	return err
}

func (s *Store) scanOrder(row interface {
	Scan(dest ...any) error
}) (*core.Order, error) {
	var (
		o                                        core.Order
		strategyID, exchangeOrderID              sql.NullString
		limitPrice, avgFillPrice                 sql.NullString
		quantity, filledQuantity, side, otype     string
		status, createdAt, updatedAt              string
	)
	if err := row.Scan(&o.ID, &o.UserID, &strategyID, &o.Symbol, &side, &otype, &quantity, &limitPrice,
		&status, &filledQuantity, &avgFillPrice, &exchangeOrderID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.StrategyID = stringPtr(strategyID)
	o.ExchangeOrderID = stringPtr(exchangeOrderID)
	o.Side = core.Side(side)
	o.Type = core.OrderType(otype)
	o.Status = core.OrderStatus(status)

	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	o.Quantity = q

	fq, err := decimal.NewFromString(filledQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse filled_quantity: %w", err)
	}
	o.FilledQuantity = fq

	lp, err := decimalPtr(limitPrice)
	if err != nil {
		return nil, fmt.Errorf("parse limit_price: %w", err)
	}
	o.LimitPrice = lp

	afp, err := decimalPtr(avgFillPrice)
	if err != nil {
		return nil, fmt.Errorf("parse avg_fill_price: %w", err)
	}
	o.AvgFillPrice = afp

	ct, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	o.CreatedAt = ct

	ut, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	o.UpdatedAt = ut

	return &o, nil
}

const orderColumns = `id, user_id, strategy_id, symbol, side, type, quantity, limit_price,
	status, filled_quantity, avg_fill_price, exchange_order_id, created_at, updated_at`

// GetOrderForUpdate takes the row lock appropriate to the dialect (real
// FOR UPDATE on Postgres; the SQLite driver already holds the write lock for
// the whole transaction via BEGIN IMMEDIATE, so the clause is a no-op there).
func (s *Store) GetOrderForUpdate(ctx context.Context, t core.Tx, orderID string) (*core.Order, error) {
	sqlTx := sqlTxOf(t)
	row := sqlTx.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`SELECT %s FROM orders WHERE id = ?%s`, orderColumns, s.forUpdate())), orderID)
	o, err := s.scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`SELECT %s FROM orders WHERE id = ?`, orderColumns)), orderID)
	o, err := s.scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) GetOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`SELECT %s FROM orders WHERE exchange_order_id = ?`, orderColumns)), exchangeOrderID)
	o, err := s.scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(`SELECT %s FROM orders WHERE user_id = ? ORDER BY created_at DESC`, orderColumns)), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanOrderRows(rows)
}

func (s *Store) ListNonFinalOrdersSince(ctx context.Context, since time.Time) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE status NOT IN ('FILLED','CANCELED','REJECTED','EXPIRED') AND created_at >= ?
		ORDER BY created_at ASC`, orderColumns)), formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanOrderRows(rows)
}

func (s *Store) scanOrderRows(rows *sql.Rows) ([]*core.Order, error) {
	var out []*core.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
