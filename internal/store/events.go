package store

import (
	"context"
	"database/sql"
	"fmt"

	"executioncore/internal/core"
)

func (s *Store) InsertEvent(ctx context.Context, t core.Tx, event *core.OrderEvent) error {
	sqlTx := sqlTxOf(t)
	payload, err := marshalJSONMap(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO order_events (id, order_id, event_type, data, sequence_number, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`),
		event.ID, event.OrderID, string(event.EventType), payload, event.SequenceNumber, formatTime(event.Timestamp),
	)
	return err
}

// MaxSequenceNumber returns the highest sequence_number recorded for orderID,
// or 0 if no events exist yet, so callers can compute next = max+1 under the
// same row lock held on the parent order.
func (s *Store) MaxSequenceNumber(ctx context.Context, t core.Tx, orderID string) (int64, error) {
	sqlTx := sqlTxOf(t)
	var max sql.NullInt64
	err := sqlTx.QueryRowContext(ctx, s.rebind(`SELECT MAX(sequence_number) FROM order_events WHERE order_id = ?`), orderID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func (s *Store) ListEventsByOrder(ctx context.Context, orderID string) ([]*core.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, order_id, event_type, data, sequence_number, timestamp
		FROM order_events WHERE order_id = ? ORDER BY sequence_number ASC`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.OrderEvent
	for rows.Next() {
		var (
			e         core.OrderEvent
			eventType string
			data      string
			timestamp string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &eventType, &data, &e.SequenceNumber, &timestamp); err != nil {
			return nil, err
		}
		e.EventType = core.EventType(eventType)
		m, err := unmarshalJSONMap(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		e.Data = m
		ts, err := parseTime(timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		e.Timestamp = ts
		out = append(out, &e)
	}
	return out, rows.Err()
}
