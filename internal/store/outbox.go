package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"executioncore/internal/core"
)

func (s *Store) InsertOutboxRow(ctx context.Context, t core.Tx, row *core.OutboxRow) error {
	sqlTx := sqlTxOf(t)
	payload, err := marshalJSONMap(row.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO portfolio_events_outbox (id, event_type, user_id, symbol, order_id, fill_id, payload, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`),
		row.ID, string(row.EventType), row.UserID, row.Symbol, row.OrderID, nullString(row.FillID), payload, formatTime(row.CreatedAt),
	)
	return err
}

// ListUnprocessed returns the oldest unprocessed rows first, capped at limit
// (spec §4.H's batch-size bound on a single projector tick).
func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]*core.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, event_type, user_id, symbol, order_id, fill_id, payload, created_at, processed_at
		FROM portfolio_events_outbox WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.OutboxRow
	for rows.Next() {
		var (
			o                      core.OutboxRow
			eventType              string
			fillID                 sql.NullString
			payload                string
			createdAt              string
			processedAt            sql.NullString
		)
		if err := rows.Scan(&o.ID, &eventType, &o.UserID, &o.Symbol, &o.OrderID, &fillID, &payload, &createdAt, &processedAt); err != nil {
			return nil, err
		}
		o.EventType = core.OutboxEventType(eventType)
		o.FillID = stringPtr(fillID)
		m, err := unmarshalJSONMap(payload)
		if err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		o.Payload = m
		ct, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		o.CreatedAt = ct
		if processedAt.Valid {
			pt, err := parseTime(processedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse processed_at: %w", err)
			}
			o.ProcessedAt = &pt
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *Store) MarkProcessed(ctx context.Context, t core.Tx, id string, processedAt time.Time) error {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`UPDATE portfolio_events_outbox SET processed_at = ? WHERE id = ?`), formatTime(processedAt), id)
	return err
}
