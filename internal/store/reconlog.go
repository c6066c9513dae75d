package store

import (
	"context"

	"executioncore/internal/core"
)

func (s *Store) InsertReconciliationLog(ctx context.Context, t core.Tx, entry *core.ReconciliationLogEntry) error {
	sqlTx := sqlTxOf(t)
	_, err := sqlTx.ExecContext(ctx, s.rebind(`
		INSERT INTO order_reconciliation_log
			(id, order_id, action, before_status, after_status, before_filled_qty, after_filled_qty, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.OrderID, string(entry.Action), string(entry.BeforeStatus), string(entry.AfterStatus),
		entry.BeforeFilledQty.String(), entry.AfterFilledQty.String(), entry.Detail, formatTime(entry.CreatedAt),
	)
	return err
}
