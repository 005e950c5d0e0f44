package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
)

// Record сохраняет попытку отправки команды
func (d *Database) Record(ctx context.Context, rec models.DispatchRecord) error {
	_, err := d.querier(ctx).ExecContext(ctx, `
		INSERT INTO dispatches
			(id, session_id, command, actuator, source, argument, invocation, simulated, output, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID,
		nullString(rec.SessionID),
		rec.Order.Command,
		rec.Order.Actuator,
		rec.Order.Source,
		rec.Argument,
		nullString(rec.Invocation),
		rec.Simulated,
		nullString(rec.Output),
		nullString(rec.Error),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch %s: %w", rec.ID, err)
	}
	return nil
}

// Recent последние попытки сессии, новые первыми
func (d *Database) Recent(ctx context.Context, sessionID string, limit int) ([]models.DispatchRecord, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT id, COALESCE(session_id, ''), command, actuator, source, argument,
			COALESCE(invocation, ''), simulated, COALESCE(output, ''), COALESCE(error, ''), created_at
		FROM dispatches
		WHERE $1 = '' OR session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select dispatches: %w", err)
	}
	defer rows.Close()

	var records []models.DispatchRecord
	for rows.Next() {
		var r models.DispatchRecord
		if err := rows.Scan(
			&r.ID,
			&r.SessionID,
			&r.Order.Command,
			&r.Order.Actuator,
			&r.Order.Source,
			&r.Argument,
			&r.Invocation,
			&r.Simulated,
			&r.Output,
			&r.Error,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// OpenSession отмечает начало сеанса
func (d *Database) OpenSession(ctx context.Context, id, host string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"INSERT INTO sessions (id, host, connected_at) VALUES ($1, $2, $3)",
		id, host, time.Now().UTC())
	return err
}

// CloseSession закрывает сеанс вместе с проверкой, что он был открыт
func (d *Database) CloseSession(ctx context.Context, id string) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		res, err := d.querier(ctx).ExecContext(ctx,
			"UPDATE sessions SET disconnected_at = $1 WHERE id = $2 AND disconnected_at IS NULL",
			time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("session %s: %w", id, sql.ErrNoRows)
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
