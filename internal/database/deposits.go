// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/binrelay/internal/models"
)

const (
	defaultDepositLimit = 50
	maxDepositLimit     = 500
)

// RecordDeposit appends d to the deposit log and folds it into the
// aggregate stats in one transaction. It returns the updated stats.
// Missing ID, CreatedAt, Points and CO2Saved are filled in.
func (db *DB) RecordDeposit(ctx context.Context, d models.Deposit) (models.Stats, error) {
	if d.DeviceID == "" || d.Amount <= 0 {
		return models.Stats{}, fmt.Errorf("%w: device %q amount %v", ErrInvalidDeposit, d.DeviceID, d.Amount)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Category == "" {
		d.Category = "unknown"
	}
	if d.Points == 0 {
		d.Points = models.PointsFor(d.Amount)
	}
	if d.CO2Saved == 0 {
		d.CO2Saved = models.CO2For(d.Amount)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Stats{}, fmt.Errorf("begin deposit transaction: %w", err)
	}
	defer rollbackWithLog(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deposits (id, device_id, category, label, confidence, amount, points, co2_saved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DeviceID, d.Category, d.Label, d.Confidence, d.Amount, d.Points, d.CO2Saved, d.CreatedAt)
	if err != nil {
		return models.Stats{}, fmt.Errorf("insert deposit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stats SET
			total_ewaste = total_ewaste + ?,
			total_deposits = total_deposits + 1,
			total_points = total_points + ?,
			co2_saved = round(co2_saved + ?, 2),
			updated_at = ?
		WHERE id = ?`,
		d.Amount, d.Points, d.CO2Saved, d.CreatedAt, statsRowID)
	if err != nil {
		return models.Stats{}, fmt.Errorf("update stats: %w", err)
	}

	stats, err := scanStats(tx.QueryRowContext(ctx, statsQuery, statsRowID))
	if err != nil {
		return models.Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Stats{}, fmt.Errorf("commit deposit: %w", err)
	}
	return stats, nil
}

const statsQuery = `
	SELECT total_ewaste, total_deposits, total_points, co2_saved, updated_at
	FROM stats WHERE id = ?`

// Stats returns the aggregate over all recorded deposits.
func (db *DB) Stats(ctx context.Context) (models.Stats, error) {
	return scanStats(db.conn.QueryRowContext(ctx, statsQuery, statsRowID))
}

func scanStats(row *sql.Row) (models.Stats, error) {
	var s models.Stats
	if err := row.Scan(&s.TotalEwaste, &s.TotalDeposits, &s.TotalPoints, &s.CO2Saved, &s.UpdatedAt); err != nil {
		return models.Stats{}, fmt.Errorf("read stats: %w", err)
	}
	return s, nil
}

// RecentDeposits returns the newest deposits first. An empty deviceID
// returns deposits from every device. limit is clamped to [1, 500] with
// 50 used for non-positive values.
func (db *DB) RecentDeposits(ctx context.Context, limit int, deviceID string) ([]models.Deposit, error) {
	if limit <= 0 {
		limit = defaultDepositLimit
	}
	if limit > maxDepositLimit {
		limit = maxDepositLimit
	}

	query := `
		SELECT id, device_id, category, label, confidence, amount, points, co2_saved, created_at
		FROM deposits`
	args := []interface{}{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deposits: %w", err)
	}
	defer rows.Close()

	deposits := make([]models.Deposit, 0, limit)
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.Category, &d.Label, &d.Confidence, &d.Amount, &d.Points, &d.CO2Saved, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return deposits, nil
}
