// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package database

import (
	"context"
	"fmt"
	"time"
)

// statsRowID is the id of the single aggregate row.
const statsRowID = 1

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS deposits (
		id VARCHAR PRIMARY KEY,
		device_id VARCHAR NOT NULL,
		category VARCHAR NOT NULL,
		label VARCHAR NOT NULL DEFAULT '',
		confidence DOUBLE NOT NULL DEFAULT 0,
		amount DOUBLE NOT NULL,
		points INTEGER NOT NULL,
		co2_saved DOUBLE NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_created_at ON deposits(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_device_id ON deposits(device_id)`,
	`CREATE TABLE IF NOT EXISTS stats (
		id INTEGER PRIMARY KEY,
		total_ewaste DOUBLE NOT NULL DEFAULT 0,
		total_deposits BIGINT NOT NULL DEFAULT 0,
		total_points BIGINT NOT NULL DEFAULT 0,
		co2_saved DOUBLE NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`,
}

func (db *DB) createSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO stats (id, updated_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		statsRowID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seed stats row: %w", err)
	}
	return nil
}
