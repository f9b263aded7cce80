// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

/*
Package database stores the deposit log and campus-wide stats in DuckDB.

Tables:
  - deposits: one row per detected drop-off (device, category, amount,
    reward points, estimated CO2 saved)
  - stats: a single aggregate row (id = 1) updated in the same
    transaction as every deposit insert

An empty path opens an in-memory database, which is what tests use.

Usage:

	db, err := database.New(&cfg.Database)
	if err != nil {
	    return err
	}
	defer db.Close()

	stats, err := db.RecordDeposit(ctx, models.Deposit{DeviceID: "raspi-1", Amount: 1.2})
*/
package database
