// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package database

import (
	"database/sql"
	"errors"
	"io"

	"github.com/tomtom215/binrelay/internal/logging"
)

// ErrInvalidDeposit is returned for deposits without a device or a
// positive amount.
var ErrInvalidDeposit = errors.New("invalid deposit")

// closeQuietly closes a resource on an error path where the close error
// is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// rollbackWithLog rolls back tx unless it already finished.
func rollbackWithLog(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}
