// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package models

import (
	"math"
	"time"
)

const (
	// PointsPerKg is the reward rate for deposited e-waste.
	PointsPerKg = 10

	// CO2PerKg is the estimated kilograms of CO2 saved per kilogram recycled.
	CO2PerKg = 2.5
)

// Deposit is one e-waste drop-off detected by a device.
type Deposit struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Category   string    `json:"category"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Amount     float64   `json:"amount"`
	Points     int       `json:"points_earned"`
	CO2Saved   float64   `json:"co2_saved"`
	CreatedAt  time.Time `json:"created_at"`
}

// PointsFor returns the reward points for amount kilograms.
func PointsFor(amount float64) int {
	return int(math.Floor(amount * PointsPerKg))
}

// CO2For returns the estimated CO2 saving for amount kilograms, rounded
// to two decimals.
func CO2For(amount float64) float64 {
	return math.Round(amount*CO2PerKg*100) / 100
}

// Stats is the campus-wide aggregate over all deposits.
type Stats struct {
	TotalEwaste   float64   `json:"totalEwaste"`
	TotalDeposits int64     `json:"totalDeposits"`
	TotalPoints   int64     `json:"totalPoints"`
	CO2Saved      float64   `json:"co2Saved"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
