// BinRelay - Campus E-Waste Tracking Device Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/binrelay

package modelclient

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/tomtom215/binrelay/internal/models"
)

// MockLabels are the categories a mock result is drawn from.
var MockLabels = []string{"phone", "laptop", "battery", "accessory", "unknown"}

const (
	mockMinConfidence = 0.6
	mockMaxConfidence = 0.99
)

// Mock synthesizes plausible inference results.
type Mock struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock creates a Mock. A nil rng uses the global source.
func NewMock(rng *rand.Rand) *Mock {
	return &Mock{rng: rng}
}

func (m *Mock) float() float64 {
	if m.rng == nil {
		return rand.Float64()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// Result returns a random label with a confidence in [0.6, 0.99] rounded
// to two decimals.
func (m *Mock) Result() models.InferenceResult {
	idx := int(m.float() * float64(len(MockLabels)))
	if idx >= len(MockLabels) {
		idx = len(MockLabels) - 1
	}
	conf := mockMinConfidence + m.float()*(mockMaxConfidence-mockMinConfidence)
	conf = math.Round(conf*100) / 100

	return models.InferenceResult{
		Label:      MockLabels[idx],
		Confidence: conf,
		Source:     models.SourceMock,
	}
}
