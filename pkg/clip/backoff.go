// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clip

import (
	"math"
	"math/rand"
	"time"
)

// backoff computes exponential delays for a worker whose frame is blocked
// behind the consumer. Each worker gets its own seeded rng so jitter is
// reproducible.
type backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

func newBackoff(seed int64, cfg BackoffConfig) *backoff {
	return &backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // Jitter only.
	}
}

// Next returns the next delay and counts the attempt.
func (b *backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++

	return delay
}

// Calculate returns the current delay without counting an attempt.
func (b *backoff) Calculate() time.Duration {
	mult := b.config.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.config.Initial) * math.Pow(mult, float64(b.attempts))

	if b.config.Max > 0 && delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// JitterPct=0.4 means +-20%.
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

func (b *backoff) Reset() {
	b.attempts = 0
}

func (b *backoff) Attempts() int {
	return b.attempts
}
