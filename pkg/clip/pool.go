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
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Pool spreads readers over a fixed set of managers, one goroutine each.
type Pool struct {
	config   *Config
	managers []*Manager
}

// NewPool returns a pool of config.Threads managers. Metrics are registered
// with registry if it is not nil.
func NewPool(config *Config, logger *zerolog.Logger, opener Opener, registry prometheus.Registerer) *Pool {
	SetLogger(logger)

	if config.LogLevel != ConfigDefault().LogLevel {
		level, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			panic(err.Error())
		}

		log = log.Level(level)
	}

	threads := max(config.Threads, 1)
	m := newMetrics(registry)

	p := &Pool{
		config:   config,
		managers: make([]*Manager, threads),
	}

	for i := range p.managers {
		p.managers[i] = newManager(i, config, opener, m)
	}

	log.Info().Int(lThread, threads).Int("maxActivePerThread", config.MaxActivePerThread).
		Str("scaler", config.Scaler).Msg("clip pool created")

	return p
}

// Managers returns the pool's managers in thread order.
func (p *Pool) Managers() []*Manager {
	return p.managers
}

// Append registers r with the least loaded manager.
func (p *Pool) Append(r *Reader) error {
	best := p.managers[0]
	bestLoad := best.LoadLevel() + best.Queued()

	for _, m := range p.managers[1:] {
		if load := m.LoadLevel() + m.Queued(); load < bestLoad {
			best, bestLoad = m, load
		}
	}

	return best.Append(r)
}

// Run runs every manager until ctx is done or Finish is called.
func (p *Pool) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		errs []error
	)

	for _, m := range p.managers {
		wg.Add(1)

		go func(m *Manager) {
			defer wg.Done()

			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lock.Lock()
				errs = append(errs, err)
				lock.Unlock()
			}
		}(m)
	}

	wg.Wait()

	return errors.Join(errs...)
}

// Finish stops every reader and every manager.
func (p *Pool) Finish() {
	for _, m := range p.managers {
		m.Finish()
	}
}

// Stats returns per-manager summaries in thread order.
func (p *Pool) Stats() []ManagerStats {
	stats := make([]ManagerStats, len(p.managers))
	for i, m := range p.managers {
		stats[i] = m.Stats()
	}

	return stats
}
