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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

// ErrManagerFinished is returned by Append after Finish.
var ErrManagerFinished = errors.New("clip manager finished")

// ErrReaderRetired is returned by Append for a reader that already played.
var ErrReaderRetired = errors.New("clip reader retired")

// ErrQueueFull matches errors returned by Append when a manager is saturated.
var ErrQueueFull = errors.New("clip manager queue full")

type queueFullError struct {
	thread int
	queued int
}

func (e *queueFullError) Error() string {
	return fmt.Sprintf("clip manager %d queue full (%d queued)", e.thread, e.queued)
}

func (e *queueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

type alreadyAppendedError struct {
	thread int
}

func (e *alreadyAppendedError) Error() string {
	return fmt.Sprintf("reader already appended to clip manager %d", e.thread)
}

// Handle names a manager entry. A handle stays valid until its entry is
// removed; after that the slot's generation moves on and lookups fail.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.gen)
}

// entry couples a reader with the worker decoding it.
type entry struct {
	handle Handle
	reader *Reader
	worker *worker

	// busy is held while the worker runs and while results are delivered to
	// the reader. Stop takes it to wait out an in-flight pass.
	busy sync.Mutex
	// detached is guarded by busy. Once set, nothing touches the reader.
	detached bool
	// unlinked is set when the entry leaves the registry.
	unlinked atomic.Bool

	// active is guarded by Manager.lock: the entry counts toward loadLevel.
	active bool

	closeOnce sync.Once
}

func (e *entry) closeSource() {
	e.closeOnce.Do(e.worker.close)
}

// Manager drives the decode workers of a set of readers on one goroutine.
type Manager struct {
	index   int
	config  *Config
	opener  Opener
	metrics *metrics
	stats   *decodeStats
	now     func() time.Time

	// lock protects the registry: entries, byReader, pending, finished and
	// every entry's active flag.
	lock     sync.RWMutex
	entries  []*entry
	gens     []uint32
	free     []uint32
	byReader map[*Reader]*entry
	pending  []*entry
	finished bool

	loadLevel atomic.Int32

	scheduleLock sync.Mutex
	schedule     map[Handle]time.Time

	wakeC      chan struct{}
	doneC      chan struct{}
	finishOnce sync.Once

	resultsLock sync.Mutex
	results     map[ProcessResult]int64
	rejections  int64
}

func newManager(index int, config *Config, opener Opener, m *metrics) *Manager {
	return &Manager{
		index:    index,
		config:   config,
		opener:   opener,
		metrics:  m,
		stats:    newDecodeStats(),
		now:      time.Now,
		byReader: make(map[*Reader]*entry),
		schedule: make(map[Handle]time.Time),
		wakeC:    make(chan struct{}, 1),
		doneC:    make(chan struct{}),
		results:  make(map[ProcessResult]int64),
	}
}

// NewManager returns a standalone manager. Most callers want a Pool.
func NewManager(config *Config, opener Opener) *Manager {
	return newManager(0, config, opener, newMetrics(nil))
}

// Index is the manager's thread index within its pool.
func (m *Manager) Index() int {
	return m.index
}

// LoadLevel is the number of clips currently decoding.
func (m *Manager) LoadLevel() int {
	return int(m.loadLevel.Load())
}

// Queued is the number of clips waiting for a decode slot.
func (m *Manager) Queued() int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return len(m.pending)
}

// Append registers r and creates a source for it. If the manager is at its
// load cap the clip is queued and starts decoding once a slot frees.
// Rejected clips never reach the opener.
func (m *Manager) Append(r *Reader) error {
	m.lock.Lock()
	err := m.admissibleLocked(r)
	m.lock.Unlock()

	if err != nil {
		return err
	}

	src, err := m.opener(r.location, r.mode)
	if err != nil {
		m.reject("open")

		return fmt.Errorf("opening clip %s: %w", r.location, err)
	}

	m.lock.Lock()

	// Admission may have changed while the opener ran.
	if err := m.admissibleLocked(r); err != nil {
		m.lock.Unlock()

		_ = src.Close()

		return err
	}

	e := m.allocLocked(r)
	e.worker = newWorker(m.config, src, r, r.mode, r.seekMs,
		int64(m.index)<<32|int64(e.handle.index))
	e.worker.observe = m.observeDecode

	r.manager.Store(m)
	r.threadIndex.Store(int32(m.index)) //nolint:gosec // Thread count is small.

	var queued int

	if int(m.loadLevel.Load()) < m.config.MaxActivePerThread {
		m.activateLocked(e)
	} else {
		m.pending = append(m.pending, e)
		queued = len(m.pending)
	}

	m.updateGaugesLocked()
	m.lock.Unlock()

	m.metrics.readers.Inc()

	if queued == 0 {
		m.wake(e.handle, m.now())
	}

	log.Debug().Int(lThread, m.index).Stringer(lHandle, e.handle).Object(lPlayID, r).
		Int(lQueued, queued).Int32(lLoad, m.loadLevel.Load()).Msg("clip appended")

	return nil
}

func (m *Manager) admissibleLocked(r *Reader) error {
	if m.finished {
		m.reject("finished")

		return ErrManagerFinished
	}

	if r.retired.Load() {
		return ErrReaderRetired
	}

	if _, ok := m.byReader[r]; ok {
		return &alreadyAppendedError{thread: m.index}
	}

	if other := r.manager.Load(); other != nil && other != m {
		return &alreadyAppendedError{thread: other.index}
	}

	if int(m.loadLevel.Load()) >= m.config.MaxActivePerThread &&
		len(m.pending) >= m.config.MaxQueuedPerThread {
		m.reject("queueFull")

		return &queueFullError{thread: m.index, queued: len(m.pending)}
	}

	return nil
}

func (m *Manager) reject(reason string) {
	m.metrics.rejected.WithLabelValues(reason).Inc()

	m.resultsLock.Lock()
	m.rejections++
	m.resultsLock.Unlock()
}

// allocLocked places a new entry in the arena, reusing a freed slot.
func (m *Manager) allocLocked(r *Reader) *entry {
	var index uint32

	if n := len(m.free); n > 0 {
		index = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		index = uint32(len(m.entries)) //nolint:gosec // Arena never nears 2^32.
		m.entries = append(m.entries, nil)
		m.gens = append(m.gens, 0)
	}

	e := &entry{
		handle: Handle{index: index, gen: m.gens[index]},
		reader: r,
	}

	m.entries[index] = e
	m.byReader[r] = e

	return e
}

func (m *Manager) activateLocked(e *entry) {
	e.active = true
	m.loadLevel.Add(1)
}

// unlinkLocked removes e from the registry. Its handle becomes stale.
func (m *Manager) unlinkLocked(e *entry) {
	if m.byReader[e.reader] == e {
		delete(m.byReader, e.reader)
	}

	if e.active {
		e.active = false
		m.loadLevel.Add(-1)
	} else if i := slices.Index(m.pending, e); i >= 0 {
		m.pending = slices.Delete(m.pending, i, i+1)
	}

	i := e.handle.index
	if m.entries[i] == e {
		m.entries[i] = nil
		m.gens[i]++
		m.free = append(m.free, i)
	}

	e.unlinked.Store(true)
	e.reader.retire()
	m.updateGaugesLocked()
}

// promoteLocked activates queued entries while there is capacity and
// returns their handles.
func (m *Manager) promoteLocked() []Handle {
	var promoted []Handle

	for len(m.pending) > 0 && int(m.loadLevel.Load()) < m.config.MaxActivePerThread {
		e := m.pending[0]
		m.pending = slices.Delete(m.pending, 0, 1)
		m.activateLocked(e)
		promoted = append(promoted, e.handle)
	}

	if len(promoted) > 0 {
		m.updateGaugesLocked()
	}

	return promoted
}

func (m *Manager) updateGaugesLocked() {
	label := threadLabel(m.index)
	m.metrics.loadLevel.WithLabelValues(label).Set(float64(m.loadLevel.Load()))
	m.metrics.queued.WithLabelValues(label).Set(float64(len(m.pending)))
}

func (m *Manager) lookup(h Handle) *entry {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if int(h.index) >= len(m.entries) {
		return nil
	}

	e := m.entries[h.index]
	if e == nil || e.handle != h {
		return nil
	}

	return e
}

func (m *Manager) entryFor(r *Reader) *entry {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.byReader[r]
}

// Carries reports whether r is registered with this manager.
func (m *Manager) Carries(r *Reader) bool {
	return m.entryFor(r) != nil
}

// Start tells the manager that r received its first request.
func (m *Manager) Start(r *Reader) {
	m.Update(r)
}

// Update asks the manager to run r's worker as soon as possible, e.g. after
// a geometry change or a resume.
func (m *Manager) Update(r *Reader) {
	m.lock.RLock()
	e := m.byReader[r]
	active := e != nil && e.active
	m.lock.RUnlock()

	if active {
		m.wake(e.handle, m.now())
	}
}

// Stop unregisters r. When it returns, no worker pass is running for r and
// none will start.
func (m *Manager) Stop(r *Reader) {
	m.lock.Lock()

	e := m.byReader[r]
	if e != nil {
		m.unlinkLocked(e)
	}

	m.lock.Unlock()

	if e == nil {
		return
	}

	m.unschedule(e.handle)

	e.busy.Lock()
	e.detached = true
	e.closeSource()
	e.busy.Unlock()

	m.metrics.readers.Dec()

	log.Debug().Int(lThread, m.index).Stringer(lHandle, e.handle).Object(lPlayID, r).Msg("clip stopped")

	// A decode slot may have freed up.
	m.nudge()
}

// Finish stops every clip and refuses new ones. Run returns afterwards.
func (m *Manager) Finish() {
	m.lock.Lock()
	m.finished = true

	all := make([]*entry, 0, len(m.byReader))
	for _, e := range m.byReader {
		all = append(all, e)
	}

	for _, e := range all {
		m.unlinkLocked(e)
	}

	m.lock.Unlock()

	for _, e := range all {
		m.unschedule(e.handle)

		e.busy.Lock()
		e.detached = true
		e.closeSource()
		e.busy.Unlock()

		m.metrics.readers.Dec()
	}

	m.finishOnce.Do(func() { close(m.doneC) })

	log.Debug().Int(lThread, m.index).Int(lCount, len(all)).Msg("clip manager finished")
}

// wake schedules h no later than t and nudges the run loop.
func (m *Manager) wake(h Handle, t time.Time) {
	m.scheduleLock.Lock()

	if cur, ok := m.schedule[h]; !ok || t.Before(cur) {
		m.schedule[h] = t
	}

	m.scheduleLock.Unlock()

	m.nudge()
}

func (m *Manager) setWake(h Handle, t time.Time) {
	m.scheduleLock.Lock()
	m.schedule[h] = t
	m.scheduleLock.Unlock()
}

func (m *Manager) unschedule(h Handle) {
	m.scheduleLock.Lock()
	delete(m.schedule, h)
	m.scheduleLock.Unlock()
}

// wakeAt returns when h is scheduled, if it is.
func (m *Manager) wakeAt(h Handle) (time.Time, bool) {
	m.scheduleLock.Lock()
	defer m.scheduleLock.Unlock()

	t, ok := m.schedule[h]

	return t, ok
}

// nudge wakes the run loop. Only the first of several nudges is kept.
func (m *Manager) nudge() {
	select {
	case m.wakeC <- struct{}{}:
	default:
	}
}

// takeDue removes and returns the handles due at now, earliest first.
func (m *Manager) takeDue(now time.Time) []Handle {
	m.scheduleLock.Lock()
	defer m.scheduleLock.Unlock()

	type dueHandle struct {
		h Handle
		t time.Time
	}

	var due []dueHandle

	for h, t := range m.schedule {
		if !t.After(now) {
			due = append(due, dueHandle{h, t})
			delete(m.schedule, h)
		}
	}

	slices.SortFunc(due, func(a, b dueHandle) int {
		if c := a.t.Compare(b.t); c != 0 {
			return c
		}

		return int(a.h.index) - int(b.h.index)
	})

	handles := make([]Handle, len(due))
	for i, d := range due {
		handles[i] = d.h
	}

	return handles
}

// nextWake returns the earliest scheduled time, or zero if nothing is.
func (m *Manager) nextWake() time.Time {
	m.scheduleLock.Lock()
	defer m.scheduleLock.Unlock()

	var next time.Time

	for _, t := range m.schedule {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	return next
}

// processAt runs every worker due at now and returns the next wake time.
func (m *Manager) processAt(ctx context.Context, now time.Time) time.Time {
	m.lock.Lock()
	promoted := m.promoteLocked()
	m.lock.Unlock()

	for _, h := range promoted {
		m.setWake(h, now)

		log.Debug().Int(lThread, m.index).Stringer(lHandle, h).Msg("queued clip promoted")
	}

	for _, h := range m.takeDue(now) {
		if e := m.lookup(h); e != nil {
			m.step(ctx, e, now)
		}
	}

	return m.nextWake()
}

func (m *Manager) step(ctx context.Context, e *entry, now time.Time) {
	e.busy.Lock()
	defer e.busy.Unlock()

	if e.detached || e.unlinked.Load() {
		return
	}

	result, wake := e.worker.process(ctx, now)
	m.handleProcessResult(e, result, wake)
}

// handleProcessResult delivers a worker result to the reader and reschedules
// the worker. Called with e.busy held.
func (m *Manager) handleProcessResult(e *entry, result ProcessResult, wake time.Time) {
	m.countResult(result)

	r := e.reader

	switch result {
	case ResultError, ResultFinished:
		if result == ResultError {
			r.setError()
		} else {
			r.setFinished()
		}

		m.send(r, NotificationRepaint)

		e.detached = true
		e.closeSource()

		// A concurrent Stop may have unlinked the entry already.
		m.lock.Lock()
		removed := !e.unlinked.Load()
		if removed {
			m.unlinkLocked(e)
		}
		m.lock.Unlock()

		if removed {
			m.unschedule(e.handle)
			m.metrics.readers.Dec()
			m.nudge()
		}

		log.Debug().Int(lThread, m.index).Stringer(lHandle, e.handle).Object(lPlayID, r).
			Stringer(lResult, result).Msg("clip done")

		return

	case ResultStarted:
		m.send(r, NotificationReinit)

	case ResultRepaint, ResultCopyFrame:
		m.send(r, NotificationRepaint)

	case ResultWait, ResultPaused:
	}

	if !wake.IsZero() {
		m.setWake(e.handle, wake)
	}
}

func (m *Manager) send(r *Reader, n Notification) {
	r.notify(n)
	m.metrics.notifications.Inc()
}

func (m *Manager) countResult(result ProcessResult) {
	m.metrics.results.WithLabelValues(result.String()).Inc()

	m.resultsLock.Lock()
	m.results[result]++
	m.resultsLock.Unlock()
}

func (m *Manager) observeDecode(d time.Duration) {
	m.stats.add(d)
	m.metrics.decodeTime.Observe(d.Seconds())
}

// Run drives the workers until ctx is done or Finish is called.
func (m *Manager) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	defer timer.Stop()

	for {
		next := m.processAt(ctx, m.now())

		var timerC <-chan time.Time

		if !next.IsZero() {
			timer.Reset(max(time.Until(next), 0))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			m.Finish()

			return fmt.Errorf("clip manager %d: %w", m.index, ctx.Err())

		case <-m.doneC:
			return nil

		case <-m.wakeC:
		case <-timerC:
		}

		timer.Stop()
	}
}

// Stats returns a summary of the manager's current state.
func (m *Manager) Stats() ManagerStats {
	m.lock.RLock()
	queued := len(m.pending)
	readers := len(m.byReader)
	m.lock.RUnlock()

	p50, p99, frames := m.stats.quantiles()

	m.resultsLock.Lock()
	results := make(map[ProcessResult]int64, len(m.results))

	for k, v := range m.results {
		results[k] = v
	}

	rejections := m.rejections
	m.resultsLock.Unlock()

	return ManagerStats{
		Thread:     m.index,
		LoadLevel:  m.LoadLevel(),
		Queued:     queued,
		Readers:    readers,
		Frames:     frames,
		DecodeP50:  p50,
		DecodeP99:  p99,
		Results:    results,
		Rejections: rejections,
	}
}
