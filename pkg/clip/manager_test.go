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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestManagerAdmission(t *testing.T) {
	config := testConfig()
	config.MaxActivePerThread = 2
	config.MaxQueuedPerThread = 1

	sources := []*fakeSource{
		newFakeSource(2, 40), newFakeSource(2, 40), newFakeSource(2, 40),
	}
	h := newHarness(t, config, sources...)

	r1 := h.reader(ModeGif)
	r2 := h.reader(ModeGif)
	r3 := h.reader(ModeGif)

	require.Equal(t, 2, h.m.LoadLevel())
	require.Equal(t, 1, h.m.Queued())

	err := h.m.Append(NewReader(Location{Path: "d"}, ModeGif))
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 3, h.opens, "rejected clips are never opened")

	h.tick()
	require.True(t, sources[0].isOpened())
	require.True(t, sources[1].isOpened())
	require.False(t, sources[2].isOpened(), "queued clips do not decode")

	r1.Stop()
	require.False(t, h.m.Carries(r1))
	require.True(t, sources[0].isClosed())

	// The queued clip is promoted and runs within the next tick.
	h.tick()
	require.Equal(t, 2, h.m.LoadLevel())
	require.Equal(t, 0, h.m.Queued())
	require.True(t, sources[2].isOpened())
	require.Equal(t, PhaseWaitingForRequest, r3.Step().Phase())

	require.True(t, h.m.Carries(r2))
	require.Equal(t, int64(1), h.m.Stats().Rejections)
}

func TestManagerAppendTwice(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(1, 40), newFakeSource(1, 40))
	r := h.reader(ModeGif)

	err := h.m.Append(r)
	require.Error(t, err)

	var already *alreadyAppendedError
	require.ErrorAs(t, err, &already)
	require.Equal(t, 1, h.opens)
}

func TestManagerPromotesAfterTerminalClip(t *testing.T) {
	broken := newFakeSource(2, 40)
	broken.failAt = 1

	for name, tc := range map[string]struct {
		first *fakeSource
		state State
	}{
		"error":    {first: broken, state: StateError},
		"finished": {first: newFakeSource(1, 40), state: StateFinished},
	} {
		t.Run(name, func(t *testing.T) {
			config := testConfig()
			config.MaxActivePerThread = 1

			second := newFakeSource(2, 40)
			h := newHarness(t, config, tc.first, second)

			r1 := h.reader(ModeVideo)
			r2 := h.reader(ModeVideo)
			require.Equal(t, 1, h.m.Queued())

			r1.Start(4, 4, 4, 4, RoundingNone)
			h.tick()
			h.tick()
			require.Equal(t, StateReading, r1.State())

			// The first frame played; the next read ends the clip.
			h.advance(40 * time.Millisecond)

			require.Equal(t, tc.state, r1.State())
			require.False(t, h.m.Carries(r1))
			require.False(t, second.isOpened())

			// The freed slot goes to the queued clip on the next tick.
			h.tick()
			require.Equal(t, 0, h.m.Queued())
			require.Equal(t, 1, h.m.LoadLevel())
			require.True(t, second.isOpened())
			require.True(t, h.m.Carries(r2))
		})
	}
}

func TestManagerReaderIsSingleUse(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(1, 40))
	r := h.reader(ModeGif)
	require.Equal(t, 0, r.ThreadIndex())

	r.Stop()
	require.Equal(t, -1, r.ThreadIndex())
	require.ErrorIs(t, h.m.Append(r), ErrReaderRetired)

	other := NewManager(testConfig(), func(Location, Mode) (Source, error) {
		return newFakeSource(1, 40), nil
	})
	require.ErrorIs(t, other.Append(r), ErrReaderRetired)
	require.Equal(t, 0, other.LoadLevel())
	require.Equal(t, 1, h.opens)

	// Stopping again does nothing.
	r.Stop()
}

func TestManagerOpenerError(t *testing.T) {
	broken := errors.New("no such clip")
	m := NewManager(testConfig(), func(Location, Mode) (Source, error) {
		return nil, broken
	})

	err := m.Append(NewReader(Location{Path: "missing"}, ModeVideo))
	require.ErrorIs(t, err, broken)
	require.Equal(t, 0, m.LoadLevel())
}

func TestManagerHandlesGoStale(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(1, 40), newFakeSource(1, 40))

	r1 := h.reader(ModeGif)
	old := h.handle(r1)
	r1.Stop()
	require.Nil(t, h.m.lookup(old))

	r2 := h.reader(ModeGif)
	reused := h.handle(r2)
	require.Equal(t, old.index, reused.index)
	require.NotEqual(t, old.gen, reused.gen)
	require.Nil(t, h.m.lookup(old))
	require.NotNil(t, h.m.lookup(reused))
}

func TestManagerStopWaitsForWorker(t *testing.T) {
	src := newFakeSource(3, 40)
	src.block = true
	src.entered = make(chan struct{})
	src.release = make(chan struct{})

	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()

	processed := make(chan struct{})

	go func() {
		defer close(processed)

		h.m.processAt(context.Background(), h.now)
	}()

	<-src.entered

	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		r.Stop()
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the worker was decoding")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	<-stopped
	<-processed

	require.True(t, src.isClosed())
	require.False(t, h.m.Carries(r))

	step := r.Step()
	n := len(drain(r))

	h.now = h.now.Add(time.Second)
	require.True(t, h.m.processAt(context.Background(), h.now).IsZero())
	require.Equal(t, step, r.Step())
	require.Empty(t, drain(r))
	require.LessOrEqual(t, n, notificationDepth)
}

func TestManagerFinish(t *testing.T) {
	src := newFakeSource(2, 40)
	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeGif)
	h.tick()

	h.m.Finish()
	require.True(t, src.isClosed())
	require.False(t, h.m.Carries(r))
	require.Equal(t, 0, h.m.LoadLevel())

	err := h.m.Append(NewReader(Location{Path: "late"}, ModeGif))
	require.ErrorIs(t, err, ErrManagerFinished)
	require.Equal(t, 1, h.opens)

	// Finish twice is fine.
	h.m.Finish()
}

func TestManagerRun(t *testing.T) {
	m := NewManager(testConfig(), func(Location, Mode) (Source, error) {
		return newFakeSource(4, 5), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	r := NewReader(Location{Path: "run"}, ModeGif)
	require.NoError(t, m.Append(r))
	require.Equal(t, 0, r.ThreadIndex())

	require.Eventually(t, func() bool { return r.Width() == 4 }, time.Second, time.Millisecond)

	r.Start(4, 4, 4, 4, RoundingNone)
	require.Eventually(t, r.Ready, time.Second, time.Millisecond)

	seen := map[int]bool{}

	require.Eventually(t, func() bool {
		if img := r.Current(4, 4, 4, 4, time.Now().UnixMilli()); img != nil {
			seen[frameIndex(t, img)] = true
		}

		return len(seen) == 4
	}, 2*time.Second, time.Millisecond)

	stats := m.Stats()
	require.Positive(t, stats.Frames)
	require.Positive(t, stats.DecodeP99)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.False(t, m.Carries(r))
}

func TestPoolBalancesManagers(t *testing.T) {
	config := testConfig()
	config.Threads = 2

	logger := zerolog.Nop()
	p := NewPool(config, &logger, func(Location, Mode) (Source, error) {
		return newFakeSource(1, 40), nil
	}, nil)

	require.Len(t, p.Managers(), 2)

	var threads []int

	for i := 0; i < 4; i++ {
		r := NewReader(Location{Path: "p"}, ModeGif)
		require.NoError(t, p.Append(r))

		threads = append(threads, r.ThreadIndex())
	}

	require.Equal(t, []int{0, 1, 0, 1}, threads)

	stats := p.Stats()
	require.Equal(t, 2, stats[0].Readers)
	require.Equal(t, 2, stats[1].Readers)

	p.Finish()
	require.ErrorIs(t, p.Append(NewReader(Location{Path: "p"}, ModeGif)), ErrManagerFinished)
}

func TestBackoff(t *testing.T) {
	b := newBackoff(1, BackoffConfig{Initial: 5 * time.Millisecond, Max: 80 * time.Millisecond, Multiplier: 2})

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}

	ms := time.Millisecond
	require.Equal(t, []time.Duration{5 * ms, 10 * ms, 20 * ms, 40 * ms, 80 * ms, 80 * ms}, got)

	b.Reset()
	require.Equal(t, 5*ms, b.Calculate())

	jittered := newBackoff(7, BackoffConfig{Initial: 100 * ms, Max: time.Second, Multiplier: 2, JitterPct: 0.4})
	for i := 0; i < 20; i++ {
		d := jittered.Calculate()
		require.GreaterOrEqual(t, d, 80*ms)
		require.LessOrEqual(t, d, 120*ms)
	}
}
