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
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBrokenFrame = errors.New("broken frame")

// fakeSource yields uniformly coloured 4x4 frames whose red channel is the
// frame index.
type fakeSource struct {
	lock sync.Mutex

	info    SourceInfo
	frames  []SourceFrame
	pos     int
	openErr error
	failAt  int
	seeks   []int64
	closed  bool
	opened  bool

	// When block is set, the first NextFrame signals entered and waits for
	// release.
	block   bool
	entered chan struct{}
	release chan struct{}
}

func newFakeSource(n int, delayMs int64) *fakeSource {
	s := &fakeSource{
		info:   SourceInfo{Width: 4, Height: 4, DurationMs: int64(n) * delayMs},
		failAt: -1,
	}

	for i := 0; i < n; i++ {
		s.frames = append(s.frames, SourceFrame{
			Image:      solidImage(4, 4, uint8(i)),
			PositionMs: int64(i) * delayMs,
			DelayMs:    delayMs,
		})
	}

	return s
}

func solidImage(w, h int, red uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: red, A: 0xff})
		}
	}

	return img
}

// frameIndex reads back the frame index from the centre of a rendered image.
func frameIndex(t *testing.T, img image.Image) int {
	t.Helper()
	require.NotNil(t, img)

	b := img.Bounds()
	r, _, _, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()

	return int(r >> 8)
}

func (s *fakeSource) Open(context.Context) (SourceInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.opened = true

	return s.info, s.openErr
}

func (s *fakeSource) NextFrame() (SourceFrame, error) {
	s.lock.Lock()
	block := s.block
	s.block = false
	s.lock.Unlock()

	if block {
		close(s.entered)
		<-s.release
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pos == s.failAt {
		return SourceFrame{}, &DecodeError{Op: "frame", Err: errBrokenFrame}
	}

	if s.pos >= len(s.frames) {
		return SourceFrame{}, ErrEndOfStream
	}

	f := s.frames[s.pos]
	s.pos++

	return f, nil
}

func (s *fakeSource) Seek(ms int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.seeks = append(s.seeks, ms)
	s.pos = 0

	for i, f := range s.frames {
		if f.PositionMs <= ms {
			s.pos = i
		}
	}

	return nil
}

func (s *fakeSource) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true

	return nil
}

func (s *fakeSource) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.closed
}

func (s *fakeSource) isOpened() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.opened
}

func testConfig() *Config {
	c := ConfigDefault()
	c.Scaler = "nearest"

	return &c
}

// harness drives a manager by hand on a fake clock.
type harness struct {
	t   *testing.T
	m   *Manager
	now time.Time

	// opens counts opener calls.
	opens int
}

func newHarness(t *testing.T, config *Config, sources ...*fakeSource) *harness {
	t.Helper()

	h := &harness{t: t, now: time.Unix(1_700_000_000, 0)}

	opener := func(Location, Mode) (Source, error) {
		require.Less(t, h.opens, len(sources), "unexpected open")

		s := sources[h.opens]
		h.opens++

		return s, nil
	}

	h.m = newManager(0, config, opener, newMetrics(nil))
	h.m.now = func() time.Time { return h.now }

	return h
}

func (h *harness) tick() time.Time {
	return h.m.processAt(context.Background(), h.now)
}

func (h *harness) advance(d time.Duration) time.Time {
	h.now = h.now.Add(d)

	return h.tick()
}

func (h *harness) reader(mode Mode, opts ...ReaderOption) *Reader {
	h.t.Helper()

	r := NewReader(Location{Path: "clip"}, mode, opts...)
	require.NoError(h.t, h.m.Append(r))

	return r
}

func (h *harness) handle(r *Reader) Handle {
	h.t.Helper()

	e := h.m.entryFor(r)
	require.NotNil(h.t, e)

	return e.handle
}

func (h *harness) nowMs() int64 {
	return h.now.UnixMilli()
}

func drain(r *Reader) []Notification {
	var out []Notification

	for {
		select {
		case n := <-r.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}
