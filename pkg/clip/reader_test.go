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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReaderGifPlayback(t *testing.T) {
	src := newFakeSource(3, 100)
	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeGif)

	require.Equal(t, PhaseWaitingForDimensions, r.Step().Phase())
	require.Nil(t, r.Current(4, 4, 4, 4, h.nowMs()))

	// Dimensions are read even before anyone asks for frames.
	require.True(t, h.tick().IsZero())
	require.Equal(t, 4, r.Width())
	require.Equal(t, 4, r.Height())
	require.Equal(t, PhaseWaitingForRequest, r.Step().Phase())
	require.False(t, r.Started())
	require.Equal(t, []Notification{NotificationReinit}, drain(r))

	r.Start(4, 4, 4, 4, RoundingNone)
	require.True(t, r.Started())
	require.False(t, r.Ready())

	h.tick()
	require.True(t, r.Ready())
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.True(t, r.CurrentDisplayed())

	h.advance(100 * time.Millisecond)
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, int64(100), r.PositionMs())

	h.advance(100 * time.Millisecond)
	require.Equal(t, 2, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	// GIFs loop.
	h.advance(100 * time.Millisecond)
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, []int64{0}, src.seeks)
	require.Equal(t, StateReading, r.State())
}

func TestReaderStartIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(2, 50))
	r := h.reader(ModeGif)
	h.tick()

	r.Start(4, 4, 4, 4, RoundingNone)
	step := r.Step()
	r.Start(4, 4, 4, 4, RoundingNone)
	require.Equal(t, step, r.Step())

	req, ok := r.liveRequest()
	require.True(t, ok)
	require.Equal(t, FrameRequest{Factor: 1, FrameWidth: 4, FrameHeight: 4, OuterWidth: 4, OuterHeight: 4}, req)
}

func TestReaderStartBeforeDimensions(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(2, 50))
	r := h.reader(ModeGif)

	r.Start(4, 4, 4, 4, RoundingSmall)
	require.False(t, r.Started())

	// The worker supplies the request itself once dimensions are known.
	require.False(t, h.tick().IsZero())
	require.True(t, r.Started())

	h.tick()
	require.True(t, r.Ready())
}

func TestReaderPeekDoesNotAdvance(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(3, 10))
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, 0)))
	require.False(t, r.CurrentDisplayed())

	h.advance(time.Second)
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, 0)))
}

func TestReaderGeometryChangeRepaintsPendingFrame(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(3, 100))
	r := h.reader(ModeGif, WithScaleFactor(2))
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	img := r.Current(4, 4, 4, 4, h.nowMs())
	require.Equal(t, 8, img.Bounds().Dx(), "scale factor applies")

	require.Nil(t, r.Current(6, 6, 6, 6, h.nowMs()))
	drain(r)

	// The pending frame is re-rendered at the new size and shown at once.
	h.tick()
	img = r.Current(6, 6, 6, 6, h.nowMs())
	require.NotNil(t, img)
	require.Equal(t, 12, img.Bounds().Dx())
	require.Equal(t, 1, frameIndex(t, img))
	require.Equal(t, []Notification{NotificationRepaint}, drain(r))
}

func TestReaderGeometryChangeCopiesShownFrame(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(3, 100))
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	// Pretend the next frame has not been decoded yet.
	e := h.m.entryFor(r)
	e.worker.pending = false

	require.Nil(t, r.Current(8, 8, 8, 8, h.nowMs()))

	h.tick()
	require.Equal(t, int64(1), h.m.Stats().Results[ResultCopyFrame])

	img := r.Current(8, 8, 8, 8, h.nowMs())
	require.NotNil(t, img)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 0, frameIndex(t, img))
}

func TestReaderBlockedFrameWaitsWithBackoff(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(3, 100))
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	hd := h.handle(r)

	// Nobody marks frame 0 displayed, so frame 1 cannot be published.
	h.advance(100 * time.Millisecond)

	for _, want := range []time.Duration{5, 10, 20} {
		wake, ok := h.m.wakeAt(hd)
		require.True(t, ok)
		require.Equal(t, want*time.Millisecond, wake.Sub(h.now))

		h.now = wake
		h.tick()
	}

	require.Equal(t, int64(4), h.m.Stats().Results[ResultWait])
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	// The pending frame is published once the consumer catches up.
	h.advance(40 * time.Millisecond)
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	// A successful publish resets the backoff.
	require.Equal(t, 0, h.m.entryFor(r).worker.backoff.Attempts())
}

func TestReaderGifAutoPause(t *testing.T) {
	config := testConfig()
	config.AutoPauseGifAfter = 50 * time.Millisecond

	h := newHarness(t, config, newFakeSource(3, 10))
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	for i := 0; i < 10 && !r.AutoPausedGif(); i++ {
		h.advance(20 * time.Millisecond)
	}

	require.True(t, r.AutoPausedGif())
	require.False(t, r.VideoPaused())

	wake, ok := h.m.wakeAt(h.handle(r))
	require.True(t, ok)
	require.Equal(t, config.PausedDelay, wake.Sub(h.now))

	// Drawing again resumes.
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.False(t, r.AutoPausedGif())

	h.tick()
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
}

func TestReaderAutoPausedGifResize(t *testing.T) {
	config := testConfig()
	config.AutoPauseGifAfter = 50 * time.Millisecond

	h := newHarness(t, config, newFakeSource(3, 10))
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	for i := 0; i < 10 && !r.AutoPausedGif(); i++ {
		h.advance(20 * time.Millisecond)
	}

	require.True(t, r.AutoPausedGif())

	// Drawing at a new size resumes even though nothing matches it yet.
	require.Nil(t, r.Current(8, 8, 8, 8, h.nowMs()))
	require.False(t, r.AutoPausedGif())

	h.tick()

	img := r.Current(8, 8, 8, 8, h.nowMs())
	require.NotNil(t, img)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 1, frameIndex(t, img))
}

func TestReaderPausedVideoResize(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(5, 40))
	r := h.reader(ModeVideo)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	r.PauseResumeVideo()
	h.advance(10 * time.Millisecond)

	require.Nil(t, r.Current(8, 8, 8, 8, h.nowMs()))
	drain(r)

	// The shown frame is re-rendered at the new size without playing on.
	h.tick()
	require.Equal(t, int64(1), h.m.Stats().Results[ResultCopyFrame])
	require.Equal(t, []Notification{NotificationRepaint}, drain(r))

	img := r.Current(8, 8, 8, 8, h.nowMs())
	require.NotNil(t, img)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 0, frameIndex(t, img))

	h.advance(time.Second)
	require.Equal(t, 0, frameIndex(t, r.Current(8, 8, 8, 8, h.nowMs())))
	require.True(t, r.VideoPaused())

	// The frame decoded before the pause is not lost. 10ms were played,
	// so it is due 30ms after resume.
	r.PauseResumeVideo()
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(8, 8, 8, 8, h.nowMs())))

	h.advance(30 * time.Millisecond)
	img = r.Current(8, 8, 8, 8, h.nowMs())
	require.Equal(t, 1, frameIndex(t, img))
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, int64(40), r.PositionMs())
}

func TestReaderVideoPositionBoundedByDuration(t *testing.T) {
	src := newFakeSource(3, 40)
	src.info.DurationMs = 50

	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeVideo)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	var positions []int64

	for _, d := range []time.Duration{0, 40, 10} {
		h.advance(d * time.Millisecond)
		require.NotNil(t, r.Current(4, 4, 4, 4, h.nowMs()))

		positions = append(positions, r.PositionMs())
	}

	require.Equal(t, []int64{0, 40, 50}, positions)
	require.Equal(t, 2, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
}

func TestReaderVideoFollowsWallClock(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(10, 40))
	r := h.reader(ModeVideo)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, int64(400), r.DurationMs())

	// Before its timestamp the next frame is held back.
	h.advance(20 * time.Millisecond)
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	h.advance(20 * time.Millisecond)
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, int64(40), r.PositionMs())

	// After a stall, late frames are skipped to catch up.
	h.advance(160 * time.Millisecond)
	require.Equal(t, 2, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	h.tick()
	require.Equal(t, 4, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, int64(160), r.PositionMs())
}

func TestReaderVideoPauseShiftsTimeline(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeSource(5, 40))
	r := h.reader(ModeVideo)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	r.PauseResumeVideo()
	require.True(t, r.VideoPaused())

	h.advance(10 * time.Millisecond)
	h.advance(time.Second)
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	r.PauseResumeVideo()
	require.False(t, r.VideoPaused())

	// 10ms were played before the pause, so frame 1 is due 30ms after resume.
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	h.advance(30 * time.Millisecond)
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
}

func TestReaderGifIgnoresVideoPause(t *testing.T) {
	r := NewReader(Location{Path: "x.gif"}, ModeGif)
	r.PauseResumeVideo()
	require.False(t, r.VideoPaused())
}

func TestReaderVideoFinishes(t *testing.T) {
	src := newFakeSource(2, 40)
	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeVideo, WithSeekMs(0))
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()
	require.Equal(t, 0, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))

	h.advance(40 * time.Millisecond)
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, StateReading, r.State())

	h.advance(40 * time.Millisecond)
	require.Equal(t, StateFinished, r.State())
	require.False(t, h.m.Carries(r))
	require.True(t, src.isClosed())
	require.Equal(t, 0, h.m.LoadLevel())
	require.Equal(t, -1, r.ThreadIndex())
	require.ErrorIs(t, h.m.Append(r), ErrReaderRetired)

	// The last frame stays available.
	require.Equal(t, 1, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
}

func TestReaderDecodeError(t *testing.T) {
	src := newFakeSource(3, 40)
	src.failAt = 0

	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeGif)
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	drain(r)

	h.tick()
	require.Equal(t, StateError, r.State())
	require.False(t, r.Ready())
	require.Nil(t, r.Current(4, 4, 4, 4, h.nowMs()))
	require.Equal(t, []Notification{NotificationRepaint}, drain(r))
	require.True(t, src.isClosed())
}

func TestReaderOpenError(t *testing.T) {
	src := newFakeSource(1, 40)
	src.openErr = &DecodeError{Op: "open", Err: errBrokenFrame}

	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeVideo)
	h.tick()

	require.Equal(t, StateError, r.State())
	require.Equal(t, PhaseWaitingForDimensions, r.Step().Phase())
}

func TestReaderSeekPosition(t *testing.T) {
	src := newFakeSource(5, 40)
	h := newHarness(t, testConfig(), src)
	r := h.reader(ModeVideo, WithSeekMs(80))
	r.Start(4, 4, 4, 4, RoundingNone)
	h.tick()
	h.tick()

	require.Equal(t, int64(80), r.SeekPositionMs())
	require.Equal(t, []int64{80}, src.seeks)
	require.Equal(t, 2, frameIndex(t, r.Current(4, 4, 4, 4, h.nowMs())))
	require.Equal(t, int64(80), r.PositionMs())
}

func TestReaderNotificationsDropOldest(t *testing.T) {
	r := NewReader(Location{Path: "a"}, ModeGif)
	r.notify(NotificationReinit)
	r.notify(NotificationRepaint)
	r.notify(NotificationRepaint)

	require.Equal(t, []Notification{NotificationRepaint, NotificationRepaint}, drain(r))
}

func TestReaderAccessors(t *testing.T) {
	r := NewReader(Location{Data: []byte("GIF89a")}, ModeVideo, WithSeekMs(-5))

	require.Equal(t, ModeVideo, r.Mode())
	require.Equal(t, int64(0), r.SeekPositionMs())
	require.Equal(t, -1, r.ThreadIndex())
	require.False(t, r.Autoplay())
	r.SetAutoplay()
	require.True(t, r.Autoplay())
	require.NotEqual(t, r.PlayID(), NewReader(Location{}, ModeGif).PlayID())
	require.Nil(t, r.FrameOriginal())
	require.Equal(t, "memory(6 bytes)", r.Location().String())

	// Stop without a manager is a no-op.
	r.Stop()
}
