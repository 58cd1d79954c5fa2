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
	"image"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// pauseState merges the two mutually exclusive pause flavours: GIFs pause
// themselves when nobody draws them; videos pause on request.
type pauseState int32

const (
	pauseNone pauseState = iota
	pauseAutoGif
	pauseVideo
)

const notificationDepth = 2

//nolint:gochecknoglobals // process-wide playback id sequence
var playIDs atomic.Uint64

// ReaderOption configures a Reader at construction.
type ReaderOption func(*Reader)

// WithSeekMs starts playback at the given position.
func WithSeekMs(ms int64) ReaderOption {
	return func(r *Reader) {
		if ms > 0 {
			r.seekMs = ms
		}
	}
}

// WithScaleFactor sets the device pixel ratio applied to every request.
func WithScaleFactor(factor int) ReaderOption {
	return func(r *Reader) {
		if factor > 0 {
			r.factor = factor
		}
	}
}

// Reader is the consumer's handle on a clip. All methods are safe to call
// from one consumer goroutine while a Manager decodes in the background.
// Images returned by the Reader are never modified afterwards.
type Reader struct {
	location Location
	mode     Mode
	seekMs   int64
	factor   int
	playID   uint64

	buf      *frameBuffer
	live     atomic.Pointer[FrameRequest]
	state    atomic.Int32
	pause    atomic.Int32
	autoplay atomic.Bool

	width      atomic.Int32
	height     atomic.Int32
	durationMs atomic.Int64
	hasAudio   atomic.Bool
	positionMs atomic.Int64

	manager     atomic.Pointer[Manager]
	threadIndex atomic.Int32
	retired     atomic.Bool

	notifyC chan Notification
}

// NewReader returns a Reader for the clip at loc. It does nothing until it
// is appended to a Manager or Pool. A Reader plays once: after Stop, or after
// it reaches Error or Finished, it cannot be appended again.
func NewReader(loc Location, mode Mode, opts ...ReaderOption) *Reader {
	r := &Reader{
		location: loc,
		mode:     mode,
		factor:   1,
		playID:   playIDs.Add(1),
		buf:      newFrameBuffer(),
		notifyC:  make(chan Notification, notificationDepth),
	}

	r.threadIndex.Store(-1)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Reader) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64(lPlayID, r.playID).
		Stringer(lMode, r.mode).
		Stringer(lLocation, r.location).
		Stringer(lStep, r.buf.step.load())
}

// Start supplies the geometry frames should be rendered at. Calling it again
// with the same geometry does nothing.
func (r *Reader) Start(frameWidth, frameHeight, outerWidth, outerHeight int, rounding Rounding) {
	req := FrameRequest{
		Factor:      r.factor,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		OuterWidth:  outerWidth,
		OuterHeight: outerHeight,
		Rounding:    rounding,
	}

	if cur := r.live.Load(); cur != nil && *cur == req {
		return
	}

	r.live.Store(&req)
	r.buf.step.advance(eventRequestSupplied)

	if m := r.manager.Load(); m != nil {
		m.Start(r)
	}
}

// Current returns the frame to draw at the given geometry, or nil if none is
// ready for it yet. A non-zero nowMs marks the frame as displayed, which lets
// the worker move on; zero peeks.
//
// A geometry different from the last one returns nil: the worker re-renders
// the shown frame at the new size on its next pass, paused or not, and sends
// a Repaint when it is ready.
func (r *Reader) Current(frameWidth, frameHeight, outerWidth, outerHeight int, nowMs int64) image.Image {
	live := r.live.Load()
	if live == nil {
		return nil
	}

	// Drawing at all is what resumes an auto-paused GIF.
	if nowMs != 0 && r.pause.CompareAndSwap(int32(pauseAutoGif), int32(pauseNone)) {
		log.Debug().Uint64(lPlayID, r.playID).Msg("resuming auto-paused gif")
		r.kick()
	}

	req := FrameRequest{
		Factor:      live.Factor,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		OuterWidth:  outerWidth,
		OuterHeight: outerHeight,
		Rounding:    live.Rounding,
	}

	if req != *live {
		r.live.Store(&req)
		r.buf.moveToNextShow()
		r.kick()

		return nil
	}

	f := r.buf.frameToShow(req)
	if f == nil {
		// A stale frame must be acknowledged or the worker cannot replace it.
		if r.buf.showSlot() != nil {
			r.buf.moveToNextShow()
		}

		return nil
	}

	if nowMs == 0 {
		return f.image
	}

	f.displayed.Store(true)
	r.positionMs.Store(f.positionMs)
	r.buf.moveToNextShow()

	return f.image
}

// Started reports whether a request has been supplied and dimensions read.
func (r *Reader) Started() bool {
	s := r.buf.step.load()

	return s == stepWaitingForFirstFrame || s >= 0
}

// Ready reports whether a frame has been published.
func (r *Reader) Ready() bool {
	return r.buf.step.load() >= 0
}

// Step returns a snapshot of the hand-off state.
func (r *Reader) Step() Step {
	return r.buf.step.load()
}

// PauseResumeVideo toggles the pause of a video clip. GIFs ignore it.
func (r *Reader) PauseResumeVideo() {
	if r.mode != ModeVideo {
		return
	}

	for {
		cur := r.pause.Load()

		next := int32(pauseVideo)
		if pauseState(cur) == pauseVideo {
			next = int32(pauseNone)
		}

		if r.pause.CompareAndSwap(cur, next) {
			break
		}
	}

	r.kick()
}

// Stop detaches the reader from its manager. When Stop returns the decode
// worker no longer touches the reader.
func (r *Reader) Stop() {
	if m := r.manager.Load(); m != nil {
		m.Stop(r)
	}
}

func (r *Reader) State() State { return State(r.state.Load()) }
func (r *Reader) Mode() Mode { return r.mode }
func (r *Reader) Location() Location { return r.location }
func (r *Reader) HasAudio() bool { return r.hasAudio.Load() }
func (r *Reader) DurationMs() int64 { return r.durationMs.Load() }
func (r *Reader) SeekPositionMs() int64 { return r.seekMs }
func (r *Reader) PlayID() uint64 { return r.playID }
func (r *Reader) Width() int { return int(r.width.Load()) }
func (r *Reader) Height() int { return int(r.height.Load()) }
func (r *Reader) SetAutoplay() { r.autoplay.Store(true) }
func (r *Reader) Autoplay() bool { return r.autoplay.Load() }

// PositionMs is the position of the frame last marked displayed.
func (r *Reader) PositionMs() int64 {
	return r.positionMs.Load()
}

// ThreadIndex is the index of the manager decoding this clip, or -1.
func (r *Reader) ThreadIndex() int {
	return int(r.threadIndex.Load())
}

// FrameOriginal returns the native-resolution image of the shown frame.
func (r *Reader) FrameOriginal() image.Image {
	if show := r.buf.showSlot(); show != nil {
		return show.original
	}

	return nil
}

// CurrentDisplayed reports whether the shown frame was marked displayed.
func (r *Reader) CurrentDisplayed() bool {
	if show := r.buf.showSlot(); show != nil {
		return show.displayed.Load()
	}

	return false
}

func (r *Reader) AutoPausedGif() bool {
	return pauseState(r.pause.Load()) == pauseAutoGif
}

func (r *Reader) VideoPaused() bool {
	return pauseState(r.pause.Load()) == pauseVideo
}

// Notifications delivers Reinit and Repaint hints. The channel is lossy:
// when the consumer falls behind, older hints are dropped.
func (r *Reader) Notifications() <-chan Notification {
	return r.notifyC
}

func (r *Reader) kick() {
	if m := r.manager.Load(); m != nil {
		m.Update(r)
	}
}

// notify sends n, dropping the oldest hint if the channel is full. Only the
// owning manager goroutine sends.
func (r *Reader) notify(n Notification) {
	select {
	case r.notifyC <- n:
		return
	default:
	}

	select {
	case <-r.notifyC:
	default:
	}

	select {
	case r.notifyC <- n:
	default:
	}
}

// retire detaches r for good. Called by the manager as it unlinks r.
func (r *Reader) retire() {
	r.retired.Store(true)
	r.manager.Store(nil)
	r.threadIndex.Store(-1)
}

func (r *Reader) setError() {
	r.state.CompareAndSwap(int32(StateReading), int32(StateError))
}

func (r *Reader) setFinished() {
	r.state.CompareAndSwap(int32(StateReading), int32(StateFinished))
}

// The methods below are the worker's view of the reader.

func (r *Reader) liveRequest() (FrameRequest, bool) {
	if p := r.live.Load(); p != nil {
		return *p, true
	}

	return FrameRequest{}, false
}

func (r *Reader) frames() *frameBuffer {
	return r.buf
}

func (r *Reader) setInfo(info SourceInfo) {
	r.width.Store(int32(info.Width))   //nolint:gosec // Clip dimensions fit.
	r.height.Store(int32(info.Height)) //nolint:gosec // Clip dimensions fit.
	r.durationMs.Store(info.DurationMs)
	r.hasAudio.Store(info.HasAudio)
}

func (r *Reader) pauseState() pauseState {
	return pauseState(r.pause.Load())
}

func (r *Reader) autoPause() bool {
	return r.pause.CompareAndSwap(int32(pauseNone), int32(pauseAutoGif))
}
