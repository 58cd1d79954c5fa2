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
	"image"
	"time"

	"golang.org/x/image/draw"
)

// frameSink is a worker's view of the reader it produces frames for.
type frameSink interface {
	liveRequest() (FrameRequest, bool)
	frames() *frameBuffer
	setInfo(info SourceInfo)
	pauseState() pauseState
	autoPause() bool
}

type emptyClipError struct{}

func (*emptyClipError) Error() string {
	return "clip has no frames"
}

type noImageError struct{}

func (*noImageError) Error() string {
	return "source returned a frame without an image"
}

type heldFrame struct {
	original   image.Image
	positionMs int64
	due        time.Time
	delay      time.Duration
}

// worker decodes one clip into its reader's frame buffer. It is only ever
// driven by the goroutine of the manager that owns it.
type worker struct {
	config *Config
	scaler draw.Interpolator
	source Source
	sink   frameSink
	mode   Mode
	seekMs int64

	// observe receives the time spent decoding and rendering each frame.
	observe func(time.Duration)

	opened bool
	info   SourceInfo

	// pending is set while the write slot holds a decoded frame that has
	// not been published yet; pendingDue is when it should be shown.
	pending      bool
	pendingDue   time.Time
	pendingDelay time.Duration

	// Video timeline: position anchorPos plays at wall-clock anchor.
	anchor    time.Time
	anchorPos int64

	// GIF timeline: due time and delay of the last published frame.
	prevDue   time.Time
	prevDelay time.Duration

	paused   bool
	pausedAt time.Time

	blockedSince time.Time
	backoff      *backoff

	// held is a decoded frame displaced from the write slot by a re-render
	// while paused.
	held *heldFrame

	// deferred holds an error hit while decoding ahead. It is reported on the
	// pass after the frame before it was published.
	deferred error
	drops    int
}

func newWorker(config *Config, source Source, sink frameSink, mode Mode, seekMs int64, seed int64) *worker {
	return &worker{
		config:  config,
		scaler:  config.interpolator(),
		source:  source,
		sink:    sink,
		mode:    mode,
		seekMs:  seekMs,
		observe: func(time.Duration) {},
		backoff: newBackoff(seed, config.WaitBackoff),
	}
}

// process runs one pass and returns its result together with the time the
// worker next wants to run. A zero time means it waits to be kicked.
func (w *worker) process(ctx context.Context, now time.Time) (ProcessResult, time.Time) {
	if !w.opened {
		return w.open(ctx, now)
	}

	live, ok := w.sink.liveRequest()
	if !ok {
		return ResultPaused, time.Time{}
	}

	buf := w.sink.frames()
	buf.step.advance(eventRequestSupplied)

	switch w.sink.pauseState() {
	case pauseVideo:
		if !w.paused {
			w.paused = true
			w.pausedAt = now
		}

		return w.pausedPass(now, live)

	case pauseAutoGif:
		return w.pausedPass(now, live)

	case pauseNone:
	}

	w.restoreHeld(live)
	w.resume(now)

	if buf.step.load() == stepWaitingForFirstFrame {
		return w.firstFrame(now, live)
	}

	if w.deferred != nil && !w.pending {
		return w.fail(w.deferred)
	}

	show := buf.showSlot()
	stale := show.request != live

	if stale && !w.pending {
		if !buf.canFlip(live) {
			return w.blocked(now)
		}

		return w.copyFrame(now, live, show)
	}

	if !w.pending {
		if err := w.decodeNext(now, live); err != nil {
			return w.fail(err)
		}
	}

	write := buf.frameToWrite()
	if write.request != live {
		write.image = render(write.original, live, w.scaler)
		write.request = live
	}

	if !stale && now.Before(w.pendingDue) {
		return ResultWait, w.pendingDue
	}

	if !buf.canFlip(live) {
		return w.blocked(now)
	}

	w.publish(now)

	return ResultRepaint, w.decodeAhead(now, live)
}

// open reads the clip's dimensions and moves the reader past
// WaitingForDimensions.
func (w *worker) open(ctx context.Context, now time.Time) (ProcessResult, time.Time) {
	info, err := w.source.Open(ctx)
	if err != nil {
		return w.fail(err)
	}

	if w.seekMs > 0 {
		if err := w.source.Seek(w.seekMs); err != nil {
			log.Info().Int64(lSeekMs, w.seekMs).Err(err).Msg("error seeking, playing from start")
		}
	}

	w.opened = true
	w.info = info
	w.sink.setInfo(info)

	buf := w.sink.frames()
	buf.step.advance(eventDimensionsRead)

	log.Debug().Int(lWidth, info.Width).Int(lHeight, info.Height).
		Int64(lDurationMs, info.DurationMs).Bool(lHasAudio, info.HasAudio).
		Msg("clip opened")

	if _, ok := w.sink.liveRequest(); ok {
		buf.step.advance(eventRequestSupplied)

		return ResultStarted, now
	}

	return ResultStarted, time.Time{}
}

// firstFrame decodes and publishes slot 0.
func (w *worker) firstFrame(now time.Time, live FrameRequest) (ProcessResult, time.Time) {
	if !w.pending {
		if err := w.decodeNext(now, live); err != nil {
			return w.fail(err)
		}
	}

	buf := w.sink.frames()

	write := buf.frameToWrite()
	if write.request != live {
		write.image = render(write.original, live, w.scaler)
		write.request = live
	}

	w.anchor = now
	w.anchorPos = write.positionMs
	w.publish(now)

	return ResultStarted, w.decodeAhead(now, live)
}

// copyFrame re-renders the shown frame at the live geometry into the write
// slot and publishes it.
func (w *worker) copyFrame(now time.Time, live FrameRequest, show *frame) (ProcessResult, time.Time) {
	write := w.sink.frames().frameToWrite()
	write.original = show.original
	write.image = render(show.original, live, w.scaler)
	write.request = live
	write.positionMs = show.positionMs

	w.pendingDue = now
	w.pendingDelay = w.prevDelay
	w.publish(now)

	return ResultCopyFrame, now
}

// pausedPass keeps a paused clip drawable: a shown frame whose geometry went
// stale is re-rendered at the live request without advancing playback.
func (w *worker) pausedPass(now time.Time, live FrameRequest) (ProcessResult, time.Time) {
	buf := w.sink.frames()

	show := buf.showSlot()
	if show == nil || show.request == live {
		return ResultPaused, now.Add(w.config.PausedDelay)
	}

	if !buf.canFlip(live) {
		return ResultWait, now.Add(w.backoff.Next())
	}

	if w.pending {
		write := buf.frameToWrite()
		w.held = &heldFrame{
			original:   write.original,
			positionMs: write.positionMs,
			due:        w.pendingDue,
			delay:      w.pendingDelay,
		}
		w.pending = false
	}

	return w.copyFrame(now, live, show)
}

// restoreHeld puts a frame set aside by pausedPass back into the write slot.
func (w *worker) restoreHeld(live FrameRequest) {
	if w.held == nil || w.pending {
		return
	}

	write := w.sink.frames().frameToWrite()
	write.original = w.held.original
	write.image = render(w.held.original, live, w.scaler)
	write.request = live
	write.positionMs = w.held.positionMs

	w.pending = true
	w.pendingDue = w.held.due
	w.pendingDelay = w.held.delay
	w.held = nil
}

// publish hands the write slot to the consumer.
func (w *worker) publish(now time.Time) {
	buf := w.sink.frames()
	buf.frameToWrite().displayed.Store(false)
	buf.moveToNextWrite()

	if now.Sub(w.pendingDue) > w.pendingDelay {
		w.prevDue = now
	} else {
		w.prevDue = w.pendingDue
	}

	w.prevDelay = w.pendingDelay
	w.pending = false
	w.blockedSince = time.Time{}
	w.backoff.Reset()
}

// decodeAhead fills the next write slot right after a publish and returns
// when to run again.
func (w *worker) decodeAhead(now time.Time, live FrameRequest) time.Time {
	if err := w.decodeNext(now, live); err != nil {
		w.deferred = err

		return now.Add(w.prevDelay)
	}

	return w.pendingDue
}

// blocked handles a frame the consumer is not ready to take.
func (w *worker) blocked(now time.Time) (ProcessResult, time.Time) {
	if w.blockedSince.IsZero() {
		w.blockedSince = now
	}

	if w.mode == ModeGif && w.config.AutoPauseGifAfter > 0 &&
		now.Sub(w.blockedSince) >= w.config.AutoPauseGifAfter && w.sink.autoPause() {
		log.Debug().Dur(lDelay, now.Sub(w.blockedSince)).Msg("auto-pausing gif")

		w.blockedSince = time.Time{}
		w.backoff.Reset()

		return ResultPaused, now.Add(w.config.PausedDelay)
	}

	delay := w.backoff.Next()

	log.Trace().Dur(lBackoff, delay).Int(lAttempts, w.backoff.Attempts()).Msg("frame blocked")

	return ResultWait, now.Add(delay)
}

// resume shifts the video timeline past a pause.
func (w *worker) resume(now time.Time) {
	if !w.paused {
		return
	}

	d := now.Sub(w.pausedAt)
	w.anchor = w.anchor.Add(d)
	w.pendingDue = w.pendingDue.Add(d)
	w.paused = false
}

func (w *worker) fail(err error) (ProcessResult, time.Time) {
	if errors.Is(err, ErrEndOfStream) {
		return ResultFinished, time.Time{}
	}

	log.Info().Err(err).Msg("clip decode failed")

	return ResultError, time.Time{}
}

// decodeNext decodes the next frame into the write slot. Late video frames
// are skipped, at most MaxDropsPerTick of them.
func (w *worker) decodeNext(now time.Time, live FrameRequest) error {
	buf := w.sink.frames()
	drops := 0

	for {
		start := time.Now()

		f, err := w.nextFrame()
		if err != nil {
			return err
		}

		if f.Image == nil {
			return &DecodeError{Op: "frame", Err: &noImageError{}}
		}

		var due time.Time

		delay := time.Duration(f.DelayMs) * time.Millisecond

		switch w.mode {
		case ModeVideo:
			if w.info.DurationMs > 0 && f.PositionMs > w.info.DurationMs {
				f.PositionMs = w.info.DurationMs
			}

			due = w.anchor.Add(time.Duration(f.PositionMs-w.anchorPos) * time.Millisecond)

			if buf.step.load() >= 0 && now.Sub(due) > delay && drops < w.config.MaxDropsPerTick {
				drops++
				w.drops++

				log.Trace().Int64(lPositionMs, f.PositionMs).Int(lDrops, w.drops).Msg("dropping late frame")

				continue
			}

		case ModeGif:
			due = w.prevDue.Add(w.prevDelay)
		}

		write := buf.frameToWrite()
		write.original = f.Image
		write.image = render(f.Image, live, w.scaler)
		write.request = live
		write.positionMs = f.PositionMs

		w.pending = true
		w.pendingDue = due
		w.pendingDelay = delay

		w.observe(time.Since(start))

		return nil
	}
}

// nextFrame reads a frame, looping GIFs at end of stream.
func (w *worker) nextFrame() (SourceFrame, error) {
	f, err := w.source.NextFrame()
	if err == nil || w.mode != ModeGif || !errors.Is(err, ErrEndOfStream) {
		return f, err
	}

	if err := w.source.Seek(0); err != nil {
		return SourceFrame{}, &DecodeError{Op: "rewind", Err: err}
	}

	f, err = w.source.NextFrame()
	if errors.Is(err, ErrEndOfStream) {
		return SourceFrame{}, &DecodeError{Op: "rewind", Err: &emptyClipError{}}
	}

	if err != nil {
		return SourceFrame{}, fmt.Errorf("after rewind: %w", err)
	}

	return f, nil
}

func (w *worker) close() {
	if err := w.source.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing source")
	}
}
