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
)

// frame is one slot of the hand-off buffer. Only the side that currently owns
// the slot according to the step counter may write it; displayed is the one
// field the consumer sets on a slot it is showing.
type frame struct {
	original   image.Image
	image      image.Image
	request    FrameRequest
	positionMs int64
	displayed  atomic.Bool
}

// frameBuffer is the three-slot buffer shared by a reader and its worker.
type frameBuffer struct {
	step   *stepCounter
	frames [numSlots]frame
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{step: newStepCounter()}
}

// frameToShow returns the slot to display, or nil if nothing is published or
// the published frame was rendered for a different request than live.
func (b *frameBuffer) frameToShow(live FrameRequest) *frame {
	f := b.showSlot()
	if f == nil || f.request != live {
		return nil
	}

	return f
}

// showSlot returns the shown slot regardless of its request.
func (b *frameBuffer) showSlot() *frame {
	i, ok := b.step.load().showIndex()
	if !ok {
		return nil
	}

	return &b.frames[i]
}

// frameToWrite returns the slot the worker may fill, or nil before a request.
func (b *frameBuffer) frameToWrite() *frame {
	i, ok := b.step.load().writeIndex()
	if !ok {
		return nil
	}

	return &b.frames[i]
}

// canFlip reports whether the worker may publish its write slot now.
func (b *frameBuffer) canFlip(live FrameRequest) bool {
	s := b.step.load()
	if s == stepWaitingForFirstFrame {
		return true
	}

	if s < 0 || s%2 != 0 {
		return false
	}

	show := b.showSlot()

	return show.displayed.Load() || show.request != live
}

// moveToNextWrite publishes the write slot: the first frame, or a flip.
func (b *frameBuffer) moveToNextWrite() bool {
	if b.step.load() == stepWaitingForFirstFrame {
		return b.step.advance(eventFirstFrame)
	}

	return b.step.advance(eventFlip)
}

// moveToNextShow acknowledges a published frame.
func (b *frameBuffer) moveToNextShow() bool {
	return b.step.advance(eventAck)
}
