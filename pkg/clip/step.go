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
	"fmt"
	"sync/atomic"
)

// Phase is the coarse state of a reader's frame hand-off.
type Phase int

const (
	PhaseWaitingForDimensions Phase = iota
	PhaseWaitingForRequest
	PhaseWaitingForFirstFrame
	PhasePlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForDimensions:
		return "waitingForDimensions"
	case PhaseWaitingForRequest:
		return "waitingForRequest"
	case PhaseWaitingForFirstFrame:
		return "waitingForFirstFrame"
	case PhasePlaying:
		return "playing"
	}

	return fmt.Sprintf("Phase(%d)", int(p))
}

const numSlots = 3

const (
	stepWaitingForDimensions Step = -3
	stepWaitingForRequest    Step = -2
	stepWaitingForFirstFrame Step = -1
)

// Step is a snapshot of a reader's step counter. Every transition adds one:
//
//	from                   event               to                     by
//	WaitingForDimensions   dimensions read     WaitingForRequest      worker
//	WaitingForRequest      request supplied    WaitingForFirstFrame   either side
//	WaitingForFirstFrame   first frame         Playing(0)             worker
//	Playing(2k)            flip                Playing(2k+1)          worker
//	Playing(2k+1)          ack                 Playing(2k+2)          consumer
//
// While playing, an odd step means the worker published a frame the consumer
// has not acknowledged yet.
type Step int64

// Phase returns the phase of s.
func (s Step) Phase() Phase {
	switch {
	case s >= 0:
		return PhasePlaying
	case s == stepWaitingForFirstFrame:
		return PhaseWaitingForFirstFrame
	case s == stepWaitingForRequest:
		return PhaseWaitingForRequest
	}

	return PhaseWaitingForDimensions
}

// Epoch counts transitions since playback began; zero before that.
func (s Step) Epoch() int64 {
	if s < 0 {
		return 0
	}

	return int64(s)
}

// showIndex returns the slot the consumer may read.
func (s Step) showIndex() (int, bool) {
	if s < 0 {
		return 0, false
	}

	return int(((s + 1) / 2) % numSlots), true
}

// writeIndex returns the slot the worker may write.
func (s Step) writeIndex() (int, bool) {
	switch {
	case s == stepWaitingForFirstFrame:
		return 0, true
	case s < 0:
		return 0, false
	}

	return int(((s + 3) / 2) % numSlots), true
}

// pendingAck reports whether a published frame awaits the consumer's ack.
func (s Step) pendingAck() bool {
	return s >= 0 && s%2 == 1
}

func (s Step) String() string {
	if s >= 0 {
		return fmt.Sprintf("%s(%d)", PhasePlaying, int64(s))
	}

	return s.Phase().String()
}

type stepEvent int

const (
	eventDimensionsRead stepEvent = iota
	eventRequestSupplied
	eventFirstFrame
	eventFlip
	eventAck
)

// next returns the step that ev leads to from s, if ev is legal at s.
func (s Step) next(ev stepEvent) (Step, bool) {
	var legal bool

	switch ev {
	case eventDimensionsRead:
		legal = s == stepWaitingForDimensions
	case eventRequestSupplied:
		legal = s == stepWaitingForRequest
	case eventFirstFrame:
		legal = s == stepWaitingForFirstFrame
	case eventFlip:
		legal = s >= 0 && s%2 == 0
	case eventAck:
		legal = s.pendingAck()
	}

	if !legal {
		return s, false
	}

	return s + 1, true
}

// stepCounter is the atomic step shared by a reader and its worker.
type stepCounter struct {
	v atomic.Int64
}

func newStepCounter() *stepCounter {
	c := &stepCounter{}
	c.v.Store(int64(stepWaitingForDimensions))

	return c
}

func (c *stepCounter) load() Step {
	return Step(c.v.Load())
}

// advance applies ev if it is legal at the current step. It returns false,
// leaving the counter untouched, when it is not.
func (c *stepCounter) advance(ev stepEvent) bool {
	for {
		cur := c.load()

		n, ok := cur.next(ev)
		if !ok {
			return false
		}

		if c.v.CompareAndSwap(int64(cur), int64(n)) {
			return true
		}
	}
}
