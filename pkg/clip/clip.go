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

// Package clip produces decoded, display-ready frames for animated clips.
//
// A consumer owns a Reader and pulls frames from it at its own pace. Decoding
// happens on Manager goroutines, each of which drives a set of decode workers.
// Reader and worker hand frames across a lock-free three-slot buffer whose
// ownership is encoded in a single atomic step counter.
package clip

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	lAttempts   = "attempts"
	lBackoff    = "backoff"
	lCount      = "count"
	lDelay      = "delay"
	lDrops      = "drops"
	lDurationMs = "durationMs"
	lHandle     = "handle"
	lHasAudio   = "hasAudio"
	lHeight     = "height"
	lLoad       = "loadLevel"
	lLocation   = "location"
	lMode       = "mode"
	lPlayID     = "playID"
	lPositionMs = "positionMs"
	lQueued     = "queued"
	lRequest    = "request"
	lResult     = "result"
	lSeekMs     = "seekMs"
	lStep       = "step"
	lThread     = "thread"
	lWidth      = "width"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// SetLogger replaces the package logger. NewPool calls it; tests may too.
func SetLogger(logger *zerolog.Logger) {
	log = logger.With().Str("pkg", "clip").Logger()
}

// Mode selects the playback semantics of a clip.
type Mode int

const (
	// ModeGif loops forever and may auto-pause when nobody is watching.
	ModeGif Mode = iota
	// ModeVideo follows the wall clock and finishes at end of stream.
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModeGif:
		return "gif"
	case ModeVideo:
		return "video"
	}

	return fmt.Sprintf("Mode(%d)", int(m))
}

// State is the lifecycle state of a Reader as seen by the consumer.
type State int32

const (
	StateReading State = iota
	StateError
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateError:
		return "error"
	case StateFinished:
		return "finished"
	}

	return fmt.Sprintf("State(%d)", int32(s))
}

// Notification tells the consumer that something visible changed.
type Notification int

const (
	// NotificationReinit: dimensions are known, or the first frame is ready.
	NotificationReinit Notification = iota
	// NotificationRepaint: a new frame is ready to be shown.
	NotificationRepaint
)

func (n Notification) String() string {
	if n == NotificationReinit {
		return "reinit"
	}

	return "repaint"
}

// ProcessResult is the outcome of one decode worker pass.
type ProcessResult int

const (
	ResultError ProcessResult = iota
	ResultStarted
	ResultFinished
	ResultPaused
	ResultRepaint
	ResultCopyFrame
	ResultWait
)

var processResultNames = [...]string{
	ResultError:     "error",
	ResultStarted:   "started",
	ResultFinished:  "finished",
	ResultPaused:    "paused",
	ResultRepaint:   "repaint",
	ResultCopyFrame: "copyFrame",
	ResultWait:      "wait",
}

func (r ProcessResult) String() string {
	if r >= 0 && int(r) < len(processResultNames) {
		return processResultNames[r]
	}

	return fmt.Sprintf("ProcessResult(%d)", int(r))
}

// Location identifies clip bytes: a file path, in-memory data, or both.
// Data wins when both are set.
type Location struct {
	Path string
	Data []byte
}

func (l Location) String() string {
	if len(l.Data) > 0 {
		return fmt.Sprintf("memory(%d bytes)", len(l.Data))
	}

	return l.Path
}

func (l Location) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", l.Path).Int("bytes", len(l.Data))
}
