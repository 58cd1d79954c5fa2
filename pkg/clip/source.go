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
)

// ErrEndOfStream is returned by Source.NextFrame when no frames remain.
var ErrEndOfStream = errors.New("end of stream")

// DecodeError wraps a failure to decode clip data.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SourceInfo describes a clip once its container has been opened.
type SourceInfo struct {
	Width      int
	Height     int
	DurationMs int64
	HasAudio   bool
}

// SourceFrame is one decoded frame at native resolution.
type SourceFrame struct {
	Image      image.Image
	PositionMs int64
	DelayMs    int64
}

// Source decodes the frames of one clip. A Source is used by a single
// goroutine at a time.
type Source interface {
	// Open reads the container and returns the native clip geometry.
	Open(ctx context.Context) (SourceInfo, error)
	// NextFrame decodes the next frame. At the end it returns ErrEndOfStream.
	NextFrame() (SourceFrame, error)
	// Seek repositions the stream so the next frame is at or before ms.
	Seek(ms int64) error
	// Close releases decoder resources.
	Close() error
}

// Opener creates a Source for a clip.
type Opener func(loc Location, mode Mode) (Source, error)
