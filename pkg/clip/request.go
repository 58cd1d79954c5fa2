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

	"github.com/rs/zerolog"
)

// Rounding is the corner treatment applied to a rendered frame.
type Rounding int

const (
	RoundingNone Rounding = iota
	RoundingSmall
	RoundingLarge
	RoundingEllipse
)

func (r Rounding) String() string {
	switch r {
	case RoundingNone:
		return "none"
	case RoundingSmall:
		return "small"
	case RoundingLarge:
		return "large"
	case RoundingEllipse:
		return "ellipse"
	}

	return fmt.Sprintf("Rounding(%d)", int(r))
}

// ParseRounding is the inverse of Rounding.String.
func ParseRounding(s string) (Rounding, error) {
	for r := RoundingNone; r <= RoundingEllipse; r++ {
		if r.String() == s {
			return r, nil
		}
	}

	return RoundingNone, fmt.Errorf("unknown rounding %q", s)
}

// radius returns the corner radius in logical pixels.
func (r Rounding) radius() int {
	switch r {
	case RoundingSmall:
		return 4
	case RoundingLarge:
		return 12
	}

	return 0
}

// FrameRequest is the geometry a consumer wants frames rendered at.
// Frame dimensions are the scaled clip; outer dimensions are the box the
// clip is centred in. All sizes are logical pixels; Factor converts them to
// physical pixels.
type FrameRequest struct {
	Factor      int
	FrameWidth  int
	FrameHeight int
	OuterWidth  int
	OuterHeight int
	Rounding    Rounding
}

// Valid reports whether r carries a usable geometry.
func (r FrameRequest) Valid() bool {
	return r.Factor > 0
}

func (r FrameRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Int("factor", r.Factor).
		Int("frameWidth", r.FrameWidth).
		Int("frameHeight", r.FrameHeight).
		Int("outerWidth", r.OuterWidth).
		Int("outerHeight", r.OuterHeight).
		Stringer("rounding", r.Rounding)
}

// physical returns the frame and outer sizes in device pixels. Unset frame
// dimensions fall back to the native clip size, unset outer ones to the frame.
func (r FrameRequest) physical(nativeW, nativeH int) (fw, fh, ow, oh int) {
	fw, fh = r.FrameWidth*r.Factor, r.FrameHeight*r.Factor
	if fw <= 0 || fh <= 0 {
		fw, fh = nativeW, nativeH
	}

	ow, oh = r.OuterWidth*r.Factor, r.OuterHeight*r.Factor
	if ow <= 0 || oh <= 0 {
		ow, oh = fw, fh
	}

	return fw, fh, ow, oh
}
