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

package ffsrc

import (
	"math"
	"math/big"

	"github.com/asticode/go-astiav"
)

const noPTS = int64(math.MinInt64)

// ptsToMs converts pts in timeBase units to milliseconds.
func ptsToMs(pts int64, timeBase astiav.Rational) int64 {
	if pts == astiav.NoPtsValue {
		return noPTS
	}

	if timeBase.Den() == 0 {
		return 0
	}

	// Big ints so 90kHz timestamps on long clips don't overflow.
	ms := new(big.Int).Mul(big.NewInt(pts), big.NewInt(1000))
	ms.Mul(ms, big.NewInt(int64(timeBase.Num()))).Div(ms, big.NewInt(int64(timeBase.Den())))

	return ms.Int64()
}

// msToPts converts milliseconds to timeBase units, rounding to nearest.
func msToPts(ms int64, timeBase astiav.Rational) int64 {
	if timeBase.Num() == 0 {
		return 0
	}

	return int64(float64(ms)/1000*float64(timeBase.Den())/float64(timeBase.Num()) + 0.5)
}

// frameDelayMs is the display time of one frame at rate fps.
func frameDelayMs(fps astiav.Rational) int64 {
	const fallback = 40

	if fps.Num() <= 0 || fps.Den() <= 0 {
		return fallback
	}

	d := int64(1000*fps.Den()) / int64(fps.Num())
	if d <= 0 {
		return 1
	}

	return d
}
