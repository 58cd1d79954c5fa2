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
	"image/color"

	"golang.org/x/image/draw"
)

// render scales src to req's frame size, centres it in req's outer box and
// clips the corners according to req.Rounding. The result is never mutated
// afterwards, so consumers may hold on to it.
func render(src image.Image, req FrameRequest, scaler draw.Interpolator) *image.RGBA {
	sb := src.Bounds()
	fw, fh, ow, oh := req.physical(sb.Dx(), sb.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, ow, oh))
	frameRect := image.Rect(0, 0, fw, fh).Add(image.Pt((ow-fw)/2, (oh-fh)/2))

	var scaled image.Image = src

	if fw != sb.Dx() || fh != sb.Dy() {
		tmp := image.NewRGBA(image.Rect(0, 0, fw, fh))
		scaler.Scale(tmp, tmp.Bounds(), src, sb, draw.Src, nil)
		scaled = tmp
	}

	mask := roundingMask(req.Rounding, dst.Bounds(), req.Rounding.radius()*req.Factor)
	if mask == nil {
		draw.Draw(dst, frameRect, scaled, scaled.Bounds().Min, draw.Src)

		return dst
	}

	draw.DrawMask(dst, frameRect, scaled, scaled.Bounds().Min, mask, frameRect.Min, draw.Over)

	return dst
}

func roundingMask(r Rounding, box image.Rectangle, radius int) image.Image {
	switch r {
	case RoundingEllipse:
		return &ellipseMask{box: box}
	case RoundingSmall, RoundingLarge:
		if radius <= 0 {
			return nil
		}

		return &cornerMask{box: box, radius: radius}
	}

	return nil
}

// cornerMask is opaque inside box except for quarter-circle corners.
type cornerMask struct {
	box    image.Rectangle
	radius int
}

func (m *cornerMask) ColorModel() color.Model { return color.AlphaModel }
func (m *cornerMask) Bounds() image.Rectangle { return m.box }

func (m *cornerMask) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(m.box)) {
		return color.Alpha{}
	}

	r := m.radius
	if d := min(m.box.Dx(), m.box.Dy()) / 2; r > d {
		r = d
	}

	cx, cy := x, y

	switch {
	case x < m.box.Min.X+r:
		cx = m.box.Min.X + r
	case x >= m.box.Max.X-r:
		cx = m.box.Max.X - r - 1
	}

	switch {
	case y < m.box.Min.Y+r:
		cy = m.box.Min.Y + r
	case y >= m.box.Max.Y-r:
		cy = m.box.Max.Y - r - 1
	}

	dx, dy := x-cx, y-cy
	if dx*dx+dy*dy > r*r {
		return color.Alpha{}
	}

	return color.Alpha{A: 0xff}
}

// ellipseMask is opaque inside the ellipse inscribed in box.
type ellipseMask struct {
	box image.Rectangle
}

func (m *ellipseMask) ColorModel() color.Model { return color.AlphaModel }
func (m *ellipseMask) Bounds() image.Rectangle { return m.box }

func (m *ellipseMask) At(x, y int) color.Color {
	rx, ry := float64(m.box.Dx())/2, float64(m.box.Dy())/2
	if rx <= 0 || ry <= 0 {
		return color.Alpha{}
	}

	nx := (float64(x-m.box.Min.X) + 0.5 - rx) / rx
	ny := (float64(y-m.box.Min.Y) + 0.5 - ry) / ry

	if nx*nx+ny*ny > 1 {
		return color.Alpha{}
	}

	return color.Alpha{A: 0xff}
}
