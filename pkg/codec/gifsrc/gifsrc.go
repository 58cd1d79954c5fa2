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

// Package gifsrc decodes animated GIFs into full-canvas frames.
package gifsrc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"os"

	"golang.org/x/image/draw"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
)

// Browsers treat tiny GIF delays as "as fast as you like"; we do what they
// do and slow those frames down.
const (
	minDelayMs     = 20
	defaultDelayMs = 100
)

type notOpenError struct{}

func (*notOpenError) Error() string {
	return "gif source not open"
}

// Source is a clip.Source for GIF data.
type Source struct {
	loc clip.Location

	g       *gif.GIF
	canvas  *image.RGBA
	saved   *image.RGBA
	pos     int
	posMs   int64
	delays  []int64
	lastIdx int
}

// New returns a Source reading the GIF at loc.
func New(loc clip.Location) *Source {
	return &Source{loc: loc, lastIdx: -1}
}

func readAll(loc clip.Location) ([]byte, error) {
	if len(loc.Data) > 0 {
		return loc.Data, nil
	}

	b, err := os.ReadFile(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", loc.Path, err)
	}

	return b, nil
}

// Decode parses GIF data from loc.
func Decode(loc clip.Location) (*gif.GIF, error) {
	b, err := readAll(loc)
	if err != nil {
		return nil, err
	}

	g, err := gif.DecodeAll(bytes.NewReader(b))
	if err != nil {
		return nil, &clip.DecodeError{Op: "gif", Err: err}
	}

	if len(g.Image) == 0 {
		return nil, &clip.DecodeError{Op: "gif", Err: fmt.Errorf("no frames in %s", loc)}
	}

	return g, nil
}

// DelayMs returns the effective delay of frame i.
func DelayMs(g *gif.GIF, i int) int64 {
	if i >= len(g.Delay) {
		return defaultDelayMs
	}

	d := int64(g.Delay[i]) * 10
	if d < minDelayMs {
		return defaultDelayMs
	}

	return d
}

// Bounds returns the logical screen size of g.
func Bounds(g *gif.GIF) image.Rectangle {
	r := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if r.Empty() {
		for _, m := range g.Image {
			r = r.Union(m.Bounds())
		}
	}

	return r
}

func (s *Source) Open(ctx context.Context) (clip.SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return clip.SourceInfo{}, err
	}

	g, err := Decode(s.loc)
	if err != nil {
		return clip.SourceInfo{}, err
	}

	s.g = g
	s.delays = make([]int64, len(g.Image))

	var total int64

	for i := range g.Image {
		s.delays[i] = DelayMs(g, i)
		total += s.delays[i]
	}

	s.rewind()

	b := Bounds(g)

	return clip.SourceInfo{Width: b.Dx(), Height: b.Dy(), DurationMs: total}, nil
}

func (s *Source) rewind() {
	s.canvas = image.NewRGBA(Bounds(s.g))
	s.saved = nil
	s.pos = 0
	s.posMs = 0
	s.lastIdx = -1
}

// composite draws frame i onto the canvas after disposing of the last one.
func (s *Source) composite(i int) {
	if last := s.lastIdx; last >= 0 && last < len(s.g.Disposal) {
		switch s.g.Disposal[last] {
		case gif.DisposalBackground:
			draw.Draw(s.canvas, s.g.Image[last].Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if s.saved != nil {
				draw.Draw(s.canvas, s.canvas.Bounds(), s.saved, s.saved.Bounds().Min, draw.Src)
			}
		}
	}

	if i < len(s.g.Disposal) && s.g.Disposal[i] == gif.DisposalPrevious {
		s.saved = cloneRGBA(s.canvas)
	}

	m := s.g.Image[i]
	draw.Draw(s.canvas, m.Bounds(), m, m.Bounds().Min, draw.Over)
	s.lastIdx = i
}

func (s *Source) NextFrame() (clip.SourceFrame, error) {
	if s.g == nil {
		return clip.SourceFrame{}, &notOpenError{}
	}

	if s.pos >= len(s.g.Image) {
		return clip.SourceFrame{}, clip.ErrEndOfStream
	}

	s.composite(s.pos)

	f := clip.SourceFrame{
		Image:      cloneRGBA(s.canvas),
		PositionMs: s.posMs,
		DelayMs:    s.delays[s.pos],
	}

	s.posMs += s.delays[s.pos]
	s.pos++

	return f, nil
}

// Seek rewinds and replays frames so the next frame covers ms.
func (s *Source) Seek(ms int64) error {
	if s.g == nil {
		return &notOpenError{}
	}

	s.rewind()

	for s.pos < len(s.g.Image)-1 && s.posMs+s.delays[s.pos] <= ms {
		s.composite(s.pos)
		s.posMs += s.delays[s.pos]
		s.pos++
	}

	return nil
}

func (s *Source) Close() error {
	s.g = nil
	s.canvas = nil
	s.saved = nil

	return nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)

	return dst
}
