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

package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/attrs"
)

// tile is one clip on the headless display.
type tile struct {
	reader *clip.Reader
	attrs  attrs.Attributes

	frameW, frameH int

	reinits  int
	repaints int
	shown    int
}

func (t *tile) MarshalZerologObject(e *zerolog.Event) {
	e.Object("reader", t.reader).
		Object("attrs", t.attrs).
		Stringer("state", t.reader.State()).
		Int("reinits", t.reinits).
		Int("repaints", t.repaints).
		Int("shown", t.shown)
}

// display plays clips into a box of fixed size, the way a UI would, but
// discards the images. It exercises the pool and exposes its metrics.
type display struct {
	config *displayConfig
	pool   *clip.Pool

	rounding clip.Rounding
	tiles    []*tile
}

func newDisplay(config *displayConfig, pool *clip.Pool) (*display, error) {
	rounding, err := clip.ParseRounding(config.Rounding)
	if err != nil {
		return nil, err
	}

	return &display{config: config, pool: pool, rounding: rounding}, nil
}

// fitFrame scales w x h to fit the box keeping the aspect ratio. Unknown
// sizes fill the box.
func fitFrame(w, h, boxW, boxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return boxW, boxH
	}

	if w*boxH > h*boxW {
		return boxW, max(h*boxW/w, 1)
	}

	return max(w*boxH/h, 1), boxH
}

// Add reads the clip's attributes and appends a reader for it to the pool.
func (d *display) Add(path string) error {
	a, _, err := attrs.Read(path, nil)
	if err != nil {
		return err
	}

	r := clip.NewReader(clip.Location{Path: path}, a.Mode, clip.WithScaleFactor(d.config.Factor))
	if a.Mode == clip.ModeVideo {
		r.SetAutoplay()
	}

	if err := d.pool.Append(r); err != nil {
		return err
	}

	t := &tile{reader: r, attrs: a}
	t.frameW, t.frameH = fitFrame(a.Width, a.Height, d.config.Width, d.config.Height)

	r.Start(t.frameW, t.frameH, d.config.Width, d.config.Height, d.rounding)

	d.tiles = append(d.tiles, t)

	log.Info().Object("tile", t).Msg("clip added")

	return nil
}

// AddAll adds every path, logging the ones that cannot be played.
func (d *display) AddAll(paths []string) {
	for _, path := range paths {
		if err := d.Add(path); err != nil {
			var unsupported *attrs.UnsupportedError
			if errors.As(err, &unsupported) {
				log.Warn().Str("path", path).Str("mime", unsupported.Mime).Msg("skipping clip")

				continue
			}

			log.Error().Err(err).Str("path", path).Msg("failed to add clip")
		}
	}
}

// tick draws every live tile once and drops the ones that are done.
func (d *display) tick(nowMs int64) {
	live := d.tiles[:0]

	for _, t := range d.tiles {
		t.drain()

		if img := t.reader.Current(t.frameW, t.frameH, d.config.Width, d.config.Height, nowMs); img != nil {
			t.shown++
		}

		if t.reader.State() != clip.StateReading {
			t.reader.Stop()
			log.Info().Object("tile", t).Msg("clip done")

			continue
		}

		live = append(live, t)
	}

	d.tiles = live
}

func (t *tile) drain() {
	for {
		select {
		case n := <-t.reader.Notifications():
			if n == clip.NotificationReinit {
				t.reinits++
			} else {
				t.repaints++
			}
		default:
			return
		}
	}
}

func (d *display) logStats() {
	for _, s := range d.pool.Stats() {
		log.Info().Int("thread", s.Thread).
			Int("loadLevel", s.LoadLevel).
			Int("queued", s.Queued).
			Int("readers", s.Readers).
			Int64("frames", s.Frames).
			Dur("decodeP50", s.DecodeP50).
			Dur("decodeP99", s.DecodeP99).
			Int64("rejections", s.Rejections).
			Msg("pool stats")
	}
}

// Run ticks at the configured rate until every clip is done or ctx ends.
// Remaining readers are stopped on return.
func (d *display) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(d.config.FPS))
	defer ticker.Stop()

	lastStats := time.Now()

	defer func() {
		for _, t := range d.tiles {
			t.reader.Stop()
		}
	}()

	for len(d.tiles) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			d.tick(now.UnixMilli())

			if d.config.StatsLog && now.Sub(lastStats) >= time.Second {
				d.logStats()
				lastStats = now
			}
		}
	}

	log.Info().Msg("all clips done")

	return nil
}
