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

// Package attrs reads clip attributes without decoding the whole clip.
package attrs

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/gifsrc"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/mimer"
)

// Attributes describes a clip.
type Attributes struct {
	Mime       string
	Mode       clip.Mode
	Width      int
	Height     int
	DurationMs int64
	HasAudio   bool
}

func (a Attributes) MarshalZerologObject(e *zerolog.Event) {
	e.Str("mime", a.Mime).
		Stringer("mode", a.Mode).
		Int("width", a.Width).
		Int("height", a.Height).
		Int64("durationMs", a.DurationMs).
		Bool("hasAudio", a.HasAudio)
}

// UnsupportedError is returned for content that is neither GIF nor MP4.
type UnsupportedError struct {
	Mime string
}

func (e *UnsupportedError) Error() string {
	return "unsupported clip type " + e.Mime
}

type noVideoTrackError struct{}

func (*noVideoTrackError) Error() string {
	return "no video track found"
}

// Read returns the attributes of the clip in data, or at path when data is
// empty. The cover is the first GIF frame and is nil for MP4.
func Read(path string, data []byte) (Attributes, image.Image, error) {
	if len(data) == 0 {
		b, err := os.ReadFile(path)
		if err != nil {
			return Attributes{}, nil, fmt.Errorf("read %s: %w", path, err)
		}

		data = b
	}

	mime := mimer.GetContentTypeFromBytes(data)

	switch mode, ok := mimer.ModeForContentType(mime); {
	case !ok:
		return Attributes{}, nil, &UnsupportedError{Mime: mime}

	case mode == clip.ModeGif:
		a, cover, err := readGIF(data)
		a.Mime = mime

		return a, cover, err

	case mime == mimer.MediaTypeMP4 || mime == mimer.MediaTypeQuickTime:
		a, err := readMP4(bytes.NewReader(data))
		a.Mime = mime

		return a, nil, err

	default:
		// Playable by ffmpeg, but there is no cheap way to look inside.
		return Attributes{Mime: mime, Mode: mode}, nil, nil
	}
}

func readGIF(data []byte) (Attributes, image.Image, error) {
	g, err := gifsrc.Decode(clip.Location{Data: data})
	if err != nil {
		return Attributes{}, nil, err
	}

	b := gifsrc.Bounds(g)
	a := Attributes{Mode: clip.ModeGif, Width: b.Dx(), Height: b.Dy()}

	for i := range g.Image {
		a.DurationMs += gifsrc.DelayMs(g, i)
	}

	cover := image.NewRGBA(b)
	first := g.Image[0]
	draw.Draw(cover, first.Bounds(), first, first.Bounds().Min, draw.Src)

	return a, cover, nil
}

func readMP4(r io.ReadSeeker) (Attributes, error) {
	f, err := mp4.DecodeFile(r)
	if err != nil {
		return Attributes{}, fmt.Errorf("decode mp4: %w", err)
	}

	moov := f.Moov
	if moov == nil && f.Init != nil {
		moov = f.Init.Moov
	}

	if moov == nil {
		return Attributes{}, &noVideoTrackError{}
	}

	a := Attributes{Mode: clip.ModeVideo}

	var video *mp4.TrakBox

	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
			continue
		}

		switch trak.Mdia.Hdlr.HandlerType {
		case "vide":
			if video == nil {
				video = trak
			}
		case "soun":
			a.HasAudio = true
		}
	}

	if video == nil {
		return Attributes{}, &noVideoTrackError{}
	}

	a.Width, a.Height = trackSize(video)

	if moov.Mvhd != nil && moov.Mvhd.Timescale > 0 {
		a.DurationMs = int64(moov.Mvhd.Duration * 1000 / uint64(moov.Mvhd.Timescale))
	}

	if a.DurationMs == 0 && f.IsFragmented() {
		a.DurationMs, err = fragmentedDurationMs(f, moov, video)
		if err != nil {
			return Attributes{}, err
		}
	}

	return a, nil
}

// trackSize prefers the sample entry, which is in pixels, over tkhd.
func trackSize(trak *mp4.TrakBox) (int, int) {
	if m := trak.Mdia.Minf; m != nil && m.Stbl != nil && m.Stbl.Stsd != nil {
		for _, child := range m.Stbl.Stsd.Children {
			if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
				return int(vse.Width), int(vse.Height)
			}
		}
	}

	return int(trak.Tkhd.Width >> 16), int(trak.Tkhd.Height >> 16)
}

// fragmentedDurationMs sums the video samples of every fragment.
func fragmentedDurationMs(f *mp4.File, moov *mp4.MoovBox, video *mp4.TrakBox) (int64, error) {
	trackID := video.Tkhd.TrackID

	timescale := uint64(1000)
	if video.Mdia.Mdhd != nil && video.Mdia.Mdhd.Timescale > 0 {
		timescale = uint64(video.Mdia.Mdhd.Timescale)
	}

	var trex *mp4.TrexBox

	if moov.Mvex != nil {
		for _, t := range moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t

				break
			}
		}
	}

	var total uint64

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}

			samples, err := frag.GetFullSamples(trex)
			if err != nil {
				return 0, fmt.Errorf("get samples: %w", err)
			}

			for _, s := range samples {
				total += uint64(s.Dur)
			}
		}
	}

	return int64(total * 1000 / timescale), nil
}
