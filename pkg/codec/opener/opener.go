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

// Package opener picks a decoder for a clip by sniffing its content.
package opener

import (
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/attrs"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/ffsrc"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/gifsrc"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/mimer"
)

const (
	GifDecoderGo     = "go"
	GifDecoderFfmpeg = "ffmpeg"
)

// Config selects decoders.
type Config struct { //nolint:govet // Don't care about alignment.
	GifDecoder string      `yaml:"gifDecoder" json:"gifDecoder" env:"CLIP_GIF_DECODER" doc:"Decoder for GIF content. One of: go, ffmpeg"`
	Ffmpeg     ffsrc.Config `yaml:"ffmpeg" json:"ffmpeg"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		GifDecoder: GifDecoderGo,
		Ffmpeg:     ffsrc.ConfigDefault(),
	}
}

// New returns a clip.Opener. GIF content goes to the pure Go decoder unless
// configured otherwise; every other clip type goes to ffmpeg. The reader's
// mode only affects playback, so an MP4 may still play as a GIF.
func New(config *Config) clip.Opener {
	return func(loc clip.Location, _ clip.Mode) (clip.Source, error) {
		mime := mimer.GetLocationContentType(loc)

		if _, ok := mimer.ModeForContentType(mime); !ok {
			return nil, &attrs.UnsupportedError{Mime: mime}
		}

		if mime == mimer.MediaTypeGIF && config.GifDecoder != GifDecoderFfmpeg {
			return gifsrc.New(loc), nil
		}

		return ffsrc.New(&config.Ffmpeg, loc), nil
	}
}
