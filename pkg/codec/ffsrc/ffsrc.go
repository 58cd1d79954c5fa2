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

// Package ffsrc decodes clips with ffmpeg through go-astiav.
//
// Decoded frames are converted to PNG by an in-process encoder and decoded
// again on the Go side, so no ffmpeg buffer outlives a NextFrame
// call.
package ffsrc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
)

const (
	lCodec        = "codecID"
	lDelay        = "delayMs"
	lDurationMs   = "durationMs"
	lFrameRateDen = "frameRateDen"
	lFrameRateNum = "frameRateNum"
	lHasAudio     = "hasAudio"
	lIndex        = "streamIndex"
	lSeekMs       = "seekMs"
	lSpill        = "spill"
	lSquelch      = "squelchCount"
	lTimeBaseDen  = "timeBaseDen"
	lTimeBaseNum  = "timeBaseNum"
	lURL          = "url"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// Config configures ffmpeg decoding.
type Config struct { //nolint:govet // Don't care about alignment.
	FfmpegLogLevel string `yaml:"ffmpegLogLevel" json:"ffmpegLogLevel" env:"FFMPEG_LOG_LEVEL" doc:"One of: quiet, panic, fatal, error, warning, info, verbose, debug"`
	TempDir        string `yaml:"tempDir" json:"tempDir" env:"FFMPEG_TEMP_DIR" doc:"Where in-memory clips are written for ffmpeg; empty means the OS default"`
}

// ConfigDefault returns the default values for a Config.
func ConfigDefault() Config {
	return Config{
		FfmpegLogLevel: "error",
	}
}

// Setup installs the package logger and routes ffmpeg's logs through it.
// Call once before opening sources.
func Setup(config *Config, logger *zerolog.Logger) error {
	log = logger.With().Str("pkg", "ffsrc").Logger()

	return ffmpegLoggerSetup(config)
}

type noVideoStreamError struct {
	url string
}

func (e *noVideoStreamError) Error() string {
	return "no video stream in " + e.url
}

type noDecoderError struct {
	codecID astiav.CodecID
}

func (e *noDecoderError) Error() string {
	return "no decoder for " + e.codecID.Name()
}

type notOpenError struct{}

func (*notOpenError) Error() string {
	return "ffmpeg source not open"
}

// Source is a clip.Source decoding the first video stream of a container.
type Source struct {
	config *Config
	loc    clip.Location

	url     string
	spilled string

	inputFormatContext *astiav.FormatContext
	stream             *astiav.Stream
	decCodecContext    *astiav.CodecContext
	snap               *snapshotter

	pkt   *astiav.Packet
	frame *astiav.Frame

	hasAudio  bool
	flushed   bool
	delayMs   int64
	startPTS  int64
	nextPosMs int64
}

// New returns a Source for loc. Nothing is read until Open.
func New(config *Config, loc clip.Location) *Source {
	return &Source{config: config, loc: loc}
}

func (s *Source) MarshalZerologObject(e *zerolog.Event) {
	e.Str(lURL, s.url)

	if s.decCodecContext == nil {
		return
	}

	tb := s.stream.TimeBase()
	e.Str(lCodec, s.decCodecContext.CodecID().Name()).
		Int(lIndex, s.stream.Index()).
		Int(lTimeBaseNum, tb.Num()).
		Int(lTimeBaseDen, tb.Den()).
		Int(lFrameRateNum, s.decCodecContext.Framerate().Num()).
		Int(lFrameRateDen, s.decCodecContext.Framerate().Den()).
		Int64(lDelay, s.delayMs).
		Bool(lHasAudio, s.hasAudio)
}

// spill writes in-memory clip data to a temp file ffmpeg can open.
func (s *Source) spill() error {
	f, err := os.CreateTemp(s.config.TempDir, "clip-*")
	if err != nil {
		return fmt.Errorf("creating spill file failed: %w", err)
	}

	s.spilled = f.Name()

	if _, err = f.Write(s.loc.Data); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing spill file failed: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("closing spill file failed: %w", err)
	}

	log.Debug().Str(lSpill, s.spilled).Int("bytes", len(s.loc.Data)).Msg("clip data spilled")

	return nil
}

func (s *Source) Open(ctx context.Context) (clip.SourceInfo, error) {
	if err := ctx.Err(); err != nil {
		return clip.SourceInfo{}, err
	}

	s.url = s.loc.Path

	if len(s.loc.Data) > 0 {
		if err := s.spill(); err != nil {
			return clip.SourceInfo{}, err
		}

		s.url = s.spilled
	}

	s.pkt = astiav.AllocPacket()
	s.frame = astiav.AllocFrame()

	if err := s.openInput(); err != nil {
		return clip.SourceInfo{}, &clip.DecodeError{Op: "open", Err: err}
	}

	info := clip.SourceInfo{
		Width:    s.decCodecContext.Width(),
		Height:   s.decCodecContext.Height(),
		HasAudio: s.hasAudio,
	}

	if d := ptsToMs(s.inputFormatContext.Duration(), astiav.TimeBaseQ); d > 0 {
		info.DurationMs = d
	}

	log.Info().Object("source", s).Int64(lDurationMs, info.DurationMs).Msg("source open")

	return info, nil
}

// openInput opens the container and the decoder for its first video stream.
func (s *Source) openInput() error {
	s.inputFormatContext = astiav.AllocFormatContext()

	if err := s.inputFormatContext.OpenInput(s.url, nil, nil); err != nil {
		s.inputFormatContext.Free()
		s.inputFormatContext = nil

		return fmt.Errorf("opening input failed: %w", err)
	}

	if err := s.inputFormatContext.FindStreamInfo(nil); err != nil {
		s.closeInput()

		return fmt.Errorf("finding stream info failed: %w", err)
	}

	s.stream = nil
	s.hasAudio = false

	for _, st := range s.inputFormatContext.Streams() {
		switch st.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if s.stream == nil {
				s.stream = st
			}
		case astiav.MediaTypeAudio:
			s.hasAudio = true
		}
	}

	if s.stream == nil {
		s.closeInput()

		return &noVideoStreamError{s.url}
	}

	if err := s.initDecoder(); err != nil {
		s.closeInput()

		return err
	}

	s.flushed = false
	s.nextPosMs = 0

	s.startPTS = s.stream.StartTime()
	if s.startPTS == astiav.NoPtsValue {
		s.startPTS = 0
	}

	return nil
}

func (s *Source) initDecoder() error {
	params := s.stream.CodecParameters()

	decCodec := astiav.FindDecoder(params.CodecID())
	if decCodec == nil {
		return &noDecoderError{params.CodecID()}
	}

	s.decCodecContext = astiav.AllocCodecContext(decCodec)

	_ = params.ToCodecContext(s.decCodecContext)

	s.decCodecContext.SetFramerate(s.inputFormatContext.GuessFrameRate(s.stream, nil))

	if err := s.decCodecContext.Open(decCodec, nil); err != nil {
		return fmt.Errorf("opening decoder context failed: %w", err)
	}

	s.delayMs = frameDelayMs(s.decCodecContext.Framerate())

	snap, err := newSnapshotter(s.decCodecContext, s.stream.TimeBase())
	if err != nil {
		return fmt.Errorf("initializing snapshot failed: %w", err)
	}

	s.snap = snap

	return nil
}

func (s *Source) closeInput() {
	if s.snap != nil {
		s.snap.close()
		s.snap = nil
	}

	if s.decCodecContext != nil {
		s.decCodecContext.Free()
		s.decCodecContext = nil
	}

	if s.inputFormatContext != nil {
		s.inputFormatContext.CloseInput()
		s.inputFormatContext.Free()
		s.inputFormatContext = nil
	}

	s.stream = nil
}

func (s *Source) NextFrame() (clip.SourceFrame, error) {
	if s.decCodecContext == nil {
		return clip.SourceFrame{}, &notOpenError{}
	}

	for {
		err := s.decCodecContext.ReceiveFrame(s.frame)

		switch {
		case err == nil:
			return s.toSourceFrame()
		case errors.Is(err, astiav.ErrEof):
			return clip.SourceFrame{}, clip.ErrEndOfStream
		case !errors.Is(err, astiav.ErrEagain):
			return clip.SourceFrame{}, &clip.DecodeError{Op: "receive", Err: err}
		}

		if s.flushed {
			return clip.SourceFrame{}, clip.ErrEndOfStream
		}

		if err := s.feed(); err != nil {
			return clip.SourceFrame{}, err
		}
	}
}

// feed sends the decoder the next packet of our stream, or the flush
// packet at the end of the container.
func (s *Source) feed() error {
	for {
		s.pkt.Unref()

		if err := s.inputFormatContext.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				s.flushed = true
				_ = s.decCodecContext.SendPacket(nil)

				return nil
			}

			return &clip.DecodeError{Op: "read", Err: err}
		}

		if s.pkt.StreamIndex() != s.stream.Index() {
			continue
		}

		if err := s.decCodecContext.SendPacket(s.pkt); err != nil {
			log.Debug().Err(err).Str(lURL, s.url).Msg("decode failed, dropping packet")

			continue
		}

		return nil
	}
}

func (s *Source) toSourceFrame() (clip.SourceFrame, error) {
	defer s.frame.Unref()

	pos := s.nextPosMs

	if pts := s.frame.Pts(); pts != astiav.NoPtsValue {
		pos = ptsToMs(pts-s.startPTS, s.stream.TimeBase())
	}

	s.nextPosMs = pos + s.delayMs

	data, err := s.snap.encode(s.frame)
	if err != nil {
		return clip.SourceFrame{}, &clip.DecodeError{Op: "snapshot", Err: err}
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return clip.SourceFrame{}, &clip.DecodeError{Op: "png", Err: err}
	}

	return clip.SourceFrame{Image: img, PositionMs: pos, DelayMs: s.delayMs}, nil
}

// Seek reopens the input and seeks to the keyframe at or before ms.
func (s *Source) Seek(ms int64) error {
	if s.pkt == nil {
		return &notOpenError{}
	}

	s.closeInput()

	if err := s.openInput(); err != nil {
		return &clip.DecodeError{Op: "seek", Err: err}
	}

	if ms <= 0 {
		return nil
	}

	streamTime := msToPts(ms, astiav.TimeBaseQ)
	flags := astiav.NewSeekFlags(astiav.SeekFlagBackward)

	log.Debug().Int64(lSeekMs, ms).Int64("streamTime", streamTime).Msg("seeking")

	if err := s.inputFormatContext.SeekFrame(-1, streamTime, flags); err != nil {
		return &clip.DecodeError{Op: "seek", Err: err}
	}

	s.nextPosMs = ms

	return nil
}

func (s *Source) Close() error {
	s.closeInput()

	if s.pkt != nil {
		s.pkt.Free()
		s.pkt = nil
	}

	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}

	if s.spilled != "" {
		err := os.Remove(s.spilled)
		s.spilled = ""

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing spill file failed: %w", err)
		}
	}

	return nil
}
