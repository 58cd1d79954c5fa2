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
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/rs/zerolog"
)

var ffmpegLog = zerolog.Nop()

// ffmpegToZerologLevel is queried on every ffmpeg log line.
var ffmpegToZerologLevel = map[astiav.LogLevel]zerolog.Level{
	astiav.LogLevelQuiet:   zerolog.Disabled,
	astiav.LogLevelPanic:   zerolog.PanicLevel,
	astiav.LogLevelFatal:   zerolog.FatalLevel,
	astiav.LogLevelError:   zerolog.ErrorLevel,
	astiav.LogLevelWarning: zerolog.WarnLevel,
	astiav.LogLevelInfo:    zerolog.InfoLevel,
	astiav.LogLevelVerbose: zerolog.DebugLevel,
	astiav.LogLevelDebug:   zerolog.TraceLevel,
}

// nameToFfmpegLogLevel has more entries than zerolog has levels, so the
// config names ffmpeg's own levels.
var nameToFfmpegLogLevel = map[string]astiav.LogLevel{
	"quiet":   astiav.LogLevelQuiet,
	"panic":   astiav.LogLevelPanic,
	"fatal":   astiav.LogLevelFatal,
	"error":   astiav.LogLevelError,
	"warning": astiav.LogLevelWarning,
	"info":    astiav.LogLevelInfo,
	"verbose": astiav.LogLevelVerbose,
	"debug":   astiav.LogLevelDebug,
}

// Clips are decoded over and over, and some decoders repeat the same
// complaint on every frame.
var squelchedFfmpegLogPrefixes = []string{
	"Packet corrupt",
	"error while decoding MB",
	"deprecated pixel format used",
	"No accelerated colorspace conversion",
	"Invalid level prefix",
}

// Miscounts are harmless, so these are not atomic.
var squelchedFfmpegLogCounts = make([]int, len(squelchedFfmpegLogPrefixes))

const squelchedLogInterval = 512

type logLevelError struct {
	level string
}

func (e *logLevelError) Error() string {
	return "invalid ffmpeg log level: " + e.level
}

func ffmpegLogCallback(l astiav.LogLevel, _, msg, _ string) {
	if msg == ".\n" {
		return
	}

	squelched := -1

	for i, prefix := range squelchedFfmpegLogPrefixes {
		if !strings.HasPrefix(msg, prefix) {
			continue
		}

		squelchedFfmpegLogCounts[i]++
		if squelchedFfmpegLogCounts[i]%squelchedLogInterval != 1 {
			return
		}

		squelched = i

		break
	}

	zl, ok := ffmpegToZerologLevel[l]
	if !ok {
		zl = zerolog.ErrorLevel
	}

	event := ffmpegLog.WithLevel(zl)
	if squelched >= 0 {
		event = event.Int(lSquelch, squelchedFfmpegLogCounts[squelched])
	}

	event.Msg(strings.TrimSuffix(msg, "\n"))
}

func ffmpegLoggerSetup(config *Config) error {
	level, ok := nameToFfmpegLogLevel[config.FfmpegLogLevel]
	if !ok {
		return &logLevelError{config.FfmpegLogLevel}
	}

	ffmpegLog = log.With().Str("pkg", "ffmpeg").Logger()

	// ffmpeg filters first, then our own logger does.
	astiav.SetLogLevel(level)
	astiav.SetLogCallback(ffmpegLogCallback)

	return nil
}
