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

// Package mimer sniffs clip content types and maps them to a playback mode.
package mimer

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/aofei/mimesniffer"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
)

const (
	MediaTypeGIF       = "image/gif"
	MediaTypeMP4       = "video/mp4"
	MediaTypeQuickTime = "video/quicktime"
	MediaTypeWebM      = "video/webm"
	MediaTypeMatroska  = "video/x-matroska"
	MediaTypeMPEGTS    = "video/mp2t"

	UnknownMediaType = "application/octet-stream"
)

// Only the first 512 bytes are used to sniff the content type.
const fingerprintSize = 512

var modes = map[string]clip.Mode{
	MediaTypeGIF:       clip.ModeGif,
	MediaTypeMP4:       clip.ModeVideo,
	MediaTypeQuickTime: clip.ModeVideo,
	MediaTypeWebM:      clip.ModeVideo,
	MediaTypeMatroska:  clip.ModeVideo,
	MediaTypeMPEGTS:    clip.ModeVideo,
}

// isVideoTsSignature returns true if the given buffer is a video.ts file.
// According to https://en.wikipedia.org/wiki/List_of_file_signatures,
// the hex value 0x47 should be the first byte of a video.ts file and
// repeated every 188 bytes.
func isVideoTsSignature(buffer []byte) bool {
	const (
		tsSignature         = 0x47
		tsSignatureInterval = 188
	)

	if len(buffer) < tsSignatureInterval {
		return false
	}

	for i := 0; i < len(buffer); i += tsSignatureInterval {
		if buffer[i] != tsSignature {
			return false
		}
	}

	return true
}

// majorBrand returns the major brand of an ISO BMFF ftyp box at the start
// of buffer.
func majorBrand(buffer []byte) (string, bool) {
	const ftypEnd = 12

	if len(buffer) < ftypEnd || !bytes.Equal(buffer[4:8], []byte("ftyp")) {
		return "", false
	}

	return string(buffer[8:12]), true
}

// isQuickTimeSignature matches ftyp boxes with the "qt  " brand.
func isQuickTimeSignature(buffer []byte) bool {
	brand, ok := majorBrand(buffer)

	return ok && brand == "qt  "
}

// isMP4Signature matches every other ftyp box except still images.
func isMP4Signature(buffer []byte) bool {
	brand, ok := majorBrand(buffer)

	return ok && brand != "qt  " && brand[:3] != "hei" && brand[:3] != "avi"
}

// init initializes the mimer package.
func init() {
	mimesniffer.Register(MediaTypeMPEGTS, isVideoTsSignature)
	mimesniffer.Register(MediaTypeQuickTime, isQuickTimeSignature)
	mimesniffer.Register(MediaTypeMP4, isMP4Signature)
}

// ModeForContentType returns how a clip of the given type plays, or false
// if it is not a clip.
func ModeForContentType(mimeType string) (clip.Mode, bool) {
	mode, ok := modes[mimeType]

	return mode, ok
}

// GetContentTypeFromBytes returns the content type of b.
func GetContentTypeFromBytes(b []byte) string {
	if len(b) > fingerprintSize {
		b = b[:fingerprintSize]
	}

	return mimesniffer.Sniff(b)
}

// GetContentTypeFromReader returns the content type of what reader yields.
func GetContentTypeFromReader(reader io.Reader) (string, error) {
	buffer := make([]byte, fingerprintSize)

	n, err := io.ReadFull(reader, buffer)
	if err != nil && n == 0 {
		return UnknownMediaType, fmt.Errorf("mime check failed read: %w", err)
	}

	return GetContentTypeFromBytes(buffer[:n]), nil
}

// GetContentType returns the content type of the given resource at the given path.
func GetContentType(sourcePath string) string {
	f, err := os.Open(sourcePath)
	if err != nil {
		return UnknownMediaType
	}

	defer func() {
		_ = f.Close()
	}()

	mimeType, _ := GetContentTypeFromReader(f)

	return mimeType
}

// GetLocationContentType sniffs a clip location, preferring in-memory data.
func GetLocationContentType(loc clip.Location) string {
	if len(loc.Data) > 0 {
		return GetContentTypeFromBytes(loc.Data)
	}

	return GetContentType(loc.Path)
}
