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
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
)

var (
	buffersrcFlags  = astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)
	buffersinkFlags = astiav.NewBuffersinkFlags()
)

type filterFindError struct {
	filter string
}

func (e *filterFindError) Error() string {
	return fmt.Sprintf("could not find filter %q", e.filter)
}

type emptySnapshotError struct{}

func (*emptySnapshotError) Error() string {
	return "empty packet encoded from frame"
}

// snapshotter re-encodes decoded frames as PNG so they can cross into Go
// as a plain byte slice. PNG is lossless and keeps alpha, at a higher encode
// cost than JPEG. The format filter converts whatever the decoder produces
// into the encoder's pixel format.
type snapshotter struct {
	encCodecContext   *astiav.CodecContext
	filterGraph       *astiav.FilterGraph
	buffersrcContext  *astiav.FilterContext
	buffersinkContext *astiav.FilterContext
	filterFrame       *astiav.Frame
	encPkt            *astiav.Packet
}

// snapshotPixelFormat prefers RGBA so transparent GIF pixels survive.
func snapshotPixelFormat(supported []astiav.PixelFormat, fallback astiav.PixelFormat) astiav.PixelFormat {
	for _, f := range supported {
		if f == astiav.PixelFormatRgba {
			return f
		}
	}

	if len(supported) > 0 {
		return supported[0]
	}

	return fallback
}

// newSnapshotter prepares a PNG encoder matching dec. Must be closed.
func newSnapshotter(dec *astiav.CodecContext, timeBase astiav.Rational) (*snapshotter, error) {
	encCodec := astiav.FindEncoder(astiav.CodecIDPng)
	if encCodec == nil {
		return nil, errors.New("no png encoder")
	}

	sn := &snapshotter{
		encCodecContext: astiav.AllocCodecContext(encCodec),
		filterFrame:     astiav.AllocFrame(),
		encPkt:          astiav.AllocPacket(),
	}

	enc := sn.encCodecContext
	enc.SetPixelFormat(snapshotPixelFormat(encCodec.PixelFormats(), dec.PixelFormat()))
	enc.SetSampleAspectRatio(dec.SampleAspectRatio())
	enc.SetWidth(dec.Width())
	enc.SetHeight(dec.Height())
	enc.SetTimeBase(timeBase)

	if err := enc.Open(encCodec, nil); err != nil {
		sn.close()

		return nil, fmt.Errorf("opening encoder context failed: %w", err)
	}

	if err := sn.initFilter(dec, timeBase); err != nil {
		sn.close()

		return nil, err
	}

	return sn, nil
}

func (sn *snapshotter) initFilter(dec *astiav.CodecContext, timeBase astiav.Rational) error {
	buffersrc := astiav.FindFilterByName("buffer")
	if buffersrc == nil {
		return &filterFindError{"buffer"}
	}

	buffersink := astiav.FindFilterByName("buffersink")
	if buffersink == nil {
		return &filterFindError{"buffersink"}
	}

	args := astiav.FilterArgs{
		"pix_fmt":      strconv.Itoa(int(dec.PixelFormat())),
		"pixel_aspect": dec.SampleAspectRatio().String(),
		"time_base":    timeBase.String(),
		"video_size":   strconv.Itoa(dec.Width()) + "x" + strconv.Itoa(dec.Height()),
	}

	sn.filterGraph = astiav.AllocFilterGraph()

	var err error
	if sn.buffersrcContext, err = sn.filterGraph.NewFilterContext(buffersrc, "in", args); err != nil {
		return fmt.Errorf("creating buffersrc context failed: %w", err)
	}

	if sn.buffersinkContext, err = sn.filterGraph.NewFilterContext(buffersink, "out", nil); err != nil {
		return fmt.Errorf("creating buffersink context failed: %w", err)
	}

	// Each in/out names the pad on the other side of the parsed chain.
	inputs := astiav.AllocFilterInOut()
	defer inputs.Free()

	inputs.SetName("out")
	inputs.SetFilterContext(sn.buffersinkContext)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	outputs := astiav.AllocFilterInOut()
	defer outputs.Free()

	outputs.SetName("in")
	outputs.SetFilterContext(sn.buffersrcContext)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	content := fmt.Sprintf("format=pix_fmts=%s", sn.encCodecContext.PixelFormat().Name())
	if err = sn.filterGraph.Parse(content, inputs, outputs); err != nil {
		return fmt.Errorf("parsing filter failed: %w", err)
	}

	if err = sn.filterGraph.Configure(); err != nil {
		return fmt.Errorf("configuring filter failed: %w", err)
	}

	return nil
}

// encode returns f as PNG bytes.
func (sn *snapshotter) encode(f *astiav.Frame) ([]byte, error) {
	if err := sn.buffersrcContext.BuffersrcAddFrame(f, buffersrcFlags); err != nil {
		return nil, fmt.Errorf("buffersrc add frame failed: %w", err)
	}

	sn.filterFrame.Unref()

	if err := sn.buffersinkContext.BuffersinkGetFrame(sn.filterFrame, buffersinkFlags); err != nil {
		return nil, fmt.Errorf("buffersink get frame failed: %w", err)
	}

	sn.filterFrame.SetPictureType(astiav.PictureTypeNone)

	// The sink can hand back more than one frame; only the first is used.
	defer func() {
		var err error
		for err == nil {
			sn.filterFrame.Unref()
			err = sn.buffersinkContext.BuffersinkGetFrame(sn.filterFrame, buffersinkFlags)
		}
	}()

	if err := sn.encCodecContext.SendFrame(sn.filterFrame); err != nil {
		return nil, fmt.Errorf("sending frame to encoder failed: %w", err)
	}

	sn.encPkt.Unref()

	err := sn.encCodecContext.ReceivePacket(sn.encPkt)
	if err != nil {
		return nil, fmt.Errorf("receiving packet from encoder failed: %w", err)
	}

	if sn.encPkt.Size() == 0 {
		return nil, &emptySnapshotError{}
	}

	data := sn.encPkt.Data()

	for err == nil {
		sn.encPkt.Unref()
		err = sn.encCodecContext.ReceivePacket(sn.encPkt)
	}

	return data, nil
}

func (sn *snapshotter) close() {
	sn.encPkt.Free()
	sn.filterFrame.Free()

	// Freeing the graph frees the src and sink contexts.
	if sn.filterGraph != nil {
		sn.filterGraph.Free()
	}

	if sn.encCodecContext != nil {
		sn.encCodecContext.Free()
	}
}
