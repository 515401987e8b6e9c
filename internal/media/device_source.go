//go:build mediadevices

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// DeviceSource captures the default camera and microphone, encoded as VP8 and Opus.
type DeviceSource struct {
	Width   int
	Height  int
	BitRate int
}

func (s DeviceSource) GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = s.bitRate()
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatI420, frame.FormatYUYV}
			mc.Width = prop.IntRanged{Max: s.width()}
			mc.Height = prop.IntRanged{Max: s.height()}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	captured, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	streamID := uuid.NewString()
	stream := NewLocalStream(streamID)
	for _, dev := range captured.GetTracks() {
		codec, mime, clockRate := AudioCodecOpus, webrtc.MimeTypeOpus, uint32(48000)
		if dev.Kind() == webrtc.RTPCodecTypeVideo {
			codec, mime, clockRate = VideoCodecVP8, webrtc.MimeTypeVP8, 90000
		}
		reader, err := dev.NewEncodedReader(mime)
		if err != nil {
			dev.Close()
			stream.Stop()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		t, err := NewLocalTrack(codec, dev.Kind().String(), streamID)
		if err != nil {
			reader.Close()
			dev.Close()
			stream.Stop()
			return nil, err
		}
		stream.tracks = append(stream.tracks, t)
		go pumpEncoded(t, dev, reader, clockRate)
	}
	return stream, nil
}

func pumpEncoded(t *LocalTrack, dev mediadevices.Track, r mediadevices.EncodedReadCloser, clockRate uint32) {
	logger := log.With().Str("module", "media").Str("track", t.ID()).Logger()
	defer dev.Close()
	go func() {
		<-t.Done()
		r.Close()
	}()
	for {
		buf, release, err := r.Read()
		if err != nil {
			logger.Debug().Err(err).Msg("device reader closed")
			return
		}
		err = t.WriteSample(pmedia.Sample{
			Data:     buf.Data,
			Duration: time.Duration(buf.Samples) * time.Second / time.Duration(clockRate),
		})
		release()
		if err != nil {
			logger.Warn().Err(err).Msg("write sample failed")
			return
		}
	}
}

func (s DeviceSource) width() int {
	if s.Width > 0 {
		return s.Width
	}
	return 640
}

func (s DeviceSource) height() int {
	if s.Height > 0 {
		return s.Height
	}
	return 480
}

func (s DeviceSource) bitRate() int {
	if s.BitRate > 0 {
		return s.BitRate
	}
	return 500_000
}
