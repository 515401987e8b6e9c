package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	oggPageDuration      = 20 * time.Millisecond
	defaultFrameInterval = 33 * time.Millisecond
)

var errTrackStopped = errors.New("track stopped")

// FileSource plays an IVF video file and an Ogg/Opus audio file as local capture.
type FileSource struct {
	VideoFile string
	AudioFile string
	Loop      bool
}

func (s FileSource) GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	stream := NewLocalStream(streamID)

	if c.Video {
		codec, err := probeIVF(s.VideoFile)
		if err != nil {
			return nil, err
		}
		t, err := NewLocalTrack(codec, "video", streamID)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, t)
		go s.pump(t, s.VideoFile, playIVF)
	}
	if c.Audio {
		if err := probeOgg(s.AudioFile); err != nil {
			stream.Stop()
			return nil, err
		}
		t, err := NewLocalTrack(AudioCodecOpus, "audio", streamID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.tracks = append(stream.tracks, t)
		go s.pump(t, s.AudioFile, playOgg)
	}
	return stream, nil
}

func (s FileSource) pump(t *LocalTrack, path string, play func(*LocalTrack, string) error) {
	logger := log.With().Str("module", "media").Str("track", t.ID()).Str("file", path).Logger()
	for {
		err := play(t, path)
		switch {
		case errors.Is(err, errTrackStopped):
			return
		case err != nil && !errors.Is(err, io.EOF):
			logger.Warn().Err(err).Msg("file playback failed")
			return
		}
		if !s.Loop || t.Ended() {
			logger.Debug().Msg("file playback finished")
			return
		}
	}
}

func probeIVF(path string) (webrtc.RTPCodecCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	switch header.FourCC {
	case "VP80":
		return VideoCodecVP8, nil
	case "VP90":
		return VideoCodecVP9, nil
	case "AV01":
		return VideoCodecAV1, nil
	default:
		return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: unsupported ivf codec %q", ErrDeviceUnavailable, header.FourCC)
	}
}

func probeOgg(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer f.Close()
	if _, _, err := oggreader.NewWith(f); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func playIVF(t *LocalTrack, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	interval := defaultFrameInterval
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		interval = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Done():
			return errTrackStopped
		case <-ticker.C:
		}
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := t.WriteSample(pmedia.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}

func playOgg(t *LocalTrack, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.Done():
			return errTrackStopped
		case <-ticker.C:
		}
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		// Opus granule positions count 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		if err := t.WriteSample(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
