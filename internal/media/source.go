package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrDeviceUnavailable = errors.New("media device unavailable")

// Constraints selects which kinds of local media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

var DefaultConstraints = Constraints{Audio: true, Video: true}

func (c Constraints) validate() error {
	if !c.Audio && !c.Video {
		return fmt.Errorf("%w: no media kind requested", ErrDeviceUnavailable)
	}
	return nil
}

// NullSource yields tracks that negotiate normally but never produce samples.
type NullSource struct{}

func (NullSource) GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	streamID := uuid.NewString()
	var tracks []*LocalTrack
	if c.Video {
		t, err := NewLocalTrack(VideoCodecVP8, "video", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Audio {
		t, err := NewLocalTrack(AudioCodecOpus, "audio", streamID)
		if err != nil {
			NewLocalStream(streamID, tracks...).Stop()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewLocalStream(streamID, tracks...), nil
}
