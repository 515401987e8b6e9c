package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateDisabled
	TrackStateEnded
)

var (
	VideoCodecVP8  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	VideoCodecVP9  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9}
	VideoCodecAV1  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1}
	AudioCodecOpus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
)

// LocalTrack is one locally produced track.
// Only the owner of the enclosing LocalStream may Stop it; peer connections hold it borrowed.
type LocalTrack struct {
	track *webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (TrackStateLive)

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalTrack{track: track, ctx: ctx, cancel: cancel}, nil
}

func (t *LocalTrack) ID() string                { return t.track.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

// Track returns the pion track to attach to a peer connection.
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) State() TrackState { return TrackState(t.state.Load()) }
func (t *LocalTrack) Enabled() bool     { return t.State() == TrackStateLive }
func (t *LocalTrack) Ended() bool       { return t.State() == TrackStateEnded }

// Done is closed once the track is stopped.
func (t *LocalTrack) Done() <-chan struct{} { return t.ctx.Done() }

// SetEnabled switches between live and disabled. Ended tracks stay ended.
func (t *LocalTrack) SetEnabled(on bool) {
	next := TrackStateLive
	if !on {
		next = TrackStateDisabled
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Stop ends the track and its producer. Safe to call more than once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(TrackStateEnded))
		t.cancel()
	})
}

// WriteSample forwards a sample unless the track is disabled or ended.
func (t *LocalTrack) WriteSample(s pmedia.Sample) error {
	if t.State() != TrackStateLive {
		return nil
	}
	return t.track.WriteSample(s)
}
