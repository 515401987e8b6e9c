package media

import "github.com/pion/webrtc/v4"

// LocalStream groups the local camera and microphone tracks of one call session.
type LocalStream struct {
	id     string
	tracks []*LocalTrack
}

func NewLocalStream(id string, tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalStream) AudioTracks() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeAudio) }
func (s *LocalStream) VideoTracks() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeVideo) }

func (s *LocalStream) byKind(kind webrtc.RTPCodecType) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// LiveTracks counts tracks that have not been stopped.
func (s *LocalStream) LiveTracks() int {
	n := 0
	for _, t := range s.tracks {
		if !t.Ended() {
			n++
		}
	}
	return n
}

// Stop ends every track of the stream.
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
