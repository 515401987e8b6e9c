package main

import (
	"context"
	"fmt"

	"github.com/dkeye/meetclient/internal/adapters/rtc"
	"github.com/dkeye/meetclient/internal/adapters/signal"
	"github.com/dkeye/meetclient/internal/app/orch"
	"github.com/dkeye/meetclient/internal/config"
	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/rs/zerolog/log"
)

// logPreview stands in for a video element: it reports what would be shown.
type logPreview struct{}

func (logPreview) Attach(stream *media.LocalStream) {
	log.Info().Str("module", "media").Str("stream", stream.ID()).
		Int("audio", len(stream.AudioTracks())).Int("video", len(stream.VideoTracks())).
		Msg("local preview attached")
}

func mediaSource(m config.Media) (core.MediaSource, error) {
	switch m.Source {
	case "devices":
		return media.DeviceSource{}, nil
	case "file":
		return media.FileSource{VideoFile: m.VideoFile, AudioFile: m.AudioFile, Loop: m.Loop}, nil
	case "null", "":
		return media.NullSource{}, nil
	default:
		return nil, fmt.Errorf("unknown media source %q", m.Source)
	}
}

// newLobby wires the per-join factories from cfg.
func newLobby(cfg *config.Config) (*orch.Lobby, error) {
	src, err := mediaSource(cfg.Media)
	if err != nil {
		return nil, err
	}
	api, err := rtc.NewAPI()
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}
	constraints := media.Constraints{Audio: cfg.Media.Audio, Video: cfg.Media.Video}

	signalCfg := signal.Config{
		URL:        cfg.Signaling.URL,
		PingPeriod: cfg.Signaling.PingPeriod,
		WriteWait:  cfg.Signaling.WriteWait,
		ReadLimit:  cfg.Signaling.ReadLimit,
	}
	rtcCfg := rtc.Config{
		URL:             cfg.Peer.URL,
		Key:             cfg.Peer.Key,
		CallTimeout:     cfg.Peer.CallTimeout,
		OpenTimeout:     cfg.Peer.OpenTimeout,
		HeartbeatPeriod: cfg.Peer.HeartbeatPeriod,
		WriteWait:       cfg.Signaling.WriteWait,
		ICEServers:      cfg.Peer.ICEServers,
	}
	acquire := func(ctx context.Context) (*media.LocalStream, error) {
		return src.GetUserMedia(ctx, constraints)
	}

	log.Info().Str("module", "main").Str("media", cfg.Media.Source).Str("signaling", signalCfg.URL).Str("peer", rtcCfg.URL).Msg("call stack wired")
	return orch.NewLobby(orch.Factories{
		Media:        src,
		Constraints:  constraints,
		NewSignaling: func() core.SignalingClient { return signal.NewClient(signalCfg) },
		NewTransport: func() core.PeerTransport { return rtc.NewTransport(api, rtcCfg, acquire) },
		Preview:      logPreview{},
	}), nil
}
