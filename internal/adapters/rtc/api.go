package rtc

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNotInitialized = errors.New("peer transport not initialized")
	ErrAddressTaken   = errors.New("peer id already taken")
	ErrInvalidKey     = errors.New("invalid broker key")
	ErrCallTimeout    = errors.New("call timed out")
	ErrCallClosed     = errors.New("call closed")
)

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	// URL is the broker WebSocket endpoint, e.g. ws://localhost:9000/peerjs.
	URL             string
	Key             string
	CallTimeout     time.Duration
	OpenTimeout     time.Duration
	HeartbeatPeriod time.Duration
	WriteWait       time.Duration
	ICEServers      []string
}

func (c Config) withDefaults() Config {
	if c.Key == "" {
		c.Key = "peerjs"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 5 * time.Second
	}
	if c.ICEServers == nil {
		c.ICEServers = DefaultICEServers
	}
	return c
}

func (c Config) peerConnectionConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// NewAPI builds the pion API shared by every connection: default codecs,
// default interceptors (NACK, RTCP reports) and relaxed ICE timeouts.
func NewAPI() (*webrtc.API, error) {
	return newAPI(nil)
}

func newAPI(tune func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	if tune != nil {
		tune(&se)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}
