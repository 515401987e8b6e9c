package core

import (
	"context"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
)

// MediaSource acquires local capture. The caller owns the returned stream and must Stop it.
type MediaSource interface {
	GetUserMedia(ctx context.Context, c media.Constraints) (*media.LocalStream, error)
}

// Preview renders the local stream to the user. The stream is borrowed.
type Preview interface {
	Attach(stream *media.LocalStream)
}

// PeerTransport manages peer-to-peer media connections addressed by PeerID.
type PeerTransport interface {
	// Initialize claims id as the local address and returns once it is live.
	Initialize(ctx context.Context, id domain.PeerID) error
	// SetLocalStream stores the stream used to answer inbound calls.
	SetLocalStream(stream *media.LocalStream)
	// Call dials remote and returns its media once negotiated.
	Call(ctx context.Context, remote domain.PeerID, local *media.LocalStream) (*media.RemoteStream, error)
	// OnCall registers a handler for negotiated inbound calls.
	OnCall(func(remote domain.PeerID, stream *media.RemoteStream)) func()
	// CloseCall forgets the connection to remote. No-op when there is none.
	CloseCall(remote domain.PeerID)
	CloseAllCalls()
	// Destroy closes every connection and releases the local address.
	Destroy()
}
