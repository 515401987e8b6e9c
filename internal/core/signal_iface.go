package core

import (
	"context"

	"github.com/dkeye/meetclient/internal/domain"
)

// SignalingClient is the room-membership messaging channel of one call session.
// Commands are fire-and-forget; On* registrations are additive and return an unsubscribe func.
type SignalingClient interface {
	// Connect opens the channel. Calling it again while open is a no-op.
	Connect(ctx context.Context, userID domain.UserID, credential string) error

	JoinRoom(roomID domain.RoomID, displayName string) error
	LeaveRoom(roomID domain.RoomID) error
	UpdateMediaState(roomID domain.RoomID, audio, video bool) error

	OnRoomParticipants(func([]domain.Participant)) func()
	OnParticipantJoined(func(domain.Participant)) func()
	OnParticipantLeft(func(domain.ParticipantLeft)) func()
	OnMediaStateChanged(func(domain.MediaState)) func()
	OnError(func(message string)) func()
	OnRoomFull(func(message string)) func()

	// Disconnect closes the channel and releases every handler. Safe when already disconnected.
	Disconnect()
}
