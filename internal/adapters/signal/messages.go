package signal

import (
	"encoding/json"

	"github.com/dkeye/meetclient/internal/domain"
)

// Event names of the signaling protocol.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventMediaStateChange  = "media-state-change"
	EventRoomParticipants  = "room-participants"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventMediaStateChanged = "media-state-changed"
	EventError             = "error"
	EventRoomFull          = "room-full"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomData struct {
	RoomID      domain.RoomID `json:"roomId"`
	DisplayName string        `json:"displayName"`
}

type LeaveRoomData struct {
	RoomID domain.RoomID `json:"roomId"`
}

type MediaStateChangeData struct {
	RoomID         domain.RoomID `json:"roomId"`
	IsAudioEnabled bool          `json:"isAudioEnabled"`
	IsVideoEnabled bool          `json:"isVideoEnabled"`
}

type RoomParticipantsData struct {
	Participants []domain.Participant `json:"participants"`
}

type MessageData struct {
	Message string `json:"message"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
