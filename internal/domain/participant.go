package domain

import "encoding/json"

type (
	// SocketID is assigned by the signaling service per connection and changes across reconnects.
	SocketID string
	// PeerID addresses a user on the peer transport. It equals the user id.
	PeerID string
)

// Participant is one remote room member as reported by the signaling service.
// No transport or media handles here.
type Participant struct {
	SocketID       SocketID `json:"socketId"`
	PeerID         PeerID   `json:"peerId"`
	DisplayName    string   `json:"displayName"`
	IsAudioEnabled bool     `json:"isAudioEnabled"`
	IsVideoEnabled bool     `json:"isVideoEnabled"`
}

// UnmarshalJSON defaults both media flags to true when the payload omits them.
func (p *Participant) UnmarshalJSON(data []byte) error {
	type plain Participant
	v := plain{IsAudioEnabled: true, IsVideoEnabled: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Participant(v)
	return nil
}

// ParticipantLeft identifies a departed member by both of its identifiers.
type ParticipantLeft struct {
	SocketID SocketID `json:"socketId"`
	PeerID   PeerID   `json:"peerId"`
}

// MediaState is a media flags patch for one member.
type MediaState struct {
	SocketID       SocketID `json:"socketId"`
	IsAudioEnabled bool     `json:"isAudioEnabled"`
	IsVideoEnabled bool     `json:"isVideoEnabled"`
}
