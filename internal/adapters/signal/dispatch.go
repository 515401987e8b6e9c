package signal

import (
	"encoding/json"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// dispatch decodes one inbound frame and notifies the matching observers.
func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	var err error
	switch env.Event {
	case EventRoomParticipants:
		var p RoomParticipantsData
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.participants.Emit(p.Participants)
		}
	case EventParticipantJoined:
		var p domain.Participant
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.joined.Emit(p)
		}
	case EventParticipantLeft:
		var p domain.ParticipantLeft
		if err = json.Unmarshal(env.Data, &p); err == nil {
			c.left.Emit(p)
		}
	case EventMediaStateChanged:
		var st domain.MediaState
		if err = json.Unmarshal(env.Data, &st); err == nil {
			c.mediaChanged.Emit(st)
		}
	case EventError:
		var m MessageData
		if err = json.Unmarshal(env.Data, &m); err == nil {
			c.errs.Emit(m.Message)
		}
	case EventRoomFull:
		var m MessageData
		if err = json.Unmarshal(env.Data, &m); err == nil {
			c.full.Emit(m.Message)
		}
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown event")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", env.Event).Msg("bad payload")
	}
}
