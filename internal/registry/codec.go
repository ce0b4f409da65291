package registry

import (
	"fmt"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

// Document field names. These are the only place the stored shape of a room
// is spelled out.
const (
	fieldState        = "state"
	fieldParticipants = "participants"
	fieldInviteCode   = "inviteCode"
	fieldCreatedAt    = "createdAt"
	fieldDisplayName  = "displayName"
	fieldAvatarURL    = "avatarUrl"
	fieldScore        = "score"
	fieldAnswers      = "answers"
	fieldTeam         = "team"
)

func encodeRoom(r engine.Room) (store.Doc, error) {
	d, err := store.ToDoc(r)
	if err != nil {
		return nil, err
	}
	delete(d, "id")
	return d, nil
}

func decodeRoom(s store.Snapshot) (engine.Room, error) {
	var r engine.Room
	if err := s.Decode(&r); err != nil {
		return engine.Room{}, fmt.Errorf("decode room %s: %w", s.ID, err)
	}
	r.ID = s.ID
	if r.Participants == nil {
		r.Participants = map[string]engine.Participant{}
	}
	for id, p := range r.Participants {
		r.Participants[id] = p.Clone()
	}
	return r, nil
}

func participantPath(uid string, field ...string) store.Path {
	return append(store.P(fieldParticipants, uid), field...)
}

// patchesFor turns domain events into field-level writes. Each participant
// event touches only that participant's sub-path.
func patchesFor(events []engine.Event) []store.Patch {
	var out []store.Patch
	for _, e := range events {
		switch e.Type {
		case engine.EvtParticipantJoined:
			out = append(out, store.Set(participantPath(e.UserID), e.Participant))
		case engine.EvtParticipantUpdated:
			out = append(out,
				store.Set(participantPath(e.UserID, fieldDisplayName), e.Participant.DisplayName),
				store.Set(participantPath(e.UserID, fieldAvatarURL), e.Participant.AvatarURL),
			)
		case engine.EvtParticipantLeft:
			out = append(out, store.Unset(participantPath(e.UserID)))
		case engine.EvtTeamSelected:
			out = append(out, store.Set(participantPath(e.UserID, fieldTeam), e.Team))
		case engine.EvtScoreRecorded:
			out = append(out,
				store.Set(participantPath(e.UserID, fieldScore), e.Participant.Score),
				store.Set(participantPath(e.UserID, fieldAnswers), e.Participant.Answers),
			)
		case engine.EvtRoomStarted:
			out = append(out, store.Set(store.P(fieldState), engine.StateInProgress))
		case engine.EvtRoomClosed:
			// removal is a delete, not a patch
		}
	}
	return out
}
