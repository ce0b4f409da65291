package engine

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")
var ErrRoomNotJoinable = fmt.Errorf("%w: room not joinable", ErrNotFound)
var ErrAlreadyStarted = errors.New("room already started")
var ErrNotStarted = errors.New("room not started")
var ErrInsufficientQuestions = errors.New("insufficient questions")
var ErrQuorumNotMet = errors.New("quorum not met")
var ErrPermissionDenied = errors.New("permission denied")
var ErrTransientStore = errors.New("transient store failure")
var ErrInvalidParams = errors.New("invalid room parameters")
var ErrInvalidTeam = errors.New("invalid team")
var ErrNotParticipant = errors.New("not a participant")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrAlreadyRecorded = errors.New("result already recorded")

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdLeave       CommandType = "Leave"
	CmdSelectTeam  CommandType = "SelectTeam"
	CmdStart       CommandType = "Start"
	CmdRecordScore CommandType = "RecordScore"
)

/*
	CmdJoin        -> EvtParticipantJoined (new) | EvtParticipantUpdated (re-join, display fields only)
	CmdLeave       -> EvtParticipantLeft | EvtRoomClosed (creator) | nothing (in progress)
	CmdSelectTeam  -> EvtTeamSelected
	CmdStart       -> EvtRoomStarted | nothing (already in progress)
	CmdRecordScore -> EvtScoreRecorded
*/

type Command struct {
	Type        CommandType
	UserID      string
	DisplayName string
	AvatarURL   string
	Team        Team
	Score       int
	Answers     []int
}

type EventType string

const (
	EvtParticipantJoined  EventType = "ParticipantJoined"
	EvtParticipantUpdated EventType = "ParticipantUpdated"
	EvtParticipantLeft    EventType = "ParticipantLeft"
	EvtTeamSelected       EventType = "TeamSelected"
	EvtRoomStarted        EventType = "RoomStarted"
	EvtRoomClosed         EventType = "RoomClosed"
	EvtScoreRecorded      EventType = "ScoreRecorded"
)

type Event struct {
	Type        EventType
	UserID      string
	Participant Participant
	Team        Team
}

// Apply validates cmd against r and returns the resulting events together
// with the room they produce. r is never modified. An empty event list with a
// nil error means the command was a no-op.
func Apply(r Room, cmd Command) ([]Event, Room, error) {
	var events []Event

	switch cmd.Type {
	case CmdJoin:
		if cmd.UserID == "" {
			return nil, r, ErrInvalidParams
		}
		if r.State != StateWaiting {
			return nil, r, ErrAlreadyStarted
		}
		if p, ok := r.Participants[cmd.UserID]; ok {
			// re-join: display fields only, score and team survive
			p.DisplayName = cmd.DisplayName
			p.AvatarURL = cmd.AvatarURL
			events = []Event{{Type: EvtParticipantUpdated, UserID: cmd.UserID, Participant: p}}
			break
		}
		events = []Event{{
			Type:        EvtParticipantJoined,
			UserID:      cmd.UserID,
			Participant: NewParticipant(cmd.DisplayName, cmd.AvatarURL),
		}}

	case CmdLeave:
		if _, ok := r.Participants[cmd.UserID]; !ok {
			return nil, r, nil
		}
		if r.State != StateWaiting {
			return nil, r, nil
		}
		if cmd.UserID == r.CreatorID {
			events = []Event{{Type: EvtRoomClosed, UserID: cmd.UserID}}
			break
		}
		events = []Event{{Type: EvtParticipantLeft, UserID: cmd.UserID}}

	case CmdSelectTeam:
		if !cmd.Team.Valid() {
			return nil, r, ErrInvalidTeam
		}
		if r.State != StateWaiting {
			return nil, r, ErrAlreadyStarted
		}
		p, ok := r.Participants[cmd.UserID]
		if !ok {
			return nil, r, ErrNotParticipant
		}
		if p.Team == cmd.Team {
			return nil, r, nil
		}
		events = []Event{{Type: EvtTeamSelected, UserID: cmd.UserID, Team: cmd.Team}}

	case CmdStart:
		if cmd.UserID != r.CreatorID {
			return nil, r, ErrPermissionDenied
		}
		if r.State == StateInProgress {
			return nil, r, nil
		}
		if !CanTransition(r.State, StateInProgress) {
			return nil, r, fmt.Errorf("start from %q: %w", r.State, ErrAlreadyStarted)
		}
		if !ComputeQuorum(r).Met {
			return nil, r, ErrQuorumNotMet
		}
		events = []Event{{Type: EvtRoomStarted, UserID: cmd.UserID}}

	case CmdRecordScore:
		if r.State != StateInProgress {
			return nil, r, ErrNotStarted
		}
		p, ok := r.Participants[cmd.UserID]
		if !ok {
			return nil, r, ErrNotParticipant
		}
		if r.HasResult(cmd.UserID) {
			return nil, r, ErrAlreadyRecorded
		}
		p.Score = cmd.Score
		p.Answers = append([]int{}, cmd.Answers...)
		events = []Event{{Type: EvtScoreRecorded, UserID: cmd.UserID, Participant: p}}

	default:
		return nil, r, ErrUnsupportedCommand
	}

	return events, Fold(r, events), nil
}

// Fold replays events on a copy of r.
func Fold(r Room, events []Event) Room {
	s := r.Clone()
	for _, e := range events {
		switch e.Type {
		case EvtParticipantJoined, EvtParticipantUpdated, EvtScoreRecorded:
			s.Participants[e.UserID] = e.Participant.Clone()
		case EvtParticipantLeft:
			delete(s.Participants, e.UserID)
		case EvtTeamSelected:
			p := s.Participants[e.UserID]
			p.Team = e.Team
			s.Participants[e.UserID] = p
		case EvtRoomStarted:
			s.State = StateInProgress
		case EvtRoomClosed:
			s.Closed = true
		}
	}
	return s
}
