package types

import (
	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

// Client message types.
const (
	MsgSelectTeam = "select_team"
	MsgStart      = "start"
	MsgChat       = "chat"
	MsgLeave      = "leave"
	MsgAnswer     = "answer"
)

// Server message types.
const (
	MsgRoomState    = "room_state"
	MsgRoomClosed   = "room_closed"
	MsgQuestion     = "question"
	MsgAnswerResult = "answer_result"
	MsgResult       = "result"
	MsgError        = "error"
)

type ClientMessage struct {
	Type   string `json:"type"`
	Team   string `json:"team,omitempty"`
	Text   string `json:"text,omitempty"`
	Option *int   `json:"option,omitempty"`
}

// QuestionView is a question as players see it, without the answer key.
type QuestionView struct {
	ID         string            `json:"id"`
	Prompt     string            `json:"prompt"`
	Options    []string          `json:"options"`
	Reference  string            `json:"reference,omitempty"`
	Difficulty engine.Difficulty `json:"difficulty"`
	Theme      string            `json:"theme,omitempty"`
}

func NewQuestionView(q engine.Question) QuestionView {
	return QuestionView{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Options:    q.Options,
		Reference:  q.Reference,
		Difficulty: q.Difficulty,
		Theme:      q.Theme,
	}
}

// ParticipantView leaves out the answer sheet. Players see each other's
// scores, never each other's choices.
type ParticipantView struct {
	DisplayName string      `json:"displayName"`
	AvatarURL   string      `json:"avatarUrl,omitempty"`
	Score       int         `json:"score"`
	Team        engine.Team `json:"team"`
	Finished    bool        `json:"finished"`
}

// RoomView is the public shape of a room. Questions are only listed once the
// room is in progress.
type RoomView struct {
	ID              string                     `json:"id"`
	InviteCode      string                     `json:"inviteCode"`
	CreatorID       string                     `json:"creatorId"`
	State           engine.State               `json:"state"`
	Difficulty      engine.Difficulty          `json:"difficulty"`
	Theme           string                     `json:"theme,omitempty"`
	QuestionCount   int                        `json:"questionCount"`
	MinParticipants int                        `json:"minParticipants"`
	Participants    map[string]ParticipantView `json:"participants"`
	CreatedAt       int64                      `json:"createdAt"`
	Quorum          engine.Quorum              `json:"quorum"`
	Questions       []QuestionView             `json:"questions,omitempty"`
}

func NewRoomView(r engine.Room) RoomView {
	v := RoomView{
		ID:              r.ID,
		InviteCode:      r.InviteCode,
		CreatorID:       r.CreatorID,
		State:           r.State,
		Difficulty:      r.Difficulty,
		Theme:           r.Theme,
		QuestionCount:   r.QuestionCount,
		MinParticipants: r.MinParticipants,
		Participants:    make(map[string]ParticipantView, len(r.Participants)),
		CreatedAt:       r.CreatedAt,
		Quorum:          engine.ComputeQuorum(r),
	}
	for id, p := range r.Participants {
		v.Participants[id] = ParticipantView{
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			Score:       p.Score,
			Team:        p.Team,
			Finished:    r.HasResult(id),
		}
	}
	if r.State == engine.StateInProgress {
		v.Questions = make([]QuestionView, len(r.Questions))
		for i, q := range r.Questions {
			v.Questions[i] = NewQuestionView(q)
		}
	}
	return v
}

type ServerMessage struct {
	Type     string         `json:"type"`
	Version  int            `json:"version,omitempty"`
	Room     *RoomView      `json:"room,omitempty"`
	Messages []chat.Message `json:"messages,omitempty"`

	// question / answer_result / result; Number counts from 1
	Number   int           `json:"number,omitempty"`
	Total    int           `json:"total,omitempty"`
	Question *QuestionView `json:"question,omitempty"`
	Correct  *bool         `json:"correct,omitempty"`
	Score    *int          `json:"score,omitempty"`
	Answers  []int         `json:"answers,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the JSON error shape shared by the HTTP API and websocket.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
