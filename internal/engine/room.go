package engine

import (
	"fmt"
	"maps"
	"slices"
)

type State string

const (
	StateWaiting    State = "waiting"
	StateInProgress State = "in_progress"
)

type Team string

const (
	TeamUnassigned Team = "unassigned"
	TeamA          Team = "teamA"
	TeamB          Team = "teamB"
)

func (t Team) Valid() bool {
	return t == TeamUnassigned || t == TeamA || t == TeamB
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "facil"
	DifficultyMedium Difficulty = "medio"
	DifficultyHard   Difficulty = "dificil"
)

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Question is the frozen snapshot stored in a room. Correct indexes Options.
type Question struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Options    []string   `json:"options"`
	Correct    int        `json:"correct"`
	Reference  string     `json:"reference,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	Theme      string     `json:"theme,omitempty"`
}

type Participant struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Score       int    `json:"score"`
	Answers     []int  `json:"answers"`
	Team        Team   `json:"team"`
}

func NewParticipant(name, avatar string) Participant {
	return Participant{DisplayName: name, AvatarURL: avatar, Answers: []int{}, Team: TeamUnassigned}
}

func (p Participant) Clone() Participant {
	p.Answers = slices.Clone(p.Answers)
	if p.Answers == nil {
		p.Answers = []int{}
	}
	return p
}

type Room struct {
	ID              string                 `json:"id"`
	InviteCode      string                 `json:"inviteCode"`
	CreatorID       string                 `json:"creatorId"`
	State           State                  `json:"state"`
	Difficulty      Difficulty             `json:"difficulty"`
	Theme           string                 `json:"theme,omitempty"`
	QuestionCount   int                    `json:"questionCount"`
	MinParticipants int                    `json:"minParticipants"`
	Questions       []Question             `json:"questions"`
	Participants    map[string]Participant `json:"participants"`
	CreatedAt       int64                  `json:"createdAt"`

	// Closed is set by Fold when the creator's departure tears the room down.
	// It is never persisted.
	Closed bool `json:"-"`
}

// Params are the creator's choices for a new room.
type Params struct {
	Difficulty      Difficulty `json:"difficulty"`
	Theme           string     `json:"theme,omitempty"`
	QuestionCount   int        `json:"questionCount"`
	MinParticipants int        `json:"minParticipants"`
}

func (p Params) Validate() error {
	if !p.Difficulty.Valid() {
		return fmt.Errorf("%w: difficulty %q", ErrInvalidParams, p.Difficulty)
	}
	if p.QuestionCount < 1 {
		return fmt.Errorf("%w: questionCount must be at least 1", ErrInvalidParams)
	}
	if p.MinParticipants < 1 {
		return fmt.Errorf("%w: minParticipants must be at least 1", ErrInvalidParams)
	}
	return nil
}

// NewRoom builds a waiting room whose only participant is the creator.
func NewRoom(p Params, code, creatorID, creatorName, creatorAvatar string, questions []Question) Room {
	return Room{
		InviteCode:      code,
		CreatorID:       creatorID,
		State:           StateWaiting,
		Difficulty:      p.Difficulty,
		Theme:           p.Theme,
		QuestionCount:   p.QuestionCount,
		MinParticipants: p.MinParticipants,
		Questions:       slices.Clone(questions),
		Participants: map[string]Participant{
			creatorID: NewParticipant(creatorName, creatorAvatar),
		},
	}
}

func (r Room) Clone() Room {
	r.Questions = slices.Clone(r.Questions)
	parts := maps.Clone(r.Participants)
	if parts == nil {
		parts = map[string]Participant{}
	}
	for id, p := range parts {
		parts[id] = p.Clone()
	}
	r.Participants = parts
	return r
}

func (r Room) IsParticipant(userID string) bool {
	_, ok := r.Participants[userID]
	return ok
}

// HasResult reports whether userID has answered every question. A result is
// recorded once and never replaced.
func (r Room) HasResult(userID string) bool {
	p, ok := r.Participants[userID]
	return ok && len(r.Questions) > 0 && len(p.Answers) >= len(r.Questions)
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
