package session

import (
	"context"
	"errors"
	"slices"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

const PointsPerCorrect = 10

var ErrFinished = errors.New("no questions left")
var ErrNotFinished = errors.New("questions remain unanswered")
var ErrInvalidOption = errors.New("invalid answer option")

// ScoreRecorder persists a participant's final result.
type ScoreRecorder interface {
	Apply(ctx context.Context, roomID string, cmd engine.Command) (engine.Room, []engine.Event, error)
}

// Playback walks the room's questions in their stored order. It is not safe
// for concurrent use.
type Playback struct {
	roomID    string
	userID    string
	questions []engine.Question
	answers   []int
	score     int
}

func NewPlayback(room engine.Room, userID string) *Playback {
	return &Playback{
		roomID:    room.ID,
		userID:    userID,
		questions: slices.Clone(room.Questions),
		answers:   make([]int, 0, len(room.Questions)),
	}
}

func (p *Playback) Index() int { return len(p.answers) }

func (p *Playback) Total() int { return len(p.questions) }

func (p *Playback) Done() bool { return len(p.answers) >= len(p.questions) }

func (p *Playback) Score() int { return p.score }

func (p *Playback) Answers() []int { return slices.Clone(p.answers) }

func (p *Playback) Current() (engine.Question, bool) {
	if p.Done() {
		return engine.Question{}, false
	}
	return p.questions[len(p.answers)], true
}

// Answer records the chosen option for the current question and moves on.
func (p *Playback) Answer(option int) (bool, error) {
	q, ok := p.Current()
	if !ok {
		return false, ErrFinished
	}
	if option < 0 || option >= len(q.Options) {
		return false, ErrInvalidOption
	}
	p.answers = append(p.answers, option)
	correct := option == q.Correct
	if correct {
		p.score += PointsPerCorrect
	}
	return correct, nil
}

// Finish merges the final score and answers into the room's record for this
// participant.
func (p *Playback) Finish(ctx context.Context, rec ScoreRecorder) (engine.Room, error) {
	if !p.Done() {
		return engine.Room{}, ErrNotFinished
	}
	room, _, err := rec.Apply(ctx, p.roomID, engine.Command{
		Type:    engine.CmdRecordScore,
		UserID:  p.userID,
		Score:   p.score,
		Answers: p.Answers(),
	})
	return room, err
}
