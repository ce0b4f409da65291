// Package questions holds the candidate question pool and draws the frozen
// question set a room is created with.
package questions

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

// Filter narrows the pool. An empty Theme matches every theme.
type Filter struct {
	Difficulty engine.Difficulty
	Theme      string
}

func (f Filter) matches(q engine.Question) bool {
	if q.Difficulty != f.Difficulty {
		return false
	}
	return f.Theme == "" || strings.EqualFold(q.Theme, f.Theme)
}

type Pool interface {
	Candidates(ctx context.Context, f Filter) ([]engine.Question, error)
}

// Draw picks p.QuestionCount distinct questions at random. The themed pool is
// tried first; when it is too small the draw falls back to every question of
// the requested difficulty. A short session is never returned.
func Draw(ctx context.Context, pool Pool, p engine.Params, rng *rand.Rand) ([]engine.Question, error) {
	want := p.QuestionCount
	filter := Filter{Difficulty: p.Difficulty, Theme: normalizeTheme(p.Theme)}

	var cands []engine.Question
	if filter.Theme != "" {
		qs, err := pool.Candidates(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("%w: question pool: %v", engine.ErrTransientStore, err)
		}
		cands = dedupe(qs)
	}
	if len(cands) < want {
		qs, err := pool.Candidates(ctx, Filter{Difficulty: p.Difficulty})
		if err != nil {
			return nil, fmt.Errorf("%w: question pool: %v", engine.ErrTransientStore, err)
		}
		cands = dedupe(qs)
	}
	if len(cands) < want {
		return nil, fmt.Errorf("%w: want %d %s questions, pool has %d",
			engine.ErrInsufficientQuestions, want, p.Difficulty, len(cands))
	}

	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	return cands[:want:want], nil
}

// dedupe returns a fresh slice keeping the first question for each id.
func dedupe(qs []engine.Question) []engine.Question {
	seen := make(map[string]bool, len(qs))
	out := make([]engine.Question, 0, len(qs))
	for _, q := range qs {
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out
}

func normalizeTheme(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
