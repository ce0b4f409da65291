package questions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

func bank(n int, diff engine.Difficulty, theme string) []engine.Question {
	out := make([]engine.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, engine.Question{
			ID:         fmt.Sprintf("%s-%s-%d", diff, theme, i),
			Prompt:     fmt.Sprintf("question %d", i),
			Options:    []string{"a", "b", "c", "d"},
			Correct:    i % 4,
			Difficulty: diff,
			Theme:      theme,
		})
	}
	return out
}

func ids(qs []engine.Question) map[string]bool {
	m := map[string]bool{}
	for _, q := range qs {
		m[q.ID] = true
	}
	return m
}

func TestDraw_ExactCountNoDuplicates(t *testing.T) {
	pool := NewMemoryPool(bank(20, engine.DifficultyEasy, "")...)
	for count := 1; count <= 20; count++ {
		got, err := Draw(context.Background(), pool, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: count}, nil)
		require.NoError(t, err)
		assert.Len(t, got, count)
		assert.Len(t, ids(got), count, "duplicate question ids")
	}
}

func TestDraw_ThemedThenFallback(t *testing.T) {
	pool := NewMemoryPool(append(bank(3, engine.DifficultyMedium, "reis"), bank(6, engine.DifficultyMedium, "profetas")...)...)
	ctx := context.Background()

	got, err := Draw(ctx, pool, engine.Params{Difficulty: engine.DifficultyMedium, Theme: "Reis", QuestionCount: 3}, nil)
	require.NoError(t, err)
	for _, q := range got {
		assert.Equal(t, "reis", q.Theme)
	}

	got, err = Draw(ctx, pool, engine.Params{Difficulty: engine.DifficultyMedium, Theme: "reis", QuestionCount: 5}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestDraw_InsufficientQuestions(t *testing.T) {
	pool := NewMemoryPool(append(bank(7, engine.DifficultyEasy, ""), bank(10, engine.DifficultyHard, "")...)...)
	_, err := Draw(context.Background(), pool, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 10}, nil)
	require.ErrorIs(t, err, engine.ErrInsufficientQuestions)
}

func TestDraw_DuplicateIDsCountOnce(t *testing.T) {
	qs := bank(3, engine.DifficultyEasy, "")
	pool := poolFunc(func(context.Context, Filter) ([]engine.Question, error) {
		return append(qs, qs...), nil
	})
	_, err := Draw(context.Background(), pool, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 4}, nil)
	require.ErrorIs(t, err, engine.ErrInsufficientQuestions)
}

func TestDraw_PoolFailureIsTransient(t *testing.T) {
	pool := poolFunc(func(context.Context, Filter) ([]engine.Question, error) {
		return nil, errors.New("connection reset")
	})
	_, err := Draw(context.Background(), pool, engine.Params{Difficulty: engine.DifficultyEasy, QuestionCount: 1}, nil)
	require.ErrorIs(t, err, engine.ErrTransientStore)
}

func TestDraw_SeededRNGIsReproducible(t *testing.T) {
	pool := NewMemoryPool(bank(30, engine.DifficultyHard, "")...)
	p := engine.Params{Difficulty: engine.DifficultyHard, QuestionCount: 10}
	a, err := Draw(context.Background(), pool, p, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	b, err := Draw(context.Background(), pool, p, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

type poolFunc func(context.Context, Filter) ([]engine.Question, error)

func (f poolFunc) Candidates(ctx context.Context, filter Filter) ([]engine.Question, error) {
	return f(ctx, filter)
}

func TestParse(t *testing.T) {
	in := `[
		{"enunciado": "Quem construiu a arca?", "alternativas": ["Noé","Moisés","Davi","Abraão"], "correta": 0, "nivel": "facil", "tema": " Patriarcas ", "referencia": "Gn 6"},
		{"enunciado": "", "alternativas": ["a"], "correta": 0, "nivel": "facil"},
		{"enunciado": "Sem nível", "alternativas": ["a","b"], "correta": 1, "nivel": "?"},
		{"enunciado": "Fora do intervalo", "alternativas": ["a","b"], "correta": 2, "nivel": "medio"},
		{"id": "q-42", "enunciado": "Com id", "alternativas": ["a","b"], "correta": 1, "nivel": "DIFICIL"}
	]`
	qs, skipped, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, qs, 2)

	assert.Equal(t, "Quem construiu a arca?", qs[0].Prompt)
	assert.Equal(t, "patriarcas", qs[0].Theme)
	assert.Equal(t, "Gn 6", qs[0].Reference)
	assert.NotEmpty(t, qs[0].ID)

	assert.Equal(t, "q-42", qs[1].ID)
	assert.Equal(t, engine.DifficultyHard, qs[1].Difficulty)

	again, _, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, qs[0].ID, again[0].ID, "derived ids must be stable")
}

func TestMemoryPool_ReplacesByID(t *testing.T) {
	pool := NewMemoryPool(engine.Question{ID: "x", Prompt: "old", Difficulty: engine.DifficultyEasy})
	pool.Add(engine.Question{ID: "x", Prompt: "new", Difficulty: engine.DifficultyEasy})
	assert.Equal(t, 1, pool.Len())
	got, err := pool.Candidates(context.Background(), Filter{Difficulty: engine.DifficultyEasy})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Prompt)
}
