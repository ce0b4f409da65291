package questions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

func TestGormPool_CancelledCallerLeavesSharedLookupRunning(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	p := &GormPool{log: zap.NewNop()}
	p.query = func(ctx context.Context, f Filter) ([]questionModel, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []questionModel{{ID: "q1", Prompt: "p", Options: []string{"a", "b"}, Difficulty: string(f.Difficulty)}}, nil
	}
	f := Filter{Difficulty: engine.DifficultyEasy}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Candidates(ctx, f)
		firstErr <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		qs  []engine.Question
		err error
	}
	second := make(chan result, 1)
	go func() {
		qs, err := p.Candidates(context.Background(), f)
		second <- result{qs, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.Len(t, res.qs, 1)
		assert.Equal(t, "q1", res.qs[0].ID)
	case <-time.After(time.Second):
		t.Fatal("shared lookup never finished")
	}
}
