package questions

import (
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

// MemoryPool keeps questions in process. Later additions with an existing id
// replace the earlier question.
type MemoryPool struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]engine.Question
}

var _ Pool = (*MemoryPool)(nil)

func NewMemoryPool(qs ...engine.Question) *MemoryPool {
	p := &MemoryPool{byID: make(map[string]engine.Question)}
	p.Add(qs...)
	return p
}

func (p *MemoryPool) Add(qs ...engine.Question) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range qs {
		if _, ok := p.byID[q.ID]; !ok {
			p.order = append(p.order, q.ID)
		}
		q.Options = slices.Clone(q.Options)
		p.byID[q.ID] = q
	}
	return len(qs)
}

func (p *MemoryPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

func (p *MemoryPool) Candidates(ctx context.Context, f Filter) ([]engine.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []engine.Question
	for _, id := range p.order {
		q := p.byID[id]
		if f.matches(q) {
			q.Options = slices.Clone(q.Options)
			out = append(out, q)
		}
	}
	return out, nil
}
