package questions

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

// record is one entry of a question bank export.
type record struct {
	ID           string   `json:"id"`
	Enunciado    string   `json:"enunciado"`
	Alternativas []string `json:"alternativas"`
	Correta      int      `json:"correta"`
	Nivel        string   `json:"nivel"`
	Tema         string   `json:"tema"`
	Referencia   string   `json:"referencia"`
}

var questionNamespace = uuid.MustParse("6f1c8f4e-2b7d-4c52-9a51-0d3a7c1e9b42")

func (r record) question() (engine.Question, bool) {
	prompt := strings.TrimSpace(r.Enunciado)
	if prompt == "" || len(r.Alternativas) == 0 {
		return engine.Question{}, false
	}
	for _, a := range r.Alternativas {
		if strings.TrimSpace(a) == "" {
			return engine.Question{}, false
		}
	}
	if r.Correta < 0 || r.Correta >= len(r.Alternativas) {
		return engine.Question{}, false
	}
	diff := engine.Difficulty(strings.ToLower(strings.TrimSpace(r.Nivel)))
	if !diff.Valid() {
		return engine.Question{}, false
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		// stable across re-imports of the same file
		id = uuid.NewSHA1(questionNamespace, []byte(prompt)).String()
	}
	return engine.Question{
		ID:         id,
		Prompt:     prompt,
		Options:    r.Alternativas,
		Correct:    r.Correta,
		Reference:  strings.TrimSpace(r.Referencia),
		Difficulty: diff,
		Theme:      normalizeTheme(r.Tema),
	}, true
}

// Parse reads a JSON array of question records. Incomplete records are
// skipped and counted.
func Parse(r io.Reader) ([]engine.Question, int, error) {
	var recs []record
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, 0, fmt.Errorf("questions: decode: %w", err)
	}
	var (
		out     []engine.Question
		skipped int
	)
	for _, rec := range recs {
		q, ok := rec.question()
		if !ok {
			skipped++
			continue
		}
		out = append(out, q)
	}
	return out, skipped, nil
}

func LoadFile(path string) ([]engine.Question, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("questions: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
