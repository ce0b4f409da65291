package questions

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
)

type questionModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Prompt     string    `gorm:"not null"`
	Options    []string  `gorm:"serializer:json;not null"`
	Correct    int       `gorm:"not null"`
	Reference  string
	Difficulty string    `gorm:"size:16;index:idx_questions_difficulty_theme,priority:1;not null"`
	Theme      string    `gorm:"size:64;index:idx_questions_difficulty_theme,priority:2"`
	UpdatedAt  time.Time
}

func (questionModel) TableName() string { return "questions" }

func toModel(q engine.Question) questionModel {
	return questionModel{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Options:    q.Options,
		Correct:    q.Correct,
		Reference:  q.Reference,
		Difficulty: string(q.Difficulty),
		Theme:      normalizeTheme(q.Theme),
	}
}

func (m questionModel) question() engine.Question {
	return engine.Question{
		ID:         m.ID,
		Prompt:     m.Prompt,
		Options:    m.Options,
		Correct:    m.Correct,
		Reference:  m.Reference,
		Difficulty: engine.Difficulty(m.Difficulty),
		Theme:      m.Theme,
	}
}

// OpenGorm opens the question bank database.
func OpenGorm(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("questions: open: %w", err)
	}
	return db, nil
}

// GormPool reads candidates from the questions table. Identical concurrent
// lookups (a burst of room creations) share one query.
type GormPool struct {
	db    *gorm.DB
	log   *zap.Logger
	group singleflight.Group
	query func(ctx context.Context, f Filter) ([]questionModel, error)
}

var _ Pool = (*GormPool)(nil)

func NewGormPool(ctx context.Context, db *gorm.DB, log *zap.Logger) (*GormPool, error) {
	if err := db.WithContext(ctx).AutoMigrate(&questionModel{}); err != nil {
		return nil, fmt.Errorf("questions: migrate: %w", err)
	}
	p := &GormPool{db: db, log: log}
	p.query = p.find
	return p, nil
}

// Import upserts qs by id.
func (p *GormPool) Import(ctx context.Context, qs []engine.Question) (int, error) {
	if len(qs) == 0 {
		return 0, nil
	}
	rows := make([]questionModel, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, toModel(q))
	}
	res := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 200)
	if res.Error != nil {
		return 0, fmt.Errorf("questions: import: %w", res.Error)
	}
	p.log.Info("questions imported", zap.Int("count", len(rows)))
	return len(rows), nil
}

func (p *GormPool) find(ctx context.Context, f Filter) ([]questionModel, error) {
	var rows []questionModel
	q := p.db.WithContext(ctx).Where("difficulty = ?", string(f.Difficulty))
	if f.Theme != "" {
		q = q.Where("theme = ?", f.Theme)
	}
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Candidates joins any identical lookup in flight. The shared query is
// detached from ctx, so one caller giving up never fails the others; that
// caller just stops waiting.
func (p *GormPool) Candidates(ctx context.Context, f Filter) ([]engine.Question, error) {
	key := string(f.Difficulty) + "|" + f.Theme
	qctx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (any, error) {
		rows, err := p.query(qctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]engine.Question, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.question())
		}
		return out, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("questions: candidates: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("questions: candidates: %w", res.Err)
	}
	if res.Shared {
		p.log.Debug("question lookup shared", zap.String("key", key))
	}
	return slices.Clone(res.Val.([]engine.Question)), nil
}
