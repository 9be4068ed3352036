package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyike/tradecouncil/models"
)

// Persistent keeps reflections in a Repository. Search goes to the
// repository's bm25 index when it has one, otherwise to an in-memory Index.
type Persistent struct {
	repo     Repository
	searcher Searcher
	index    *Index
	now      func() time.Time
}

// Open loads every stored reflection into a fresh index.
func Open(ctx context.Context, repo Repository) (*Persistent, error) {
	if repo == nil {
		return nil, errors.New("memory repository is required")
	}
	stored, err := repo.ListReflections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reflections: %w", err)
	}
	p := &Persistent{
		repo:  repo,
		index: NewIndex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	if s, ok := repo.(Searcher); ok && s.FullText() {
		p.searcher = s
	}
	for _, r := range stored {
		p.index.Add(r)
	}
	return p, nil
}

// Add stores a recommendation learned in situation.
func (p *Persistent) Add(ctx context.Context, situation, recommendation string) (models.Reflection, error) {
	if strings.TrimSpace(situation) == "" || strings.TrimSpace(recommendation) == "" {
		return models.Reflection{}, errors.New("situation and recommendation are required")
	}
	r := models.Reflection{
		Id:             uuid.NewString(),
		Situation:      situation,
		Recommendation: recommendation,
		CreatedAt:      p.now(),
	}
	if err := p.repo.InsertReflection(ctx, r); err != nil {
		return models.Reflection{}, err
	}
	p.index.Add(r)
	return r, nil
}

func (p *Persistent) Retrieve(ctx context.Context, situation string, k int) ([]string, error) {
	matches, err := p.Search(ctx, situation, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Reflection.Recommendation)
	}
	return out, nil
}

func (p *Persistent) Search(ctx context.Context, situation string, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.searcher == nil {
		return p.index.Search(situation, k), nil
	}
	hits, err := p.searcher.SearchReflections(ctx, situation, k)
	if err != nil {
		return nil, fmt.Errorf("search reflections: %w", err)
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{Reflection: h.Reflection, Score: h.Score})
	}
	return out, nil
}

// Ranking names the backend Search uses.
func (p *Persistent) Ranking() string {
	if p.searcher != nil {
		return "bm25"
	}
	return "tfidf"
}

func (p *Persistent) Len() int {
	return p.index.Len()
}
