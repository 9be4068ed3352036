package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/dyike/tradecouncil/models"
)

type Match struct {
	Reflection models.Reflection `json:"reflection"`
	Score      float64           `json:"score"`
}

type document struct {
	reflection models.Reflection
	terms      map[string]float64
}

// Index ranks reflections by TF-IDF cosine similarity of their situations.
// Equal scores keep insertion order.
type Index struct {
	mu   sync.RWMutex
	docs []document
	df   map[string]int
}

func NewIndex() *Index {
	return &Index{df: make(map[string]int)}
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func (ix *Index) Add(r models.Reflection) {
	terms := termFrequencies(r.Situation)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for t := range terms {
		ix.df[t]++
	}
	ix.docs = append(ix.docs, document{reflection: r, terms: terms})
}

func (ix *Index) Search(situation string, k int) []Match {
	if k <= 0 {
		return nil
	}
	query := termFrequencies(situation)
	if len(query) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := float64(len(ix.docs))
	idf := func(term string) float64 {
		return math.Log((1+n)/(1+float64(ix.df[term]))) + 1
	}
	weigh := func(tf map[string]float64) (map[string]float64, float64) {
		out := make(map[string]float64, len(tf))
		var norm float64
		for t, f := range tf {
			w := f * idf(t)
			out[t] = w
			norm += w * w
		}
		return out, math.Sqrt(norm)
	}

	qv, qn := weigh(query)
	matches := make([]Match, 0, len(ix.docs))
	for _, d := range ix.docs {
		dv, dn := weigh(d.terms)
		if dn == 0 || qn == 0 {
			continue
		}
		var dot float64
		for t, w := range qv {
			dot += w * dv[t]
		}
		if dot <= 0 {
			continue
		}
		matches = append(matches, Match{Reflection: d.reflection, Score: dot / (qn * dn)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (ix *Index) Retrieve(_ context.Context, situation string, k int) ([]string, error) {
	matches := ix.Search(situation, k)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Reflection.Recommendation)
	}
	return out, nil
}

func termFrequencies(text string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}
	tf := make(map[string]float64)
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		tf[w]++
	}
	for t := range tf {
		tf[t] /= float64(len(words))
	}
	return tf
}
