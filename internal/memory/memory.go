package memory

import (
	"context"
	"strings"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

// Store retrieves up to k past recommendations for situations similar to the
// given one, most similar first. An empty result is not an error.
type Store interface {
	Retrieve(ctx context.Context, situation string, k int) ([]string, error)
}

// Repository persists reflections.
type Repository interface {
	InsertReflection(ctx context.Context, r models.Reflection) error
	ListReflections(ctx context.Context) ([]models.Reflection, error)
}

// Searcher is a Repository that ranks reflections itself. FullText reports
// whether its index is available; when it is not, Persistent ranks in memory.
type Searcher interface {
	FullText() bool
	SearchReflections(ctx context.Context, situation string, k int) ([]models.ScoredReflection, error)
}

// Format renders retrieved recommendations for a prompt.
func Format(recommendations []string) string {
	var parts []string
	for _, r := range recommendations {
		if s := strings.TrimSpace(r); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return consts.NoPastMemories
	}
	return strings.Join(parts, "\n\n")
}
