package search

import (
	"context"
	"strings"

	"taskboard/api/internal/store"
)

// TaskFinder is the store-side text match used when Meilisearch is down.
type TaskFinder interface {
	SearchTasks(ctx context.Context, boardID, text string, limit int) ([]store.Task, error)
}

// StoreSearcher answers queries from the primary store (Postgres FTS or
// the in-memory substring match).
type StoreSearcher struct {
	finder TaskFinder
}

func NewStoreSearcher(finder TaskFinder) *StoreSearcher {
	return &StoreSearcher{finder: finder}
}

// Healthy always returns true; if the store is down so is the app.
func (s *StoreSearcher) Healthy() bool { return true }

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	tasks, err := s.finder.SearchTasks(ctx, q.BoardID, q.Text, q.Limit)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, Result{
			TaskID:    t.ID,
			BoardID:   t.BoardID,
			ListID:    t.ListID,
			Title:     t.Title,
			Snippet:   snippet(t.Description, 160),
			Completed: t.Completed,
		})
	}
	return results, len(results), nil
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
