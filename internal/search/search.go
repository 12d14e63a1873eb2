// Package search finds tasks on a board by free text.
package search

import "context"

// Result is a single task hit.
type Result struct {
	TaskID    string `json:"taskId"`
	BoardID   string `json:"boardId"`
	ListID    string `json:"listId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Completed bool   `json:"completed"`
}

// Query is scoped to one board.
type Query struct {
	BoardID string
	Text    string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a task search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is what we push to the index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	BoardID     string `json:"boardId"`
	ListID      string `json:"listId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}
