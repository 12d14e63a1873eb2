package search

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Index is the write side of the Meilisearch client.
type Index interface {
	Searcher
	IndexTask(t TaskRecord) error
	DeleteTask(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	index    Index
	fallback Searcher
	logger   *log.Logger
	async    bool
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{index: index, fallback: fallback, logger: logger, async: true}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries Meilisearch if healthy, otherwise the store fallback.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.WithError(err).Warn("search: meilisearch error, falling back to store")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("search: store fallback failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask pushes a task to Meilisearch (fire-and-forget).
func (s *Service) IndexTask(t TaskRecord) {
	if !s.indexReady() {
		return
	}
	s.run(func() {
		if err := s.index.IndexTask(t); err != nil {
			s.logger.WithField("task_id", t.ID).WithError(err).Warn("search: index task")
		}
	})
}

// DeleteTasks removes tasks from the index (fire-and-forget).
func (s *Service) DeleteTasks(ids ...string) {
	if !s.indexReady() || len(ids) == 0 {
		return
	}
	s.run(func() {
		for _, id := range ids {
			if err := s.index.DeleteTask(id); err != nil {
				s.logger.WithField("task_id", id).WithError(err).Warn("search: delete task")
			}
		}
	})
}

func (s *Service) run(fn func()) {
	if s.async {
		go fn()
		return
	}
	fn()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
