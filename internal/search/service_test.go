package search

import (
	"context"
	"errors"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/store"
)

type fakeIndex struct {
	healthy bool
	results []Result
	err     error
	indexed []TaskRecord
	deleted []string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }
func (f *fakeIndex) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}
func (f *fakeIndex) IndexTask(t TaskRecord) error { f.indexed = append(f.indexed, t); return nil }
func (f *fakeIndex) DeleteTask(id string) error   { f.deleted = append(f.deleted, id); return nil }

type fakeFinder struct {
	tasks []store.Task
	err   error
	calls int
}

func (f *fakeFinder) SearchTasks(context.Context, string, string, int) ([]store.Task, error) {
	f.calls++
	return f.tasks, f.err
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newSyncService(index Index, fallback Searcher) *Service {
	svc := NewService(index, fallback, quietLogger())
	svc.async = false
	return svc
}

func TestSearchPrefersHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, results: []Result{{TaskID: "t1", Title: "Ship <mark>it</mark>"}}}
	finder := &fakeFinder{}
	svc := newSyncService(index, NewStoreSearcher(finder))

	resp := svc.Search(context.Background(), Query{BoardID: "b1", Text: "it"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].TaskID)
	assert.Equal(t, 0, finder.calls)
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	index := &fakeIndex{healthy: true, err: errors.New("timeout")}
	finder := &fakeFinder{tasks: []store.Task{{ID: "t2", BoardID: "b1", ListID: "l1", Title: "Write docs", Description: "for the api"}}}
	svc := newSyncService(index, NewStoreSearcher(finder))

	resp := svc.Search(context.Background(), Query{BoardID: "b1", Text: "docs"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t2", resp.Results[0].TaskID)
	assert.Equal(t, "for the api", resp.Results[0].Snippet)
	assert.Equal(t, 1, resp.Total)
}

func TestSearchWithoutIndexUsesStore(t *testing.T) {
	finder := &fakeFinder{err: errors.New("db down")}
	svc := newSyncService(nil, NewStoreSearcher(finder))

	resp := svc.Search(context.Background(), Query{BoardID: "b1", Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestStoreSearcherSkipsBlankQuery(t *testing.T) {
	finder := &fakeFinder{}
	results, total, err := NewStoreSearcher(finder).Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
	assert.Zero(t, finder.calls)
}

func TestIndexWritesSkipUnhealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: false}
	svc := newSyncService(index, nil)
	svc.IndexTask(TaskRecord{ID: "t1"})
	svc.DeleteTasks("t1")
	assert.Empty(t, index.indexed)
	assert.Empty(t, index.deleted)

	index.healthy = true
	svc.IndexTask(TaskRecord{ID: "t1"})
	svc.DeleteTasks("t1", "t2")
	assert.Len(t, index.indexed, 1)
	assert.Equal(t, []string{"t1", "t2"}, index.deleted)
}

func TestSnippetTruncatesLongText(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	got := snippet(long, 20)
	assert.LessOrEqual(t, len([]rune(got)), 21)
	assert.Equal(t, "short", snippet("  short  ", 20))
}
