package pager_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"character_wiki/internal/models"
	"character_wiki/internal/pager"

	"github.com/stretchr/testify/require"
)

const base models.Cursor = "P1"

// fakeSource serves canned pages. A cursor listed in gates blocks until its
// channel is closed or the fetch context is cancelled.
type fakeSource struct {
	mu     sync.Mutex
	pages  map[models.Cursor]*models.Page
	errs   map[models.Cursor]error
	gates  map[models.Cursor]chan struct{}
	called []models.Cursor
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: map[models.Cursor]*models.Page{},
		errs:  map[models.Cursor]error{},
		gates: map[models.Cursor]chan struct{}{},
	}
}

func (s *fakeSource) FetchPage(ctx context.Context, cursor models.Cursor) (*models.Page, error) {
	s.mu.Lock()
	s.called = append(s.called, cursor)
	gate := s.gates[cursor]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[cursor]; err != nil {
		return nil, err
	}
	page, ok := s.pages[cursor]
	if !ok {
		return &models.Page{Results: []models.Character{}}, nil
	}
	return page, nil
}

func (s *fakeSource) Search(name string) models.Cursor {
	return models.Cursor("search:" + name)
}

func (s *fakeSource) calls() []models.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Cursor{}, s.called...)
}

func chars(names ...string) []models.Character {
	out := make([]models.Character, 0, len(names))
	for i, n := range names {
		out = append(out, models.Character{ID: i + 1, Name: n})
	}
	return out
}

func names(items []models.Character) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func wait(t *testing.T, f *pager.Fetch, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.NoError(t, f.Wait(context.Background()))
}

func TestInitialize(t *testing.T) {
	src := newFakeSource()
	acc := pager.New(src)

	acc.Initialize(base, chars("A", "B"), models.PageInfo{Next: "P2", Count: 4, Pages: 2})

	st := acc.Snapshot()
	require.Equal(t, []string{"A", "B"}, names(st.Items))
	require.Equal(t, models.Cursor("P2"), st.Next)
	require.Equal(t, base, st.Current)
	require.True(t, st.HasMore)
	require.False(t, st.Loading)
	require.Empty(t, src.calls())
}

func TestMerge(t *testing.T) {
	t.Run("appends when prev is present", func(t *testing.T) {
		src := newFakeSource()
		src.pages["P2"] = &models.Page{
			Info:    models.PageInfo{Next: "P3", Prev: "P1"},
			Results: chars("C", "D"),
		}
		acc := pager.New(src)
		acc.Initialize(base, chars("A", "B"), models.PageInfo{Next: "P2"})

		f, err := acc.SetCursor(context.Background(), "P2")
		wait(t, f, err)

		st := acc.Snapshot()
		require.Equal(t, []string{"A", "B", "C", "D"}, names(st.Items))
		require.Equal(t, models.Cursor("P3"), st.Next)
		require.Equal(t, models.Cursor("P1"), st.Prev)
	})

	t.Run("resets when prev is absent", func(t *testing.T) {
		src := newFakeSource()
		src.pages["search:x"] = &models.Page{
			Info:    models.PageInfo{Next: "X2"},
			Results: chars("X", "Y"),
		}
		acc := pager.New(src)
		acc.Initialize(base, chars("A", "B"), models.PageInfo{Next: "P2"})

		f, err := acc.Search(context.Background(), "x")
		wait(t, f, err)

		st := acc.Snapshot()
		require.Equal(t, []string{"X", "Y"}, names(st.Items))
		require.Equal(t, models.Cursor("X2"), st.Next)
		require.Equal(t, models.Cursor("search:x"), st.Current)
	})

	t.Run("empty first page clears the items", func(t *testing.T) {
		src := newFakeSource()
		acc := pager.New(src)
		acc.Initialize(base, chars("A", "B"), models.PageInfo{Next: "P2"})

		f, err := acc.Search(context.Background(), "nobody")
		wait(t, f, err)

		st := acc.Snapshot()
		require.Empty(t, st.Items)
		require.False(t, st.HasMore)
	})
}

func TestSearch_BlankQueryIsNoop(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		src := newFakeSource()
		acc := pager.New(src)
		acc.Initialize(base, chars("A", "B"), models.PageInfo{Next: "P2"})
		before := acc.Snapshot()

		f, err := acc.Search(context.Background(), q)
		require.ErrorIs(t, err, pager.ErrEmptyQuery)
		require.Nil(t, f)
		require.Equal(t, before, acc.Snapshot())
		require.Empty(t, src.calls())
	}
}

func TestSearch_TrimsQuery(t *testing.T) {
	src := newFakeSource()
	acc := pager.New(src)
	acc.Initialize(base, nil, models.PageInfo{})

	f, err := acc.Search(context.Background(), "  rick ")
	wait(t, f, err)
	require.Equal(t, []models.Cursor{"search:rick"}, src.calls())
}

func TestLoadMore_ChainsCursors(t *testing.T) {
	src := newFakeSource()
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Next: "P3", Prev: "P1"}, Results: chars("C")}
	src.pages["P3"] = &models.Page{Info: models.PageInfo{Prev: "P2"}, Results: chars("D")}
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.LoadMore(context.Background())
	wait(t, f, err)
	require.Equal(t, models.Cursor("P2"), f.Cursor())

	f, err = acc.LoadMore(context.Background())
	wait(t, f, err)
	require.Equal(t, models.Cursor("P3"), f.Cursor())

	require.Equal(t, []models.Cursor{"P2", "P3"}, src.calls())
	require.Equal(t, []string{"A", "C", "D"}, names(acc.Snapshot().Items))
}

func TestLoadMore_NoNextPage(t *testing.T) {
	src := newFakeSource()
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{})

	f, err := acc.LoadMore(context.Background())
	require.ErrorIs(t, err, pager.ErrNoNextPage)
	require.Nil(t, f)
	require.Empty(t, src.calls())
}

func TestSetCursor_Guards(t *testing.T) {
	src := newFakeSource()
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.SetCursor(context.Background(), "")
	require.ErrorIs(t, err, pager.ErrNoCursor)
	require.Nil(t, f)

	// the seed page is already held
	f, err = acc.SetCursor(context.Background(), base)
	require.NoError(t, err)
	require.Nil(t, f)
	require.Empty(t, src.calls())
}

func TestSetCursor_UnchangedCursorFetchesOnce(t *testing.T) {
	src := newFakeSource()
	gate := make(chan struct{})
	src.gates["P2"] = gate
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Prev: "P1"}, Results: chars("B")}
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	first, err := acc.LoadMore(context.Background())
	require.NoError(t, err)
	require.True(t, acc.Snapshot().Loading)

	second, err := acc.LoadMore(context.Background())
	require.NoError(t, err)
	require.Nil(t, second)

	close(gate)
	require.NoError(t, first.Wait(context.Background()))
	require.Equal(t, []string{"A", "B"}, names(acc.Snapshot().Items))
	require.Equal(t, []models.Cursor{"P2"}, src.calls())
}

func TestSetCursor_SupersededFetchIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.gates["P2"] = make(chan struct{})
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Next: "P3", Prev: "P1"}, Results: chars("stale")}
	src.pages["search:morty"] = &models.Page{Info: models.PageInfo{}, Results: chars("Morty")}
	acc := pager.New(src)
	acc.Initialize(base, chars("Rick"), models.PageInfo{Next: "P2"})

	slow, err := acc.LoadMore(context.Background())
	require.NoError(t, err)

	fast, err := acc.Search(context.Background(), "morty")
	wait(t, fast, err)

	require.ErrorIs(t, slow.Wait(context.Background()), pager.ErrSuperseded)

	st := acc.Snapshot()
	require.Equal(t, []string{"Morty"}, names(st.Items))
	require.False(t, st.HasMore)
	require.False(t, st.Loading)
}

func TestFetchFailure_LeavesStateAndAllowsRetry(t *testing.T) {
	src := newFakeSource()
	src.errs["P2"] = errors.New("connection refused")
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.LoadMore(context.Background())
	require.NoError(t, err)
	require.Error(t, f.Wait(context.Background()))

	st := acc.Snapshot()
	require.Equal(t, []string{"A"}, names(st.Items))
	require.Equal(t, base, st.Current)
	require.Equal(t, models.Cursor("P2"), st.Next)
	require.Contains(t, st.LastError, "connection refused")

	src.mu.Lock()
	delete(src.errs, "P2")
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Prev: "P1"}, Results: chars("B")}
	src.mu.Unlock()

	f, err = acc.LoadMore(context.Background())
	wait(t, f, err)

	st = acc.Snapshot()
	require.Equal(t, []string{"A", "B"}, names(st.Items))
	require.Empty(t, st.LastError)
}

func TestFetchFailure_AfterSupersededLoadMore(t *testing.T) {
	src := newFakeSource()
	src.gates["P2"] = make(chan struct{})
	src.errs["search:morty"] = errors.New("connection refused")
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	slow, err := acc.LoadMore(context.Background())
	require.NoError(t, err)

	failed, err := acc.Search(context.Background(), "morty")
	require.NoError(t, err)
	require.Error(t, failed.Wait(context.Background()))
	require.ErrorIs(t, slow.Wait(context.Background()), pager.ErrSuperseded)

	// the cancelled P2 was never merged, so the cursor falls back to the seed
	st := acc.Snapshot()
	require.Equal(t, base, st.Current)
	require.Equal(t, models.Cursor("P2"), st.Next)
	require.Equal(t, []string{"A"}, names(st.Items))
	require.True(t, st.HasMore)

	src.mu.Lock()
	delete(src.gates, "P2")
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Prev: "P1"}, Results: chars("B")}
	src.mu.Unlock()

	f, err := acc.LoadMore(context.Background())
	wait(t, f, err)
	require.Equal(t, models.Cursor("P2"), f.Cursor())
	require.Equal(t, []string{"A", "B"}, names(acc.Snapshot().Items))
}

func TestFetchFailure_RestoresLastMergedCursor(t *testing.T) {
	src := newFakeSource()
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Next: "P3", Prev: "P1"}, Results: chars("B")}
	src.errs["P3"] = errors.New("timeout")
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.LoadMore(context.Background())
	wait(t, f, err)

	f, err = acc.LoadMore(context.Background())
	require.NoError(t, err)
	require.Error(t, f.Wait(context.Background()))

	st := acc.Snapshot()
	require.Equal(t, models.Cursor("P2"), st.Current)
	require.Equal(t, models.Cursor("P3"), st.Next)
}

func TestPageHook(t *testing.T) {
	src := newFakeSource()
	src.pages["P2"] = &models.Page{Info: models.PageInfo{Prev: "P1"}, Results: chars("B")}

	var got []models.Cursor
	acc := pager.New(src, pager.WithPageHook(func(cursor models.Cursor, page *models.Page) {
		got = append(got, cursor)
	}))
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.LoadMore(context.Background())
	wait(t, f, err)
	require.Equal(t, []models.Cursor{"P2"}, got)
}

func TestClose_CancelsInflight(t *testing.T) {
	src := newFakeSource()
	src.gates["P2"] = make(chan struct{})
	acc := pager.New(src)
	acc.Initialize(base, chars("A"), models.PageInfo{Next: "P2"})

	f, err := acc.LoadMore(context.Background())
	require.NoError(t, err)

	acc.Close()
	require.ErrorIs(t, f.Wait(context.Background()), pager.ErrSuperseded)
	require.Equal(t, []string{"A"}, names(acc.Snapshot().Items))
}

func TestScenario_LoadMoreToLastPage(t *testing.T) {
	src := newFakeSource()
	src.pages["P2"] = &models.Page{
		Info:    models.PageInfo{Prev: "P1"},
		Results: []models.Character{{ID: 2, Name: "Morty"}},
	}
	acc := pager.New(src)
	acc.Initialize(base, []models.Character{{ID: 1, Name: "Rick"}}, models.PageInfo{Next: "P2"})

	st := acc.Snapshot()
	require.Len(t, st.Items, 1)
	require.True(t, st.HasMore)

	f, err := acc.LoadMore(context.Background())
	wait(t, f, err)

	st = acc.Snapshot()
	require.Equal(t, []string{"Rick", "Morty"}, names(st.Items))
	require.False(t, st.HasMore)

	_, err = acc.LoadMore(context.Background())
	require.ErrorIs(t, err, pager.ErrNoNextPage)
}
