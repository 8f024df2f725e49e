// Package pager holds the pagination accumulator: the list of characters
// built up by search and "load more" actions against a paginated listing.
//
// A fetched page replaces the accumulated items when it reports no previous
// page (it is the first page of whatever query produced the cursor) and is
// appended to them otherwise.
package pager

import (
	"context"
	"errors"
	"strings"
	"sync"

	"character_wiki/internal/logger"
	"character_wiki/internal/metrics"
	"character_wiki/internal/models"
)

var (
	ErrEmptyQuery = errors.New("empty search query")
	ErrNoNextPage = errors.New("no next page")
	ErrNoCursor   = errors.New("absent cursor")
	// ErrSuperseded is reported to a waiter whose fetch was overtaken by a
	// newer cursor change. Its result was discarded.
	ErrSuperseded = errors.New("fetch superseded by a newer cursor")
)

// Source is the paginated listing the accumulator reads from.
type Source interface {
	FetchPage(ctx context.Context, cursor models.Cursor) (*models.Page, error)
	Search(name string) models.Cursor
}

// PageHook is called after a page has been merged.
type PageHook func(cursor models.Cursor, page *models.Page)

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithPageHook registers a hook run for every merged page.
func WithPageHook(hook PageHook) Option {
	return func(a *Accumulator) {
		a.hook = hook
	}
}

// State is a point-in-time copy of the accumulator.
type State struct {
	Current   models.Cursor      `json:"current"`
	Next      models.Cursor      `json:"next"`
	Prev      models.Cursor      `json:"prev"`
	Count     int                `json:"count"`
	Pages     int                `json:"pages"`
	Items     []models.Character `json:"items"`
	HasMore   bool               `json:"has_more"`
	Loading   bool               `json:"loading"`
	LastError string             `json:"last_error,omitempty"`
}

// Accumulator owns the cursor bookkeeping and the accumulated items.
// It is safe for concurrent use.
type Accumulator struct {
	src  Source
	hook PageHook
	log  *logger.Entry

	mu      sync.Mutex
	seed    models.Cursor
	current models.Cursor
	// applied is the cursor of the last page actually merged into items.
	applied models.Cursor
	next    models.Cursor
	prev    models.Cursor
	count   int
	pages   int
	items   []models.Character
	lastErr error

	// gen identifies the latest cursor change; only its fetch may be applied.
	gen      uint64
	cancel   context.CancelFunc
	inflight *Fetch
}

// New creates an empty accumulator reading from src.
func New(src Source, opts ...Option) *Accumulator {
	a := &Accumulator{
		src:   src,
		log:   logger.Component("pager"),
		items: []models.Character{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize seeds the accumulator with an already fetched first page.
// No request is issued.
func (a *Accumulator) Initialize(seed models.Cursor, items []models.Character, info models.PageInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.supersede()
	a.seed = seed
	a.current = seed
	a.applied = seed
	a.items = append([]models.Character{}, items...)
	a.applyInfo(info)
	a.lastErr = nil
}

// SetCursor moves the accumulator to cursor and starts fetching it in the
// background. It returns a nil Fetch when nothing has to be fetched: the
// cursor did not change, or it is the seed cursor whose page is already held.
func (a *Accumulator) SetCursor(ctx context.Context, cursor models.Cursor) (*Fetch, error) {
	if cursor.Absent() {
		return nil, ErrNoCursor
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cursor == a.current {
		return nil, nil
	}

	a.current = cursor
	a.supersede()
	if cursor == a.seed {
		return nil, nil
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &Fetch{cursor: cursor, done: make(chan struct{})}
	a.cancel = cancel
	a.inflight = f

	go a.run(fctx, a.gen, f)
	return f, nil
}

// Search starts a name-filtered listing. Blank queries change nothing.
func (a *Accumulator) Search(ctx context.Context, query string) (*Fetch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	return a.SetCursor(ctx, a.src.Search(query))
}

// LoadMore fetches the page after the last merged one. On the last page it
// returns ErrNoNextPage without issuing a request.
func (a *Accumulator) LoadMore(ctx context.Context) (*Fetch, error) {
	a.mu.Lock()
	next := a.next
	a.mu.Unlock()

	if next.Absent() {
		return nil, ErrNoNextPage
	}
	return a.SetCursor(ctx, next)
}

// Snapshot returns a copy of the current state.
func (a *Accumulator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := State{
		Current: a.current,
		Next:    a.next,
		Prev:    a.prev,
		Count:   a.count,
		Pages:   a.pages,
		Items:   append([]models.Character{}, a.items...),
		HasMore: !a.next.Absent(),
		Loading: a.inflight != nil,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// Close cancels the in-flight fetch, if any.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.supersede()
}

// supersede invalidates the in-flight fetch. Callers hold mu.
func (a *Accumulator) supersede() {
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.inflight = nil
}

func (a *Accumulator) run(ctx context.Context, gen uint64, f *Fetch) {
	defer close(f.done)

	log := a.log.WithField("cursor", f.cursor.String())
	log.Debug("Fetching page")
	page, err := a.src.FetchPage(ctx, f.cursor)

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		metrics.PageMerges.WithLabelValues(metrics.MergeSuperseded).Inc()
		log.Debug("Discarding superseded page")
		f.err = ErrSuperseded
		return
	}

	a.cancel = nil
	a.inflight = nil
	if err != nil {
		// back to the last merged page, so the same action can be retried
		a.current = a.applied
		a.lastErr = err
		a.mu.Unlock()
		log.Errorf("Failed to fetch page: %v", err)
		f.err = err
		return
	}

	mode := a.merge(page)
	a.applied = f.cursor
	a.lastErr = nil
	hook := a.hook
	a.mu.Unlock()

	metrics.PageMerges.WithLabelValues(mode).Inc()
	log.WithFields(map[string]interface{}{
		"mode":        mode,
		"items_count": len(page.Results),
	}).Debug("Merged page")

	if hook != nil {
		hook(f.cursor, page)
	}
}

// merge applies a fetched page. Callers hold mu.
func (a *Accumulator) merge(page *models.Page) string {
	a.applyInfo(page.Info)
	if page.IsFirst() {
		a.items = append([]models.Character{}, page.Results...)
		return metrics.MergeReset
	}
	a.items = append(a.items, page.Results...)
	return metrics.MergeAppend
}

func (a *Accumulator) applyInfo(info models.PageInfo) {
	a.next = info.Next
	a.prev = info.Prev
	a.count = info.Count
	a.pages = info.Pages
}

// Fetch is a handle on one background page fetch.
type Fetch struct {
	cursor models.Cursor
	done   chan struct{}
	err    error
}

// Cursor returns the cursor being fetched.
func (f *Fetch) Cursor() models.Cursor {
	if f == nil {
		return ""
	}
	return f.cursor
}

// Wait blocks until the fetch has been applied or discarded, or ctx is done.
// Waiting on a nil Fetch returns immediately.
func (f *Fetch) Wait(ctx context.Context) error {
	if f == nil {
		return nil
	}
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
