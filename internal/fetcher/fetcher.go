package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"character_wiki/internal/logger"
	"character_wiki/internal/metrics"
	"character_wiki/internal/models"

	"golang.org/x/time/rate"
)

// StatusError возвращается, если сервис ответил неожиданным статусом.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// ErrNotFound возвращается из FetchCharacter для неизвестного id.
var ErrNotFound = errors.New("character not found")

// Options задают HTTP-поведение Client.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RPS        float64
	Burst      int
	HTTPClient *http.Client
}

// Client обращается к сервису со списком персонажей.
type Client struct {
	base       string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	log        *logger.Entry
}

// NewClient создаёт клиента для списка с корнем base.
func NewClient(base string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	return &Client{
		base:       base,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        logger.Component("fetcher").WithField("base", base),
	}
}

// Base возвращает курсор первой страницы без фильтра.
func (c *Client) Base() models.Cursor {
	return BaseCursor(c.base)
}

// Search возвращает курсор первой страницы с фильтром по имени.
func (c *Client) Search(name string) models.Cursor {
	return SearchCursor(c.base, name)
}

// FetchPage загружает одну страницу списка. 404 сервис отдаёт на фильтр
// без совпадений, и это пустая первая страница.
func (c *Client) FetchPage(ctx context.Context, cursor models.Cursor) (*models.Page, error) {
	if cursor.Absent() {
		return nil, errors.New("fetch page: absent cursor")
	}

	var page models.Page
	found, err := c.getJSON(ctx, cursor.String(), &page)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", cursor, err)
	}
	if !found {
		page = models.Page{}
	}
	page.Normalize()

	c.log.WithFields(map[string]interface{}{
		"cursor":      cursor.String(),
		"items_count": len(page.Results),
		"has_next":    !page.Info.Next.Absent(),
	}).Debug("Fetched page")
	return &page, nil
}

// FetchCharacter загружает одного персонажа по id.
func (c *Client) FetchCharacter(ctx context.Context, id int) (*models.Character, error) {
	var ch models.Character
	found, err := c.getJSON(ctx, CharacterURL(c.base, id), &ch)
	if err != nil {
		return nil, fmt.Errorf("fetch character %d: %w", id, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &ch, nil
}

// getJSON выполняет GET с повторами и декодирует тело в dst.
// На ответ 404 возвращает false без ошибки.
func (c *Client) getJSON(ctx context.Context, target string, dst interface{}) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		found, retry, err := c.attempt(ctx, target, dst)
		if err == nil {
			return found, nil
		}
		lastErr = err
		if !retry || attempt == c.maxRetries {
			break
		}

		c.log.WithError(err).WithFields(map[string]interface{}{
			"url":     target,
			"attempt": attempt,
		}).Warn("Request failed, retrying")

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return false, lastErr
}

func (c *Client) attempt(ctx context.Context, target string, dst interface{}) (found, retry bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, false, err
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(metrics.OutcomeError, started)
		// отменённый вызов не повторяем
		return false, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.ObserveAPIRequest(metrics.OutcomeNotFound, started)
		return false, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.ObserveAPIRequest(metrics.OutcomeError, started)
		return false, true, &StatusError{URL: target, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		metrics.ObserveAPIRequest(metrics.OutcomeError, started)
		return false, false, &StatusError{URL: target, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.ObserveAPIRequest(metrics.OutcomeError, started)
		return false, false, fmt.Errorf("decode response: %w", err)
	}
	metrics.ObserveAPIRequest(metrics.OutcomeOK, started)
	return true, false, nil
}

// BaseCursor возвращает курсор списка без фильтра.
func BaseCursor(base string) models.Cursor {
	return models.Cursor(base)
}

// SearchCursor возвращает курсор списка с фильтром по имени.
// Имя обрезается по краям и экранируется.
func SearchCursor(base, name string) models.Cursor {
	q := url.Values{}
	q.Set("name", strings.TrimSpace(name))
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return models.Cursor(base + sep + q.Encode())
}

// CharacterURL возвращает URL одного персонажа.
func CharacterURL(base string, id int) string {
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strconv.Itoa(id)
}
