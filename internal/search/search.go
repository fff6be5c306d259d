// Package search runs message search for the selected course as an overlay
// on top of the message store. Results never flow back into the store.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"coursechat/internal/models"
	"coursechat/internal/normalize"
)

const (
	DefaultDebounce  = 300 * time.Millisecond
	DefaultMinLength = 2

	searchFailedMessage   = "We couldn't search messages right now. Please try again."
	loadMoreFailedMessage = "We couldn't load more results. Please try again in a moment."
)

var (
	ErrInactive = errors.New("search is not active")
	ErrNoCursor = errors.New("search has no next page")
	ErrBusy     = errors.New("search request in flight")
)

// Searcher runs one page of a message search.
type Searcher interface {
	Search(ctx context.Context, courseID, query, cursor string) (models.Page, error)
}

type Config struct {
	Searcher Searcher
	// Debounce delays a query until typing settles. Zero means DefaultDebounce.
	Debounce time.Duration
	// MinLength is the shortest trimmed query, in runes, that is searched.
	MinLength      int
	ChangeCallback func()
}

// View is a snapshot of the search overlay.
type View struct {
	Query   string
	Active  bool
	Results []models.Message
	HasMore bool
	Loading bool
	Error   string
}

// Controller holds one search session. Each accepted query change bumps the
// sequence number and a response is applied only while its sequence is
// still the latest one.
type Controller struct {
	ctx            context.Context
	searcher       Searcher
	debounce       time.Duration
	minLength      int
	changeCallback func()

	mu       sync.Mutex
	courseID string
	query    string
	results  []models.Message
	cursor   string
	hasMore  bool
	loading  bool
	err      string
	sequence uint64
	timer    *time.Timer
}

// New creates a controller. Debounced requests run with ctx.
func New(ctx context.Context, config Config) *Controller {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.MinLength <= 0 {
		config.MinLength = DefaultMinLength
	}
	return &Controller{
		ctx:            ctx,
		searcher:       config.Searcher,
		debounce:       config.Debounce,
		minLength:      config.MinLength,
		changeCallback: config.ChangeCallback,
	}
}

func (c *Controller) notify() {
	if c.changeCallback != nil {
		c.changeCallback()
	}
}

// term returns the trimmed query if it is searchable. Must be called with mu
// held.
func (c *Controller) term() (string, bool) {
	term := strings.TrimSpace(c.query)
	if c.courseID == "" || utf8.RuneCountInString(term) < c.minLength {
		return "", false
	}
	return term, true
}

// reset drops results and invalidates everything in flight. Must be called
// with mu held.
func (c *Controller) reset() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.sequence++
	c.results = nil
	c.cursor = ""
	c.hasMore = false
	c.loading = false
	c.err = ""
}

// SetQuery updates the query. Queries shorter than the minimum length clear
// the session without a request; others are sent after the debounce delay,
// and only the last of a burst is sent.
func (c *Controller) SetQuery(query string) {
	c.mu.Lock()
	c.query = query
	c.reset()
	term, ok := c.term()
	if !ok {
		c.mu.Unlock()
		c.notify()
		return
	}

	sequence := c.sequence
	courseID := c.courseID
	c.loading = true
	c.timer = time.AfterFunc(c.debounce, func() {
		c.run(sequence, courseID, term)
	})
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) run(sequence uint64, courseID, term string) {
	page, err := c.searcher.Search(c.ctx, courseID, term, "")

	c.mu.Lock()
	if sequence != c.sequence {
		c.mu.Unlock()
		return
	}
	c.loading = false
	if err != nil {
		c.results = nil
		c.cursor = ""
		c.hasMore = false
		c.err = searchFailedMessage
		c.mu.Unlock()
		slog.Error("failed to search messages", "course_id", courseID, "query", term, "error", err)
		c.notify()
		return
	}
	c.results = normalize.List(page.Messages)
	c.cursor = page.NextCursor
	c.hasMore = page.HasMore
	c.mu.Unlock()

	c.notify()
}

// LoadMore appends the next page of results. A query change while the page
// is in flight discards it.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	term, ok := c.term()
	switch {
	case !ok:
		c.mu.Unlock()
		return ErrInactive
	case c.cursor == "":
		c.mu.Unlock()
		return ErrNoCursor
	case c.loading:
		c.mu.Unlock()
		return ErrBusy
	}
	sequence := c.sequence
	courseID := c.courseID
	cursor := c.cursor
	c.loading = true
	c.err = ""
	c.mu.Unlock()
	c.notify()

	page, err := c.searcher.Search(ctx, courseID, term, cursor)

	c.mu.Lock()
	if sequence != c.sequence {
		c.mu.Unlock()
		return nil
	}
	c.loading = false
	if err != nil {
		c.err = loadMoreFailedMessage
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("search more: %w", err)
	}
	c.results = append(c.results, normalize.List(page.Messages)...)
	c.cursor = page.NextCursor
	c.hasMore = page.HasMore
	c.mu.Unlock()

	c.notify()
	return nil
}

// Clear empties the query and the results.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.query = ""
	c.reset()
	c.mu.Unlock()

	c.notify()
}

// SetCourse scopes the session to another course, starting from scratch.
func (c *Controller) SetCourse(courseID string) {
	c.mu.Lock()
	c.courseID = courseID
	c.query = ""
	c.reset()
	c.mu.Unlock()

	c.notify()
}

// Stop cancels a pending debounced request.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, active := c.term()
	return View{
		Query:   c.query,
		Active:  active,
		Results: append([]models.Message{}, c.results...),
		HasMore: c.hasMore,
		Loading: c.loading,
		Error:   c.err,
	}
}
