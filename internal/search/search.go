// Package search implements debounced user-directory lookups with a
// persisted recent-search history.
package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/logging"
	"github.com/hpungsan/shutter/internal/metrics"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// Directory performs remote lookups. *directory.Client implements it.
type Directory interface {
	Search(ctx context.Context, query string) ([]directory.UserSummary, error)
}

// Gateway is the key-value store history is persisted through.
type Gateway interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Options configures a Controller.
type Options struct {
	// Debounce is the trailing-edge quiet period after SetQueryText.
	// Zero means DefaultDebounce; negative disables the delay.
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Snapshot is a point-in-time view of the search screen.
type Snapshot struct {
	Text        string                  `json:"text"`
	Results     []directory.UserSummary `json:"results"`
	History     []string                `json:"history"`
	HasSearched bool                    `json:"has_searched"`
	Loading     bool                    `json:"loading"`
}

// Controller owns the query text, the current results and the history.
//
// Every dispatched lookup takes a new generation; a response that arrives
// after a newer lookup (or a clear) was dispatched is discarded.
type Controller struct {
	dir      Directory
	store    Gateway
	debounce time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// persistMu serializes history writes so the last write wins.
	persistMu sync.Mutex

	mu          sync.Mutex
	text        string
	results     []directory.UserSummary
	history     []string
	hasSearched bool
	loading     bool
	generation  uint64
	timer       *time.Timer
	debounceSeq uint64
	closed      bool
	onChange    func(Snapshot)
}

// New returns a controller. Call LoadHistory to restore persisted history.
func New(dir Directory, store Gateway, opts Options) *Controller {
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	if debounce < 0 {
		debounce = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		dir:      dir,
		store:    store,
		debounce: debounce,
		log:      logging.OrNop(opts.Logger).Named("search"),
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		results:  []directory.UserSummary{},
		history:  []string{},
	}
}

// OnChange registers fn to receive a snapshot after every change.
// fn is called without the controller lock held.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Text:        c.text,
		Results:     append([]directory.UserSummary{}, c.results...),
		History:     append([]string{}, c.history...),
		HasSearched: c.hasSearched,
		Loading:     c.loading,
	}
}

func (c *Controller) unlockAndNotify() {
	fn := c.onChange
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// SetQueryText stores normalized text and restarts the debounce timer.
// The lookup runs once the text has been stable for the debounce period.
func (c *Controller) SetQueryText(text string) string {
	text = NormalizeInput(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return text
	}
	c.text = text
	c.debounceSeq++
	seq := c.debounceSeq
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(seq, text) })
	c.unlockAndNotify()
	return text
}

// SelectHistoryEntry puts a history entry in the query box, where it
// debounces like typed text.
func (c *Controller) SelectHistoryEntry(entry string) string {
	return c.SetQueryText(entry)
}

// fire handles a debounce expiry. Timers superseded by a later keystroke
// carry an old seq and do nothing.
func (c *Controller) fire(seq uint64, text string) {
	c.mu.Lock()
	if c.closed || seq != c.debounceSeq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	// Failures are logged inside Lookup; results are retained.
	_, _ = c.Lookup(c.ctx, text)
}

// ClearQuery empties the query, cancels any pending debounce and clears
// the results. In-flight lookups become stale.
func (c *Controller) ClearQuery() {
	c.mu.Lock()
	c.text = ""
	c.debounceSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.resetResultsLocked()
	c.unlockAndNotify()
}

func (c *Controller) resetResultsLocked() {
	c.generation++
	c.results = []directory.UserSummary{}
	c.hasSearched = false
	c.loading = false
}

// Lookup queries the directory for query.
//
// A query that normalizes to empty clears the results and makes no request.
// On success the results are replaced and the term is recorded in history.
// On failure the previous results are kept and the NETWORK_FAILED error is
// returned. A response superseded by a newer lookup does not touch state.
func (c *Controller) Lookup(ctx context.Context, query string) ([]directory.UserSummary, error) {
	term := NormalizeTerm(query)

	c.mu.Lock()
	if term == "" {
		c.resetResultsLocked()
		c.unlockAndNotify()
		c.metrics.RecordLookup(metrics.LookupSkipped, 0)
		return []directory.UserSummary{}, nil
	}
	c.generation++
	gen := c.generation
	c.hasSearched = true
	c.loading = true
	c.unlockAndNotify()

	start := time.Now()
	users, err := c.dir.Search(ctx, term)
	took := time.Since(start)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.metrics.RecordLookup(metrics.LookupStale, took)
		c.log.Debug("discarding stale lookup response",
			zap.String("query", term),
			zap.Uint64("generation", gen))
		return users, err
	}
	c.loading = false
	if err != nil {
		c.unlockAndNotify()
		c.metrics.RecordLookup(metrics.LookupError, took)
		c.log.Warn("lookup failed", zap.String("query", term), zap.Error(err))
		return nil, err
	}
	if users == nil {
		users = []directory.UserSummary{}
	}
	c.results = users
	c.unlockAndNotify()
	c.metrics.RecordLookup(metrics.LookupOK, took)

	c.record(ctx, term)
	return users, nil
}

// Close stops the debounce timer and cancels debounced lookups.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.debounceSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.cancel()
}
