package search

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/shutter/internal/errors"
)

// HistoryKey is the gateway key holding the history list.
const HistoryKey = "searchHistory"

// MaxHistory is the number of entries kept.
const MaxHistory = 5

// insertHistory front-inserts term. A term already present is left where it
// is and the list is returned unchanged with changed=false.
func insertHistory(history []string, term string) (out []string, changed bool) {
	if slices.Contains(history, term) {
		return history, false
	}
	out = make([]string, 0, min(len(history)+1, MaxHistory))
	out = append(out, term)
	for _, h := range history {
		if len(out) == MaxHistory {
			break
		}
		out = append(out, h)
	}
	return out, true
}

// sanitizeHistory drops blanks and duplicates and caps the list.
func sanitizeHistory(in []string) []string {
	out := make([]string, 0, MaxHistory)
	for _, h := range in {
		h = strings.TrimSpace(h)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
		if len(out) == MaxHistory {
			break
		}
	}
	return out
}

// History returns the current history, most recent first.
func (c *Controller) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.history...)
}

// LoadHistory replaces in-memory history with the persisted list. A missing
// key loads as empty.
func (c *Controller) LoadHistory(ctx context.Context) ([]string, error) {
	raw, found, err := c.store.Get(ctx, HistoryKey)
	if err != nil {
		return nil, errors.NewPersistenceFailed(HistoryKey, err)
	}

	loaded := []string{}
	if found && strings.TrimSpace(raw) != "" {
		var stored []string
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return nil, errors.NewPersistenceFailed(HistoryKey, fmt.Errorf("decode: %w", err))
		}
		loaded = sanitizeHistory(stored)
	}

	c.mu.Lock()
	c.history = loaded
	c.unlockAndNotify()
	c.metrics.SetHistorySize(len(loaded))
	return append([]string{}, loaded...), nil
}

// record adds term to history after a successful lookup. Write failures are
// logged and swallowed.
func (c *Controller) record(ctx context.Context, term string) {
	c.mu.Lock()
	updated, changed := insertHistory(c.history, term)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.history = updated
	c.unlockAndNotify()

	if err := c.persistHistory(ctx); err != nil {
		c.log.Warn("failed to save search history", zap.String("query", term), zap.Error(err))
	}
}

// RemoveHistoryEntry deletes entry from history. Removing an unknown entry
// is a no-op. The in-memory list is updated even if the write fails.
func (c *Controller) RemoveHistoryEntry(ctx context.Context, entry string) error {
	c.mu.Lock()
	idx := slices.Index(c.history, entry)
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	c.history = slices.Delete(slices.Clone(c.history), idx, idx+1)
	c.unlockAndNotify()

	if err := c.persistHistory(ctx); err != nil {
		c.log.Warn("failed to save search history", zap.String("removed", entry), zap.Error(err))
		return err
	}
	return nil
}

// ClearHistory empties history once confirm returns true. A nil confirm
// counts as declined. It reports whether history was cleared.
func (c *Controller) ClearHistory(ctx context.Context, confirm func() bool) (bool, error) {
	if confirm == nil || !confirm() {
		return false, nil
	}

	c.mu.Lock()
	c.history = []string{}
	c.unlockAndNotify()

	if err := c.persistHistory(ctx); err != nil {
		c.log.Warn("failed to clear search history", zap.Error(err))
		return true, err
	}
	return true, nil
}

// persistHistory writes the current history. Writes are serialized and each
// one reads the latest list, so the stored value never goes backwards.
func (c *Controller) persistHistory(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	current := append([]string{}, c.history...)
	c.mu.Unlock()
	c.metrics.SetHistorySize(len(current))

	data, err := json.Marshal(current)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := c.store.Set(ctx, HistoryKey, string(data)); err != nil {
		return errors.NewPersistenceFailed(HistoryKey, err)
	}
	return nil
}
