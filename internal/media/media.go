// Package media holds saved capture records and the collection they are persisted in.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/shutter/internal/errors"
)

// StorageKey is the gateway key holding the saved-media collection.
const StorageKey = "savedMedia"

// Kind identifies a capture type.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPhoto || k == KindVideo
}

// Draft is an unsaved capture awaiting commit or discard.
type Draft struct {
	Path string `json:"path"`
	Kind Kind   `json:"type"`
}

// Record is a committed capture. Records are never mutated once stored.
type Record struct {
	Path       string    `json:"path"`
	Kind       Kind      `json:"type"`
	CapturedAt time.Time `json:"timestamp"`
}

// NewRecord promotes a draft into a record stamped at the given time.
func NewRecord(d Draft, at time.Time) (Record, error) {
	if strings.TrimSpace(d.Path) == "" {
		return Record{}, errors.NewInvalidRequest("media path must not be empty")
	}
	if !d.Kind.Valid() {
		return Record{}, errors.NewInvalidRequest(fmt.Sprintf("unknown media kind %q", d.Kind))
	}
	return Record{Path: d.Path, Kind: d.Kind, CapturedAt: at.UTC()}, nil
}

// Gateway is the key-value store the library persists through.
type Gateway interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Library is the newest-first collection of saved records.
type Library struct {
	store Gateway
	now   func() time.Time
}

// NewLibrary returns a library backed by store.
func NewLibrary(store Gateway) *Library {
	return &Library{store: store, now: time.Now}
}

// Load returns all saved records, newest first. A missing collection is empty.
func (l *Library) Load(ctx context.Context) ([]Record, error) {
	raw, found, err := l.store.Get(ctx, StorageKey)
	if err != nil {
		return nil, errors.NewPersistenceFailed(StorageKey, err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, errors.NewPersistenceFailed(StorageKey, fmt.Errorf("decode: %w", err))
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Append stores rec at the front of the collection and returns the new collection.
func (l *Library) Append(ctx context.Context, rec Record) ([]Record, error) {
	if strings.TrimSpace(rec.Path) == "" {
		return nil, errors.NewInvalidRequest("media path must not be empty")
	}

	existing, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}

	updated := make([]Record, 0, len(existing)+1)
	updated = append(updated, rec)
	updated = append(updated, existing...)

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := l.store.Set(ctx, StorageKey, string(data)); err != nil {
		return nil, errors.NewPersistenceFailed(StorageKey, err)
	}
	return updated, nil
}

// Commit promotes d to a record stamped now and appends it.
func (l *Library) Commit(ctx context.Context, d Draft) (Record, error) {
	rec, err := NewRecord(d, l.now())
	if err != nil {
		return Record{}, err
	}
	if _, err := l.Append(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Clear removes every saved record.
func (l *Library) Clear(ctx context.Context) error {
	if err := l.store.Delete(ctx, StorageKey); err != nil {
		return errors.NewPersistenceFailed(StorageKey, err)
	}
	return nil
}
