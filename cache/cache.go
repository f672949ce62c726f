// Package cache stores text translation results in badger, keyed by a hash
// of the request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultTTL is how long a translation stays cached.
const DefaultTTL = 24 * time.Hour

// Usage mirrors the token usage of the call that produced an entry.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Entry is one cached translation.
type Entry struct {
	Text      string    `json:"text"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cache is a badger-backed key/value store with per-entry TTL.
type Cache struct {
	db *badger.DB
}

// New opens a cache at path. An empty path keeps everything in memory.
func New(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(slogLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the entry for key. Expired and undecodable entries are misses.
func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Debug("cache get failed", "error", err)
		}
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key for ttl. A non-positive ttl never expires.
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Clear drops every entry.
func (c *Cache) Clear() error {
	return c.db.DropAll()
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// GenerateKey hashes parts into a stable key. Parts are length-delimited so
// ("ab", "c") and ("a", "bc") differ.
func GenerateKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s|", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// slogLogger routes badger's logs to slog. Info is demoted to debug.
type slogLogger struct{}

func (slogLogger) Errorf(f string, args ...any)   { slog.Error("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Warningf(f string, args ...any) { slog.Warn("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Infof(f string, args ...any)    { slog.Debug("badger: " + fmt.Sprintf(f, args...)) }
func (slogLogger) Debugf(f string, args ...any)   { slog.Debug("badger: " + fmt.Sprintf(f, args...)) }
