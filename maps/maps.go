// Package maps implements the hot-reloadable key/value Map collaborator
// (spec.md §6 "Map interface"): a read-only lookup table backed by a
// SQLite file, reloaded on a timer, adapted from the teacher's
// cache/cache.go SQLite-index approach but repurposed from an object cache
// to a read-only config-driven lookup table.
package maps

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mailscore/core/logger"
	coreerrors "github.com/mailscore/core/pkg/errors"
	"github.com/mailscore/core/pkg/fingerprint"
	"github.com/mailscore/core/pkg/metrics"
)

// Map is the read-only lookup surface a symbol callback consults (spec.md
// §6): "is this key present" and, for maps that carry a payload column,
// the associated value.
type Map interface {
	Contains(key string) bool
	Lookup(key string) (string, bool)
}

// snapshot is one fully-loaded generation of a map's contents.
type snapshot struct {
	entries     map[string]string
	fingerprint fingerprint.Key64
	loadedAt    time.Time
}

// SQLiteMap is a Map backed by a SQLite file containing a single
// `entries(key TEXT PRIMARY KEY, value TEXT)` table, polled for changes on
// an interval and swapped in atomically (spec.md §6, §7 MapLoadError: a
// failed reload keeps the previous good snapshot).
type SQLiteMap struct {
	name string
	path string

	current atomic.Pointer[snapshot]

	mu       sync.Mutex
	lastMod  time.Time
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSQLiteMap opens path, performs an initial synchronous load, and
// starts the periodic reload loop at interval. A failed initial load is a
// fatal error (there is no previous snapshot to fall back to); failures
// during later reloads are logged and retain the previous snapshot.
func NewSQLiteMap(name, path string, interval time.Duration) (*SQLiteMap, error) {
	m := &SQLiteMap{name: name, path: path, interval: interval, stopCh: make(chan struct{})}
	if err := m.reload(); err != nil {
		return nil, fmt.Errorf("initial load of map %q: %w", name, err)
	}
	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *SQLiteMap) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.reload(); err != nil {
				metrics.MapReloadsTotal.WithLabelValues(m.name, "error").Inc()
				logger.Warn("map reload failed, keeping previous snapshot", "map", m.name, "error", err)
			}
		case <-m.stopCh:
			return
		}
	}
}

// reload stats path; if the modification time has not advanced since the
// last successful load, it is a no-op (spec.md §6 "reloaded when its
// backing file's modification time changes").
func (m *SQLiteMap) reload() error {
	info, err := os.Stat(m.path)
	if err != nil {
		return &coreerrors.MapLoadError{Path: m.path, Err: err}
	}

	m.mu.Lock()
	unchanged := !info.ModTime().After(m.lastMod) && m.current.Load() != nil
	m.mu.Unlock()
	if unchanged {
		return nil
	}

	entries, err := loadEntries(m.path)
	if err != nil {
		return &coreerrors.MapLoadError{Path: m.path, Err: err}
	}

	fp := fingerprintEntries(entries)
	if prev := m.current.Load(); prev != nil && prev.fingerprint == fp {
		// Structurally identical to what's already loaded (e.g. the file
		// was rewritten with the same content); skip the swap.
		m.mu.Lock()
		m.lastMod = info.ModTime()
		m.mu.Unlock()
		return nil
	}

	m.current.Store(&snapshot{entries: entries, fingerprint: fp, loadedAt: time.Now()})
	m.mu.Lock()
	m.lastMod = info.ModTime()
	m.mu.Unlock()
	metrics.MapReloadsTotal.WithLabelValues(m.name, "ok").Inc()
	return nil
}

func loadEntries(path string) (map[string]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(context.Background(), `SELECT key, value FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		entries[k] = v
	}
	return entries, rows.Err()
}

func fingerprintEntries(entries map[string]string) fingerprint.Key64 {
	// Order-independent: fold each pair's own fingerprint with XOR so
	// iteration order over the map never affects the result.
	var fp fingerprint.Key64
	for k, v := range entries {
		fp ^= fingerprint.OfStrings(k, v)
	}
	return fp
}

// Contains reports whether key is present in the current snapshot.
func (m *SQLiteMap) Contains(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

// Lookup returns key's associated value and whether it was present.
func (m *SQLiteMap) Lookup(key string) (string, bool) {
	snap := m.current.Load()
	if snap == nil {
		return "", false
	}
	v, ok := snap.entries[key]
	return v, ok
}

// Stop halts the reload loop.
func (m *SQLiteMap) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Registry holds every configured map by name, for symbol callbacks to
// look up at registration or call time (spec.md §6).
type Registry struct {
	mu   sync.RWMutex
	maps map[string]Map
}

func NewRegistry() *Registry {
	return &Registry{maps: make(map[string]Map)}
}

func (r *Registry) Register(name string, m Map) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[name] = m
}

func (r *Registry) Lookup(name string) (Map, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.maps[name]
	return m, ok
}
