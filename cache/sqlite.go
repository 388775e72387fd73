package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"

	cachekey "github.com/always-cache/transcache/pkg/cache-key"
)

const sqliteStore = "sqlite"

// SQLiteCache stores entries in an SQLite database, one row per key.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	log        zerolog.Logger
}

// NewSQLiteCache opens (or creates) the cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
// If logger is nil, the global logger is used.
func NewSQLiteCache(filename string, logger *zerolog.Logger) (*SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			expires INTEGER NOT NULL,
			entry BLOB NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON entries (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s: %w", filename, err)
		}
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		log:        storeLogger(logger, sqliteStore),
	}, nil
}

func (s *SQLiteCache) Get(ctx context.Context, key cachekey.CacheKey) (*Entry, bool) {
	k := key.String()
	var expires int64
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, entry FROM entries WHERE key = ?", k).Scan(&expires, &data)
	if errors.Is(err, sql.ErrNoRows) {
		StoreLookups.WithLabelValues(sqliteStore, "miss").Inc()
		return nil, false
	} else if err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "get").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not retrieve from cache")
		return nil, false
	}
	if expires != 0 && time.Now().UnixMilli() >= expires {
		StoreLookups.WithLabelValues(sqliteStore, "expired").Inc()
		s.purge(ctx, k, expires)
		return nil, false
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "get").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not read stored entry")
		return nil, false
	}
	StoreLookups.WithLabelValues(sqliteStore, "hit").Inc()
	return entry, true
}

// purge removes an expired row unless it was replaced in the meantime.
func (s *SQLiteCache) purge(ctx context.Context, k string, expires int64) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ? AND expires = ?", k, expires); err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "invalidate").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not purge expired entry")
	}
}

func (s *SQLiteCache) Put(ctx context.Context, key cachekey.CacheKey, entry *Entry) {
	k := key.String()
	data, err := marshalEntry(entry)
	if err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "put").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not serialize entry")
		return
	}
	var expires int64
	if !entry.Expires.IsZero() {
		expires = entry.Expires.UnixMilli()
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO entries (key, expires, entry) VALUES (?, ?, ?)", k, expires, data)
	if err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "put").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not write to cache")
	}
}

func (s *SQLiteCache) Invalidate(ctx context.Context, key cachekey.CacheKey) {
	k := key.String()
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", k); err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "invalidate").Inc()
		s.log.Error().Err(err).Str("key", k).Msg("Could not invalidate entry")
	}
}

func (s *SQLiteCache) InvalidateAll(ctx context.Context) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		StoreErrors.WithLabelValues(sqliteStore, "invalidate_all").Inc()
		s.log.Error().Err(err).Msg("Could not invalidate cache")
	}
}

// PurgeExpired removes all expired rows and returns how many were removed.
func (s *SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE expires > 0 AND expires <= ?", time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
