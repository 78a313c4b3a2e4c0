// Package diskcache persists compiled shader bytecode across engine
// sessions. Entries are keyed by the content fingerprint of (source,
// options), so a restart only pays compilation cost for shaders whose
// source actually changed. Blobs are zstd-compressed; SPIR-V compresses
// well and big shader sets add up.
package diskcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/gogpu/shaderwatch/compiler"
)

const schema = `
CREATE TABLE IF NOT EXISTS shader_cache (
	digest TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	optimization TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	bytecode BLOB NOT NULL
);
`

// Cache is a sqlite-backed bytecode store. A missing or corrupt entry is
// reported as a miss, never as a failure: the worst case is recompiling.
//
// Cache is safe for concurrent use; database/sql serializes access.
type Cache struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens or creates the cache database at dir/shaders.db.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "shaders.db"))
	if err != nil {
		return nil, fmt.Errorf("diskcache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("diskcache: applying schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("diskcache: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("diskcache: %w", err)
	}
	return &Cache{db: db, encoder: encoder, decoder: decoder}, nil
}

// Close releases the database and codec resources.
func (c *Cache) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return c.db.Close()
}

// Get returns the bytecode stored under digest. A stored blob that fails
// to decompress is deleted and reported as a miss.
func (c *Cache) Get(digest compiler.Digest) ([]byte, bool) {
	var blob []byte
	err := c.db.QueryRow(
		"SELECT bytecode FROM shader_cache WHERE digest = ?",
		digest.String(),
	).Scan(&blob)
	if err != nil {
		return nil, false
	}

	bytecode, err := c.decoder.DecodeAll(blob, nil)
	if err != nil {
		// Corrupt entry. Drop it so the slot heals on the next Put.
		c.db.Exec("DELETE FROM shader_cache WHERE digest = ?", digest.String())
		return nil, false
	}
	return bytecode, true
}

// Put stores bytecode under digest, replacing any previous entry.
func (c *Cache) Put(digest compiler.Digest, bytecode []byte, opts compiler.Options) error {
	blob := c.encoder.EncodeAll(bytecode, nil)
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO shader_cache (digest, target, optimization, created_at, bytecode)
		 VALUES (?, ?, ?, ?, ?)`,
		digest.String(), opts.Target.String(), opts.Optimization.String(),
		time.Now().UnixNano(), blob,
	)
	if err != nil {
		return fmt.Errorf("diskcache: storing %s: %w", digest, err)
	}
	return nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM shader_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("diskcache: %w", err)
	}
	return n, nil
}

// Prune removes entries older than the given age.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := c.db.Exec("DELETE FROM shader_cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("diskcache: pruning: %w", err)
	}
	return res.RowsAffected()
}
