package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	storeDBName = "sitegate.db"

	// DefaultPollInterval is how often the revision counter is polled for
	// writes made by this or any other process.
	DefaultPollInterval = 500 * time.Millisecond
)

// EncryptedStore implements domain.Store using a SQLCipher encrypted SQLite
// database. Every write bumps a global revision; a poller turns new revisions
// into change notifications, which also covers writes from other processes.
type EncryptedStore struct {
	db      *sql.DB
	dbPath  string
	changes chan domain.StoreChange

	mu      sync.Mutex
	closed  bool
	lastRev int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEncryptedStore opens (or creates) the encrypted store in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte, pollInterval time.Duration) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify the key by touching the database.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{
		db:      db,
		dbPath:  dbPath,
		changes: make(chan domain.StoreChange, changeBufferSize),
		done:    make(chan struct{}),
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.QueryRow(`SELECT COALESCE(MAX(rev), 0) FROM kv`).Scan(&s.lastRev); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read revision: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollLoop(ctx, pollInterval)

	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		rev INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_rev ON kv(rev);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get decodes the value under key into dst.
func (s *EncryptedStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if s.isClosed() {
		return false, domain.ErrStoreClosed
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return true, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the next revision.
func (s *EncryptedStore) Set(ctx context.Context, key string, value any) error {
	if s.isClosed() {
		return domain.ErrStoreClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, rev, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM kv), ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			rev = excluded.rev,
			updated_at = excluded.updated_at`,
		key, string(raw), time.Now().Unix(),
	)
	return err
}

// Changes returns the change-notification stream.
func (s *EncryptedStore) Changes() <-chan domain.StoreChange {
	return s.changes
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close stops polling and releases the database connection.
func (s *EncryptedStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	close(s.changes)
	return s.db.Close()
}

func (s *EncryptedStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *EncryptedStore) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.poll(ctx)
		}
	}
}

// poll publishes every key written since the last seen revision.
func (s *EncryptedStore) poll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, rev FROM kv WHERE rev > ? ORDER BY rev`, s.lastRev)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var rev int64
		if err := rows.Scan(&key, &rev); err != nil {
			return err
		}
		s.lastRev = rev
		publish(s.changes, domain.StoreChange{Key: key})
	}
	return rows.Err()
}

// Ensure EncryptedStore implements domain.Store.
var _ domain.Store = (*EncryptedStore)(nil)
