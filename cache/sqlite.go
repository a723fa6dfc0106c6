package cache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type sqlitePersister struct {
	db          *sql.DB
	ctx         context.Context
	cancel      context.CancelFunc
	waitGroup   sync.WaitGroup
	once        sync.Once
	expiryCheck time.Duration
}

var _ Persister = (*sqlitePersister)(nil)

// NewSQLitePersister returns a Persister backed by SQLite, used as the
// offline snapshot layer under the in-memory store. If dbPath is empty or
// ":memory:", an in-memory database is used. expiryCheck controls how often
// expired snapshot rows are cleaned up.
func NewSQLitePersister(ctx context.Context, dbPath string, expiryCheck time.Duration) (Persister, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshot (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// Index on expires_at for efficient cleanup.
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_snapshot_expires_at ON snapshot(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	childCtx, cancel := context.WithCancel(ctx)

	p := &sqlitePersister{
		db:          db,
		ctx:         childCtx,
		cancel:      cancel,
		expiryCheck: expiryCheck,
	}
	if p.expiryCheck <= 0 {
		p.expiryCheck = time.Minute
	}

	p.waitGroup.Add(1)
	go p.run()

	return p, nil
}

func (p *sqlitePersister) Load(ctx context.Context, key string) (bool, []byte, error) {
	now := time.Now().UnixNano()
	var data []byte
	var expiresAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM snapshot WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	if expiresAt < now {
		// Lazily delete the expired row.
		_, _ = p.db.ExecContext(ctx, `DELETE FROM snapshot WHERE key = ?`, key)
		return false, nil, nil
	}

	return true, data, nil
}

func (p *sqlitePersister) Save(ctx context.Context, key string, data []byte, expires time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO snapshot (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, data, expires.UnixNano(),
	)
	return err
}

func (p *sqlitePersister) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM snapshot WHERE key = ?`, key)
	return err
}

func (p *sqlitePersister) Close(_ context.Context) error {
	var dbErr error
	p.once.Do(func() {
		p.cancel()
		p.waitGroup.Wait()
		dbErr = p.db.Close()
	})
	return dbErr
}

func (p *sqlitePersister) run() {
	defer p.waitGroup.Done()
	ticker := time.NewTicker(p.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = p.db.Exec(`DELETE FROM snapshot WHERE expires_at < ?`, now)
		}
	}
}
