package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/logging"
)

var _ Backend = (*DocumentBackend)(nil)

const (
	DefaultDatabaseName   = "AgentMemoryDB"
	DefaultCollectionName = "Conversations"
)

var collectionNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DocumentOptions configure a DocumentBackend.
type DocumentOptions struct {
	// Database names the database file inside the data directory when
	// Path is a directory.
	Database   string
	Collection string
	Logger     logging.Logger
}

// Document is the stored shape of one session. The partition key is the
// session id.
type Document struct {
	ID           string    `json:"id"`
	PartitionKey string    `json:"partition_key"`
	ThreadState  []byte    `json:"thread_state"`
	Updated      time.Time `json:"updated"`
}

// DocumentBackend is the durable Backend. Sessions never expire; each is a
// row in the collection table keyed by session id and upserted on save.
type DocumentBackend struct {
	db   *sql.DB
	opts DocumentOptions
}

// NewDocumentBackend opens (creating if needed) the database under dir and
// ensures the collection exists. Pass ":memory:" as dir for a private
// in-memory database.
func NewDocumentBackend(ctx context.Context, dir string, optFns ...func(o *DocumentOptions)) (*DocumentBackend, error) {
	opts := DocumentOptions{
		Database:   DefaultDatabaseName,
		Collection: DefaultCollectionName,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if !collectionNameRE.MatchString(opts.Collection) {
		return nil, fmt.Errorf("invalid collection name %q", opts.Collection)
	}

	dsn := dir
	if dir != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = filepath.Join(dir, opts.Database+".db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if dir != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	d := &DocumentBackend{db: db, opts: opts}
	if err := d.EnsureCollection(ctx); err != nil {
		db.Close()
		return nil, err
	}
	opts.Logger.Info("Document store initialized", "path", dsn, "collection", opts.Collection)
	return d, nil
}

// EnsureCollection creates the collection if it does not exist. It is safe
// to call repeatedly.
func (d *DocumentBackend) EnsureCollection(ctx context.Context) error {
	c := d.opts.Collection
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			partition_key TEXT NOT NULL,
			thread_state BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_partition_key
			ON %[1]s(partition_key);
	`, c)
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", c, err)
	}
	return nil
}

// Collection returns the collection name.
func (d *DocumentBackend) Collection() string { return d.opts.Collection }

// Kind implements Backend.
func (d *DocumentBackend) Kind() core.BackendKind { return core.BackendDocument }

// Load implements Backend.
func (d *DocumentBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	doc, err := d.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return doc.ThreadState, nil
}

// Get returns the full document for sessionID.
func (d *DocumentBackend) Get(ctx context.Context, sessionID string) (*Document, error) {
	var doc Document
	var updatedStr string
	query := fmt.Sprintf(`SELECT id, partition_key, thread_state, updated_at FROM %s WHERE id = ? AND partition_key = ?`, d.opts.Collection)
	err := d.withCollection(ctx, func() error {
		return d.db.QueryRowContext(ctx, query, sessionID, sessionID).Scan(&doc.ID, &doc.PartitionKey, &doc.ThreadState, &updatedStr)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	doc.Updated, err = time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &doc, nil
}

// Store implements Backend as an upsert.
func (d *DocumentBackend) Store(ctx context.Context, sessionID string, state []byte) error {
	if state == nil {
		state = []byte{}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := fmt.Sprintf(`
		INSERT INTO %s (id, partition_key, thread_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_state = excluded.thread_state,
			updated_at = excluded.updated_at
	`, d.opts.Collection)
	err := d.withCollection(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, sessionID, sessionID, state, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (d *DocumentBackend) Delete(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, d.opts.Collection)
	return d.withCollection(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, sessionID)
		return err
	})
}

// DropCollection removes the collection table.
func (d *DocumentBackend) DropCollection(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, d.opts.Collection))
	return err
}

// Close implements Backend.
func (d *DocumentBackend) Close() error {
	return d.db.Close()
}

// withCollection runs fn, recreating the collection and retrying once if
// it has disappeared.
func (d *DocumentBackend) withCollection(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isMissingTable(err) {
		return err
	}
	d.opts.Logger.Warn("Collection missing, recreating", "collection", d.opts.Collection)
	if cerr := d.EnsureCollection(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return fn()
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
