package revstore

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// SQL driver names accepted by OpenDB.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

// DB is a tracking database shared by all SQL nodes of one store.
type DB struct {
	conn   *sql.DB
	driver string
	path   string
}

// OpenDB opens (or creates) the tracking database at path with the given
// driver and makes sure the schema exists.
func OpenDB(driver, path string) (*DB, error) {
	var dsn string
	switch driver {
	case DriverDuckDB:
		dsn = path
	case DriverSQLite:
		dsn = "file:" + path
	default:
		return nil, serr.New("unsupported tracking database driver: " + driver)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, serr.Wrap(err, "failed to create database directory")
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open tracking database")
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, serr.Wrap(err, "failed to ping tracking database")
	}

	// One session owns the store at a time; a single connection keeps
	// SQLite and DuckDB file locking simple
	conn.SetMaxOpenConns(1)

	if err := migrateDB(conn); err != nil {
		_ = conn.Close()
		return nil, serr.Wrap(err, "failed to migrate tracking database")
	}

	logger.Debug("Opened tracking database", "driver", driver, "path", path)
	return &DB{conn: conn, driver: driver, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return serr.Wrap(err, "failed to close tracking database")
	}
	db.conn = nil
	return nil
}

// Node returns the node stored under name.
func (db *DB) Node(name string) *SQLNode {
	return &SQLNode{db: db, name: name}
}

// SQLNode keeps its properties as rows of tracking_properties.
type SQLNode struct {
	db   *DB
	name string
	buf  propertyBuffer
}

func (n *SQLNode) load() (map[string]string, error) {
	rows, err := n.db.conn.Query(
		`SELECT prop_key, prop_value FROM tracking_properties WHERE node_name = ? ORDER BY prop_key`,
		n.name,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query node properties")
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, serr.Wrap(err, "failed to scan node property")
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating node properties")
	}

	return values, nil
}

func (n *SQLNode) ReadProperties() ([]Property, error) {
	if err := n.buf.ensure(n.load); err != nil {
		return nil, err
	}
	return n.buf.sorted(), nil
}

func (n *SQLNode) SetProperty(key, value string) {
	n.buf.set(key, value)
}

func (n *SQLNode) Clear() {
	n.buf.clear()
}

// Flush replaces all rows of the node in one transaction.
func (n *SQLNode) Flush() error {
	if !n.buf.dirty {
		return nil
	}
	if err := n.buf.ensure(n.load); err != nil {
		return err
	}

	tx, err := n.db.conn.Begin()
	if err != nil {
		return serr.Wrap(err, "failed to begin node transaction")
	}

	if _, err := tx.Exec(`DELETE FROM tracking_properties WHERE node_name = ?`, n.name); err != nil {
		_ = tx.Rollback()
		return serr.Wrap(err, "failed to clear node properties")
	}

	for _, p := range n.buf.sorted() {
		_, err := tx.Exec(
			`INSERT INTO tracking_properties (node_name, prop_key, prop_value) VALUES (?, ?, ?)`,
			n.name, p.Key, p.Value,
		)
		if err != nil {
			_ = tx.Rollback()
			return serr.Wrap(err, "failed to insert node property")
		}
	}

	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit node transaction")
	}

	n.buf.dirty = false
	n.buf.cleared = false
	logger.Debug("Flushed node", "node", n.name, "properties", len(n.buf.values))
	return nil
}
