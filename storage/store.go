// Package storage persists transmitter and drop counters in SQLite so they
// survive restarts of the bridge. Message contents are never stored.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"serial2mqtt/txmap"
)

// Store wraps the counters database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and prepares its tables.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// a single writer: the bridge loop
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS transmitters (
        topic TEXT PRIMARY KEY,
        tx_key TEXT NOT NULL DEFAULT '',
        published INTEGER NOT NULL DEFAULT 0,
        last_seen TIMESTAMP
    )`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transmitters table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS drops (
        kind TEXT PRIMARY KEY,
        count INTEGER NOT NULL DEFAULT 0
    )`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create drops table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddPublished counts one published record for topic.
func (s *Store) AddPublished(topic, key string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO transmitters(topic, tx_key, published, last_seen) VALUES(?, ?, 1, ?)
        ON CONFLICT(topic) DO UPDATE SET
            tx_key = CASE WHEN excluded.tx_key != '' THEN excluded.tx_key ELSE transmitters.tx_key END,
            published = transmitters.published + 1,
            last_seen = excluded.last_seen`,
		topic, key, at.UTC())
	return err
}

// AddDropped counts one dropped record of the given kind.
func (s *Store) AddDropped(kind string) error {
	_, err := s.db.Exec(`INSERT INTO drops(kind, count) VALUES(?, 1)
        ON CONFLICT(kind) DO UPDATE SET count = drops.count + 1`, kind)
	return err
}

// Transmitters returns all stored transmitters ordered by topic.
func (s *Store) Transmitters() ([]txmap.Entry, error) {
	rows, err := s.db.Query(`SELECT topic, tx_key, published, last_seen FROM transmitters ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []txmap.Entry
	for rows.Next() {
		var (
			e        txmap.Entry
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&e.Topic, &e.Key, &e.Published, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			e.LastSeen = lastSeen.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Drops returns the drop counters by kind.
func (s *Store) Drops() (map[string]uint64, error) {
	rows, err := s.db.Query(`SELECT kind, count FROM drops`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drops := make(map[string]uint64)
	for rows.Next() {
		var (
			kind  string
			count uint64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		drops[kind] = count
	}
	return drops, rows.Err()
}

// Load seeds m with the stored counters.
func (s *Store) Load(m *txmap.Map) error {
	entries, err := s.Transmitters()
	if err != nil {
		return fmt.Errorf("load transmitters: %w", err)
	}
	drops, err := s.Drops()
	if err != nil {
		return fmt.Errorf("load drops: %w", err)
	}
	m.Restore(entries, drops)
	return nil
}
