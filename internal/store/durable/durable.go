// Package durable persists the cross-reload keys: the selected master
// entities, the master-entity cache envelope and UI preferences. Backed by
// sqlite so state survives restarts, unlike the session store.
package durable

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"weektally/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS selection (
	entity_id TEXT PRIMARY KEY,
	position  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_cache (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	payload     TEXT NOT NULL,
	cached_at   INTEGER NOT NULL,
	ttl_minutes INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const prefPanelWidth = "panel_width"

// Store wraps the sqlite database holding durable state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the durable store at path. Use ":memory:"
// in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("durable store path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ToggleSelected adds the entity to the selection if absent, removes it
// otherwise. Returns whether the entity is selected afterwards.
func (s *Store) ToggleSelected(entityID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM selection WHERE entity_id = ?`, entityID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists > 0 {
		_, err = s.db.Exec(`DELETE FROM selection WHERE entity_id = ?`, entityID)
		return false, err
	}

	var maxPos sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(position) FROM selection`).Scan(&maxPos); err != nil {
		return false, err
	}
	_, err = s.db.Exec(`INSERT INTO selection (entity_id, position) VALUES (?, ?)`,
		entityID, maxPos.Int64+1)
	return true, err
}

// RemoveSelected drops the entity from the selection. No-op if absent.
func (s *Store) RemoveSelected(entityID string) error {
	_, err := s.db.Exec(`DELETE FROM selection WHERE entity_id = ?`, entityID)
	return err
}

// Selected returns the selected entity ids in selection order.
func (s *Store) Selected() ([]string, error) {
	rows, err := s.db.Query(`SELECT entity_id FROM selection ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveEntityCache stores the master-entity cache envelope, replacing any
// previous one.
func (s *Store) SaveEntityCache(env model.CacheEnvelope[[]model.MasterEntity]) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO entity_cache (id, payload, cached_at, ttl_minutes)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at,
			ttl_minutes = excluded.ttl_minutes`,
		string(payload), env.CachedAt.Unix(), env.TTLMinutes)
	return err
}

// LoadEntityCache returns the cached master-entity envelope if present and
// still valid at now. Expired entries are evicted on read and reported as
// absent.
func (s *Store) LoadEntityCache(now time.Time) (model.CacheEnvelope[[]model.MasterEntity], bool, error) {
	var (
		payload    string
		cachedAt   int64
		ttlMinutes int
	)
	err := s.db.QueryRow(`SELECT payload, cached_at, ttl_minutes FROM entity_cache WHERE id = 1`).
		Scan(&payload, &cachedAt, &ttlMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEnvelope[[]model.MasterEntity]{}, false, nil
	}
	if err != nil {
		return model.CacheEnvelope[[]model.MasterEntity]{}, false, err
	}

	env := model.CacheEnvelope[[]model.MasterEntity]{
		CachedAt:   time.Unix(cachedAt, 0),
		TTLMinutes: ttlMinutes,
	}
	if !env.Valid(now) {
		_, _ = s.db.Exec(`DELETE FROM entity_cache WHERE id = 1`)
		return model.CacheEnvelope[[]model.MasterEntity]{}, false, nil
	}

	if err := json.Unmarshal([]byte(payload), &env.Payload); err != nil {
		// Corrupt payload: evict and treat as a miss.
		_, _ = s.db.Exec(`DELETE FROM entity_cache WHERE id = 1`)
		return model.CacheEnvelope[[]model.MasterEntity]{}, false, nil
	}
	return env, true, nil
}

// ClearEntityCache drops the cached master-entity list.
func (s *Store) ClearEntityCache() error {
	_, err := s.db.Exec(`DELETE FROM entity_cache WHERE id = 1`)
	return err
}

// PanelWidth returns the preferred split-panel width, or 0 when unset.
func (s *Store) PanelWidth() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, prefPanelWidth).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	width, err := strconv.Atoi(value)
	if err != nil {
		return 0, nil
	}
	return width, nil
}

// SetPanelWidth stores the preferred split-panel width.
func (s *Store) SetPanelWidth(width int) error {
	_, err := s.db.Exec(`
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		prefPanelWidth, strconv.Itoa(width))
	return err
}
