package store

import (
	"database/sql"
	"encoding/json"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// Provider stores the customized policies of inspection sessions.
// Overrides are kept in the order they were saved, which is the order in
// which the merger appends features missing from the original headers.
//
// Implementations must be thread-safe!
type Provider interface {
	// Load returns the overrides saved for the session.
	// An unknown session has no overrides and is not an error.
	Load(session string) ([]Override, error)
	// Save replaces all overrides of the session.
	Save(session string, overrides []Override) error
	// Delete removes the session and its overrides.
	Delete(session string) error
	// Sessions returns the ids of all sessions with saved overrides.
	Sessions() ([]string, error)
}

// Override is one customized feature.
// AllowList is in Feature-Policy vocabulary.
type Override struct {
	Feature   string   `json:"feature" yaml:"feature"`
	Allowed   bool     `json:"allowed" yaml:"allowed"`
	AllowList []string `json:"allowList" yaml:"allowList"`
}

type MemStore struct {
	mutex *sync.RWMutex
	db    map[string][]Override
}

func NewMemStore() MemStore {
	return MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]Override),
	}
}

func (m MemStore) Load(session string) ([]Override, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return copyOverrides(m.db[session]), nil
}

func (m MemStore) Save(session string, overrides []Override) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(overrides) == 0 {
		delete(m.db, session)
		return nil
	}
	m.db[session] = copyOverrides(overrides)
	return nil
}

func (m MemStore) Delete(session string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, session)
	return nil
}

func (m MemStore) Sessions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	sessions := make([]string, 0, len(m.db))
	for session := range m.db {
		sessions = append(sessions, session)
	}
	sort.Strings(sessions)
	return sessions, nil
}

func copyOverrides(overrides []Override) []Override {
	copied := make([]Override, 0, len(overrides))
	for _, o := range overrides {
		al := make([]string, len(o.AllowList))
		copy(al, o.AllowList)
		copied = append(copied, Override{Feature: o.Feature, Allowed: o.Allowed, AllowList: al})
	}
	return copied
}

type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore opens a store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) (SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS overrides (
		session TEXT NOT NULL,
		position INTEGER NOT NULL,
		feature TEXT NOT NULL,
		allowed INTEGER NOT NULL,
		allow_list TEXT NOT NULL,
		PRIMARY KEY (session, feature)
	)`)
	if err != nil {
		return SQLiteStore{}, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS session_idx ON overrides (session, position)")
	if err != nil {
		return SQLiteStore{}, err
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStore) Load(session string) ([]Override, error) {
	overrides := make([]Override, 0)
	rows, err := s.db.Query(`SELECT feature, allowed, allow_list
		FROM overrides WHERE session = ? ORDER BY position ASC`, session)
	if err != nil {
		return overrides, err
	}
	defer rows.Close()
	for rows.Next() {
		var o Override
		var allowList string
		if err := rows.Scan(&o.Feature, &o.Allowed, &allowList); err != nil {
			return overrides, err
		}
		if err := json.Unmarshal([]byte(allowList), &o.AllowList); err != nil {
			return overrides, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func (s SQLiteStore) Save(session string, overrides []Override) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM overrides WHERE session = ?", session); err != nil {
		tx.Rollback()
		return err
	}
	for i, o := range overrides {
		allowList, err := json.Marshal(nonNil(o.AllowList))
		if err != nil {
			tx.Rollback()
			return err
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO overrides
			(session, position, feature, allowed, allow_list) VALUES (?, ?, ?, ?, ?)`,
			session, i, o.Feature, o.Allowed, string(allowList))
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteStore) Delete(session string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM overrides WHERE session = ?", session)
	return err
}

func (s SQLiteStore) Sessions() ([]string, error) {
	sessions := make([]string, 0)
	rows, err := s.db.Query("SELECT DISTINCT session FROM overrides ORDER BY session")
	if err != nil {
		return sessions, err
	}
	defer rows.Close()
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return sessions, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Close closes the underlying db.
func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(al []string) []string {
	if al == nil {
		return []string{}
	}
	return al
}
