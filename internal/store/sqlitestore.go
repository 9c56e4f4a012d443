package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"ambientd/internal/config"
)

// SQLiteStore persists configuration in the relational schema
// described in §6: instances, auth, meta, settings. Instance config
// bodies are stored as JSON in settings so the schema doesn't need a
// migration for every new pipeline parameter, the same trade a
// relational store commonly makes for a heterogeneous config blob.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the sqlite database at path
// and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance TEXT PRIMARY KEY,
			friendly_name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_use TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS auth (
			user TEXT PRIMARY KEY,
			password TEXT,
			token TEXT,
			salt TEXT,
			issued_at TIMESTAMP,
			expires_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			uuid TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			type TEXT NOT NULL,
			hyperion_inst TEXT NOT NULL REFERENCES instances(instance) ON DELETE CASCADE,
			config TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (type, hyperion_inst)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const settingsTypeInstanceConfig = "instance_config"

func (s *SQLiteStore) Load() (config.GlobalConfig, error) {
	instances, err := s.ListInstances()
	if err != nil {
		return config.GlobalConfig{}, err
	}
	gc := config.GlobalConfig{Instances: make(map[string]config.InstanceConfig, len(instances))}
	for _, ic := range instances {
		gc.Instances[ic.ID] = ic
	}
	return gc, nil
}

func (s *SQLiteStore) Save(gc config.GlobalConfig) error {
	for _, ic := range gc.Instances {
		if err := s.UpsertInstance(ic); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ListInstances() ([]config.InstanceConfig, error) {
	rows, err := s.db.Query(`
		SELECT i.instance, i.friendly_name, i.enabled, s.config
		FROM instances i
		JOIN settings s ON s.hyperion_inst = i.instance AND s.type = ?`, settingsTypeInstanceConfig)
	if err != nil {
		return nil, fmt.Errorf("store: list instances: %w", err)
	}
	defer rows.Close()

	var out []config.InstanceConfig
	for rows.Next() {
		var id, name, blob string
		var enabled bool
		if err := rows.Scan(&id, &name, &enabled, &blob); err != nil {
			return nil, fmt.Errorf("store: scan instance: %w", err)
		}
		var ic config.InstanceConfig
		if err := sonic.UnmarshalString(blob, &ic); err != nil {
			return nil, fmt.Errorf("store: decode instance %s: %w", id, err)
		}
		ic.ID = id
		ic.FriendlyName = name
		ic.Enabled = enabled
		out = append(out, ic)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertInstance(ic config.InstanceConfig) error {
	if err := ic.Validate(); err != nil {
		return err
	}
	blob, err := sonic.MarshalString(ic)
	if err != nil {
		return fmt.Errorf("store: encode instance %s: %w", ic.ID, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO instances (instance, friendly_name, enabled) VALUES (?, ?, ?)
		ON CONFLICT(instance) DO UPDATE SET friendly_name = excluded.friendly_name, enabled = excluded.enabled`,
		ic.ID, ic.FriendlyName, ic.Enabled); err != nil {
		return fmt.Errorf("store: upsert instance row: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO settings (type, hyperion_inst, config, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(type, hyperion_inst) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		settingsTypeInstanceConfig, ic.ID, blob, time.Now()); err != nil {
		return fmt.Errorf("store: upsert settings row: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteInstance(id string) error {
	if _, err := s.db.Exec(`DELETE FROM instances WHERE instance = ?`, id); err != nil {
		return fmt.Errorf("store: delete instance %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IssueToken(user string, ttl time.Duration) (config.Session, error) {
	sess, err := newSession(user, ttl)
	if err != nil {
		return config.Session{}, err
	}
	_, err = s.db.Exec(`
		INSERT INTO auth (user, token, salt, issued_at, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user) DO UPDATE SET token = excluded.token, salt = excluded.salt,
			issued_at = excluded.issued_at, expires_at = excluded.expires_at`,
		sess.User, sess.Token, sess.Salt, sess.IssuedAt, sess.ExpiresAt)
	if err != nil {
		return config.Session{}, fmt.Errorf("store: issue token: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) CheckToken(token string) (config.Session, bool, error) {
	row := s.db.QueryRow(`SELECT user, token, salt, issued_at, expires_at FROM auth WHERE token = ?`, token)
	var sess config.Session
	if err := row.Scan(&sess.User, &sess.Token, &sess.Salt, &sess.IssuedAt, &sess.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return config.Session{}, false, nil
		}
		return config.Session{}, false, fmt.Errorf("store: check token: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		return config.Session{}, false, nil
	}
	return sess, true, nil
}
