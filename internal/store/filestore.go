// Package store provides the two config.Store implementations named in
// §6: a relational sqlite-backed store and a flat YAML file, behind the
// same interface so the CLI can select either.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-yaml"

	"ambientd/internal/config"
)

// fileDocument is the on-disk shape of a filestore config file: one
// YAML document holding both instance config and auth sessions, the
// same logical schema as the sqlite tables (§6).
type fileDocument struct {
	Instances map[string]config.InstanceConfig `yaml:"instances"`
	Sessions  map[string]config.Session        `yaml:"sessions"`
}

// FileStore persists a GlobalConfig and auth sessions to a single YAML
// file. It is intended for single-host deployments that don't want a
// database dependency.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) readDoc() (fileDocument, error) {
	doc := fileDocument{
		Instances: map[string]config.InstanceConfig{},
		Sessions:  map[string]config.Session{},
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	if doc.Instances == nil {
		doc.Instances = map[string]config.InstanceConfig{}
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]config.Session{}
	}
	return doc, nil
}

func (s *FileStore) writeDoc(doc fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Load() (config.GlobalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return config.GlobalConfig{}, err
	}
	return config.GlobalConfig{Instances: doc.Instances}, nil
}

func (s *FileStore) Save(gc config.GlobalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	doc.Instances = gc.Instances
	return s.writeDoc(doc)
}

func (s *FileStore) ListInstances() ([]config.InstanceConfig, error) {
	gc, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]config.InstanceConfig, 0, len(gc.Instances))
	for _, ic := range gc.Instances {
		out = append(out, ic)
	}
	return out, nil
}

func (s *FileStore) UpsertInstance(ic config.InstanceConfig) error {
	if err := ic.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	doc.Instances[ic.ID] = ic
	return s.writeDoc(doc)
}

func (s *FileStore) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return err
	}
	delete(doc.Instances, id)
	return s.writeDoc(doc)
}

func (s *FileStore) IssueToken(user string, ttl time.Duration) (config.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return config.Session{}, err
	}
	sess, err := newSession(user, ttl)
	if err != nil {
		return config.Session{}, err
	}
	doc.Sessions[sess.Token] = sess
	if err := s.writeDoc(doc); err != nil {
		return config.Session{}, err
	}
	return sess, nil
}

func (s *FileStore) CheckToken(token string) (config.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readDoc()
	if err != nil {
		return config.Session{}, false, err
	}
	sess, ok := doc.Sessions[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return config.Session{}, false, nil
	}
	return sess, true, nil
}

// newSession mints a 256-bit random token via crypto/rand, per §3's
// Session/token design.
func newSession(user string, ttl time.Duration) (config.Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return config.Session{}, fmt.Errorf("store: generate token: %w", err)
	}
	saltBuf := make([]byte, 16)
	if _, err := rand.Read(saltBuf); err != nil {
		return config.Session{}, fmt.Errorf("store: generate salt: %w", err)
	}
	now := time.Now()
	return config.Session{
		User:      user,
		Token:     hex.EncodeToString(buf),
		Salt:      hex.EncodeToString(saltBuf),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
