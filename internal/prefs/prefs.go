// Package prefs persists per-owner profile overrides on the client side.
package prefs

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"daycal/internal/config"
	"daycal/internal/model"
)

// fileFormat is the on-disk YAML document.
type fileFormat struct {
	Profiles map[string]model.Profile `yaml:"profiles"`
}

// Store is a small key-value file of profiles keyed by owner id. An empty
// path keeps everything in memory.
type Store struct {
	path string

	mu       sync.RWMutex
	profiles map[string]model.Profile
}

// Open loads path if it exists. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, profiles: make(map[string]model.Profile)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Profiles != nil {
		s.profiles = f.Profiles
	}
	return s, nil
}

// Get returns ownerID's override.
func (s *Store) Get(ownerID string) (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[ownerID]
	return p, ok
}

// Put stores p for ownerID and writes the file.
func (s *Store) Put(ownerID string, p model.Profile) error {
	if ownerID == "" {
		return errors.New("prefs: owner id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.profiles[ownerID]
	s.profiles[ownerID] = p
	if err := s.saveLocked(); err != nil {
		if had {
			s.profiles[ownerID] = prev
		} else {
			delete(s.profiles, ownerID)
		}
		return err
	}
	return nil
}

// saveLocked writes the file atomically (temp file + rename, 0600).
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(fileFormat{Profiles: s.profiles})
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, ".daycal-prefs-*.tmp")
}
