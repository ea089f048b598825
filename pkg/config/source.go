package config

import (
	"errors"
	"path/filepath"
	"sync"
)

// Source supplies raw configuration documents on demand
type Source interface {
	Load() (Raw, error)
	Path() string
}

// FileSource reads a YAML or JSON file and applies environment overrides
type FileSource struct {
	path   string
	prefix string
}

// NewFileSource creates a FileSource; an empty prefix means EnvPrefix.
// A relative path is resolved against the working directory at creation.
func NewFileSource(path, prefix string) *FileSource {
	if prefix == "" {
		prefix = EnvPrefix
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileSource{path: path, prefix: prefix}
}

func (s *FileSource) Load() (Raw, error) {
	var raw Raw
	if err := LoadWithEnv(s.path, s.prefix, &raw); err != nil {
		return Raw{}, err
	}
	return raw, nil
}

func (s *FileSource) Path() string {
	return s.path
}

// MemorySource is an in-memory Source, mostly for tests
type MemorySource struct {
	mu   sync.Mutex
	raw  Raw
	err  error
	path string
}

// NewMemorySource creates a MemorySource serving raw
func NewMemorySource(raw Raw) *MemorySource {
	return &MemorySource{raw: raw, path: "memory"}
}

// Set replaces the served document and clears any failure
func (s *MemorySource) Set(raw Raw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
	s.err = nil
}

// Fail makes subsequent loads return err
func (s *MemorySource) Fail(err error) {
	if err == nil {
		err = errors.New("source unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySource) Load() (Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Raw{}, s.err
	}
	return s.raw, nil
}

func (s *MemorySource) Path() string {
	return s.path
}
