package tomlstore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Store is a small on-device key/value file. Every write rewrites the whole
// file through a temp file and a rename.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

// Open loads path; a missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]any{}}
	if _, err := toml.DecodeFile(path, &s.values); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, errors.Wrap(err, "decode prefs")
	}
	return s, nil
}

func (s *Store) GetBool(key string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, errors.Errorf("prefs key %q is %T, not bool", key, v)
	}
	return b, true, nil
}

func (s *Store) SetBool(key string, v bool) error {
	return s.set(key, v)
}

func (s *Store) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(string)
	return v, ok
}

func (s *Store) SetString(key, v string) error {
	return s.set(key, v)
}

func (s *Store) set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = v
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *Store) flush() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create prefs dir")
	}
	f, err := os.CreateTemp(dir, ".prefs-*.toml")
	if err != nil {
		return errors.Wrap(err, "create prefs temp file")
	}
	tmp := f.Name()
	if err := toml.NewEncoder(f).Encode(s.values); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "encode prefs")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close prefs temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace prefs file")
	}
	return nil
}
