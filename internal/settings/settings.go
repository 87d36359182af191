// Package settings persists user preferences that outlive a session.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/koscakluka/ema-client/internal/utils"
	"gopkg.in/yaml.v3"
)

const DefaultVolume = 0.5

type values struct {
	Volume *float64 `yaml:"volume,omitempty"`
}

// Store keeps settings in a YAML file. A missing or unreadable file reads as
// defaults.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Volume returns the stored volume in [0, 1], or DefaultVolume when none is
// stored.
func (s *Store) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load()
	if err != nil || stored.Volume == nil {
		return DefaultVolume
	}
	return utils.Clamp(*stored.Volume, 0, 1)
}

// SetVolume clamps volume to [0, 1], stores it and returns the stored value.
func (s *Store) SetVolume(volume float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load()
	if err != nil {
		stored = values{}
	}
	volume = utils.Clamp(volume, 0, 1)
	stored.Volume = utils.Ptr(volume)

	if err := s.save(stored); err != nil {
		return volume, err
	}
	return volume, nil
}

func (s *Store) load() (values, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values{}, nil
	}
	if err != nil {
		return values{}, fmt.Errorf("read settings: %w", err)
	}

	var stored values
	if err := yaml.Unmarshal(raw, &stored); err != nil {
		return values{}, fmt.Errorf("decode settings: %w", err)
	}
	return stored, nil
}

func (s *Store) save(stored values) error {
	raw, err := yaml.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Join(fmt.Errorf("replace settings: %w", err), os.Remove(tmp))
	}
	return nil
}
