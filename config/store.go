package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Provider hands out the current settings snapshot.
type Provider interface {
	Current() Settings
}

type staticProvider struct {
	settings Settings
}

// Static wraps a fixed settings value, mostly for tests and one-shot commands.
func Static(s Settings) Provider {
	return staticProvider{settings: s.Clone()}
}

func (p staticProvider) Current() Settings {
	return p.settings.Clone()
}

// Load decodes a TOML settings file on top of the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path atomically.
func Save(path string, s Settings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move settings into place: %w", err)
	}
	return nil
}

// Store keeps the settings file in memory and reloads it when the file changes.
type Store struct {
	path string

	mu       sync.RWMutex
	settings Settings
	modTime  time.Time
}

// NewStore loads path, writing the defaults first when the file does not exist.
func NewStore(path string) (*Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Printf("settings file %s not found, writing defaults", path)
		if err := Save(path, Default()); err != nil {
			return nil, err
		}
	}
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Reload re-reads the file. A broken file keeps the previous settings.
func (s *Store) Reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat settings %s: %w", s.path, err)
	}
	loaded, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = loaded
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

// Watch polls the file modification time until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				log.Printf("warning: settings watch: %v", err)
				continue
			}
			s.mu.RLock()
			changed := !info.ModTime().Equal(s.modTime)
			s.mu.RUnlock()
			if !changed {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Printf("warning: settings reload failed, keeping previous settings: %v", err)
				continue
			}
			log.Printf("settings reloaded from %s", s.path)
		}
	}
}
