package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ConfigVersion is written into every config file this build produces.
const ConfigVersion = "1.0.0"

// AICommand is one launchable command from the catalog.
type AICommand struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cmd     string `json:"cmd"`
	Enabled bool   `json:"enabled"`
}

// Auth holds the persisted credential material.
type Auth struct {
	TokenHash string `json:"tokenHash"`
}

// Config is the on-disk configuration file shape.
type Config struct {
	Version     string      `json:"version"`
	Port        int         `json:"port"`
	AllowedDirs []string    `json:"allowedDirs"`
	AICommands  []AICommand `json:"aiCommands"`
	Auth        *Auth       `json:"auth,omitempty"`
}

// Store owns the JSON config file. All reads go through an in-memory copy;
// all writes go through Update, which persists atomically under the lock.
// An fsnotify watcher re-reads the file when an external editor changes it.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config

	// savedAt suppresses watcher reloads triggered by our own writes.
	savedAt time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads the config file at path, creating it with defaults seeded
// from the environment Settings if it does not exist.
func NewStore(path string, settings Settings) (*Store, error) {
	s := &Store{path: path, done: make(chan struct{})}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.cfg = defaultConfig(settings)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("create config file: %w", err)
		}
		log.Printf("[config] created %s", path)
	} else {
		if err := s.load(); err != nil {
			return nil, err
		}
		s.applyDefaults(settings)
	}

	return s, nil
}

func defaultConfig(settings Settings) Config {
	allowed := settings.AllowedDirs
	if allowed == nil {
		allowed = []string{}
	}
	return Config{
		Version:     ConfigVersion,
		Port:        settings.Port,
		AllowedDirs: allowed,
		AICommands: []AICommand{
			{
				ID:      uuid.New().String(),
				Name:    "Claude",
				Cmd:     settings.AICommand,
				Enabled: true,
			},
		},
	}
}

// applyDefaults fills fields missing from an existing file so older configs
// keep working.
func (s *Store) applyDefaults(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if s.cfg.Version == "" {
		s.cfg.Version = ConfigVersion
		changed = true
	}
	if s.cfg.Port == 0 {
		s.cfg.Port = settings.Port
		changed = true
	}
	if s.cfg.AllowedDirs == nil {
		s.cfg.AllowedDirs = []string{}
		changed = true
	}
	if len(s.cfg.AICommands) == 0 {
		s.cfg.AICommands = defaultConfig(settings).AICommands
		changed = true
	}
	if changed {
		if err := s.save(); err != nil {
			log.Printf("[config] failed to persist defaults: %v", err)
		}
	}
}

// load reads the file into memory. Caller must not hold the lock.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// save writes the in-memory config to disk, pretty-printed. Callers must
// hold s.mu (or be in single-threaded startup).
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	s.savedAt = time.Now()
	if err := os.WriteFile(s.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.AllowedDirs = append([]string(nil), s.cfg.AllowedDirs...)
	cfg.AICommands = append([]AICommand(nil), s.cfg.AICommands...)
	if s.cfg.Auth != nil {
		auth := *s.cfg.Auth
		cfg.Auth = &auth
	}
	return cfg
}

// Update applies fn to the config under the write lock and persists the
// result. If fn returns an error nothing is written.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.cfg); err != nil {
		return err
	}
	return s.save()
}

// AllowedDirs returns the configured allow-list.
func (s *Store) AllowedDirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cfg.AllowedDirs...)
}

// TokenHash returns the stored token hash, or "" if none.
func (s *Store) TokenHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.Auth == nil {
		return ""
	}
	return s.cfg.Auth.TokenHash
}

// CommandByID looks up an enabled catalog entry. An empty id selects the
// first enabled command.
func (s *Store) CommandByID(id string) (AICommand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cfg.AICommands {
		if !c.Enabled {
			continue
		}
		if id == "" || c.ID == id {
			return c, true
		}
	}
	return AICommand{}, false
}

// Watch starts an fsnotify watcher so edits made by an external editor are
// picked up without a restart. Writes performed through Update are ignored.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file via rename.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				s.mu.RLock()
				own := time.Since(s.savedAt) < 500*time.Millisecond
				s.mu.RUnlock()
				if own {
					continue
				}
				if err := s.load(); err != nil {
					log.Printf("[config] reload failed: %v", err)
					continue
				}
				log.Printf("[config] reloaded %s", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watcher error: %v", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}
