package servers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"sigs.k8s.io/yaml"

	"mcpconnect/pkg/logging"
)

// registryFile is the on-disk layout of the YAML registry.
type registryFile struct {
	Servers []*Record `json:"servers"`
}

// FileStore keeps server records in a single YAML file. The whole file is
// rewritten on every mutation. Watch reloads it when edited externally.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records map[string]*Record

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFileStore loads path, treating a missing file as an empty registry.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		records: make(map[string]*Record),
		stopCh:  make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.records = make(map[string]*Record)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading server registry %s: %w", s.path, err)
	}

	var reg registryFile
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("parsing server registry %s: %w", s.path, err)
	}

	records := make(map[string]*Record, len(reg.Servers))
	for _, r := range reg.Servers {
		if r == nil || r.ID == "" {
			continue
		}
		if r.AuthStatus == "" {
			r.AuthStatus = AuthStatusUnauthenticated
		}
		records[r.ID] = r
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// persistLocked writes the registry. Caller holds s.mu.
func (s *FileStore) persistLocked() error {
	reg := registryFile{Servers: make([]*Record, 0, len(s.records))}
	for _, r := range s.records {
		reg.Servers = append(reg.Servers, r)
	}
	sort.Slice(reg.Servers, func(i, j int) bool { return reg.Servers[i].ID < reg.Servers[j].ID })

	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encoding server registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	// Tokens live in this file.
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing server registry %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (s *FileStore) ListByUser(_ context.Context, userID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if userID == "" || r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, r.ID)
	}
	s.records[r.ID] = r.Clone()
	return s.persistLocked()
}

func (s *FileStore) Update(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	s.records[r.ID] = r.Clone()
	return s.persistLocked()
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	return s.persistLocked()
}

// Watch reloads the registry whenever the file is written, created or
// replaced. It watches the parent directory so editors that rename over the
// file are handled. Returns once the watcher is running.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating registry watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.processEvents(ctx)
	logging.Info("Servers", "Watching %s for registry changes", s.path)
	return nil
}

func (s *FileStore) processEvents(ctx context.Context) {
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := s.reload(); err != nil {
				logging.Error("Servers", err, "Failed to reload server registry")
				continue
			}
			logging.Debug("Servers", "Reloaded server registry after %s", event.Op)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Servers", err, "Registry watcher error")
		}
	}
}

// Close stops the watcher, if any.
func (s *FileStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
