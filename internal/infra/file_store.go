package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// FileStore implements domain.Store with a single JSON file.
// Other processes writing the same file are picked up via fsnotify and
// surfaced on the change stream.
type FileStore struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	last    map[string]json.RawMessage
	changes chan domain.StoreChange
	closed  bool
	done    chan struct{}
}

// NewFileStore opens (or lazily creates) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		path:    path,
		changes: make(chan domain.StoreChange, changeBufferSize),
		done:    make(chan struct{}),
	}
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	s.last = data

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// The file is replaced by rename on every write, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return s, nil
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get decodes the value under key into dst.
func (s *FileStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false, domain.ErrStoreClosed
	}

	data, err := s.read()
	if err != nil {
		return false, err
	}
	raw, ok := data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Set stores value under key. The read-modify-write of the file is guarded
// by an exclusive flock so concurrent writers on other keys are not lost.
func (s *FileStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	data, err := s.read()
	if err != nil {
		return err
	}
	data[key] = raw
	if err := s.atomicWrite(data); err != nil {
		return err
	}

	s.last = data
	publish(s.changes, domain.StoreChange{Key: key})
	return nil
}

// Changes returns the change-notification stream.
func (s *FileStore) Changes() <-chan domain.StoreChange {
	return s.changes
}

// Close stops watching and closes the change stream.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	close(s.changes)
	return err
}

func (s *FileStore) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.diffAndPublish()

		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// diffAndPublish publishes every key whose stored bytes differ from the last
// state this process saw.
func (s *FileStore) diffAndPublish() {
	data, err := s.read()
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for key, raw := range data {
		if prev, ok := s.last[key]; !ok || !bytes.Equal(prev, raw) {
			publish(s.changes, domain.StoreChange{Key: key})
		}
	}
	s.last = data
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage)
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to decode store file: %w", err)
	}
	return data, nil
}

// atomicWrite writes the store to file atomically (write + rename).
func (s *FileStore) atomicWrite(data map[string]json.RawMessage) error {
	content, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// Temp file is unique per process to avoid races between writers.
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, content, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileStore implements domain.Store.
var _ domain.Store = (*FileStore)(nil)
