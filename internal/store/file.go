package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// outcomeHistory is how many outcomes per pixel the file store retains in
// memory. The file backend has no durable event log.
const outcomeHistory = 50

// credentialsFile is the YAML shape of the credentials file.
type credentialsFile struct {
	Pixels []*PixelCredential `yaml:"pixels"`
}

// FileStore serves credentials from a YAML file and hot-reloads it on
// change. Credentials are read-only through the API; the event log lives in
// memory only and is additionally written to the process log.
type FileStore struct {
	path string

	mu       sync.RWMutex
	creds    map[string]*PixelCredential
	ordered  []*PixelCredential
	outcomes map[string][]*DeliveryOutcome
	total    int
	success  int

	stop func()
}

// NewFileStore loads the credentials file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		outcomes: make(map[string][]*DeliveryOutcome),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the credentials file.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read credentials %s: %w", s.path, err)
	}
	var f credentialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse credentials %s: %w", s.path, err)
	}

	creds := make(map[string]*PixelCredential, len(f.Pixels))
	for _, c := range f.Pixels {
		if c.ManagerID == "" {
			return fmt.Errorf("credentials %s: entry missing manager_id", s.path)
		}
		creds[c.ManagerID] = c
	}

	s.mu.Lock()
	s.creds = creds
	s.ordered = f.Pixels
	s.mu.Unlock()
	return nil
}

// Watch starts a background goroutine that reloads the file on writes.
// Call the returned stop function to clean up.
func (s *FileStore) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("credentials watcher add %s: %w", s.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := s.Reload(); err != nil {
						slog.Warn("credentials reload skipped", "err", err)
						continue
					}
					slog.Info("credentials reloaded", "path", s.path)
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	s.stop = func() { close(done) }
	return s.stop, nil
}

// Lookup returns the active credential for managerID.
func (s *FileStore) Lookup(ctx context.Context, managerID string) (*PixelCredential, error) {
	s.mu.RLock()
	cred, ok := s.creds[managerID]
	s.mu.RUnlock()
	if !ok || !cred.Active {
		return nil, ErrNotFound
	}
	return cred, nil
}

// ListCredentials returns active credentials in file order.
func (s *FileStore) ListCredentials(ctx context.Context) ([]*PixelCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PixelCredential, 0, len(s.ordered))
	for _, c := range s.ordered {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateCredential is not supported; edit the credentials file instead.
func (s *FileStore) CreateCredential(ctx context.Context, cred *PixelCredential) error {
	return ErrUnsupported
}

// UpdateCredential is not supported; edit the credentials file instead.
func (s *FileStore) UpdateCredential(ctx context.Context, managerID string, upd CredentialUpdate) (*PixelCredential, error) {
	return nil, ErrUnsupported
}

// Append records the outcome in memory and mirrors it to the process log, so
// observability survives even without a database.
func (s *FileStore) Append(ctx context.Context, o *DeliveryOutcome) error {
	s.mu.Lock()
	history := append(s.outcomes[o.PixelID], o)
	if len(history) > outcomeHistory {
		history = history[len(history)-outcomeHistory:]
	}
	s.outcomes[o.PixelID] = history
	s.total++
	if o.Status == StatusSuccess {
		s.success++
	}
	s.mu.Unlock()

	slog.Info("delivery outcome",
		"pixel_id", o.PixelID,
		"event_id", o.SourceEventID,
		"event_type", o.SourceEventType,
		"status", o.Status,
		"error", o.ErrorDetail,
	)
	return nil
}

// RecentOutcomes returns the retained outcomes for a pixel, newest first.
func (s *FileStore) RecentOutcomes(ctx context.Context, pixelID string, limit int) ([]*DeliveryOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.outcomes[pixelID]
	if limit > len(history) {
		limit = len(history)
	}
	out := make([]*DeliveryOutcome, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// Stats aggregates over the in-memory history.
func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, c := range s.creds {
		if c.Active {
			active++
		}
	}
	st := &Stats{ActivePixels: active, TotalEvents: s.total}
	if s.total > 0 {
		st.SuccessRate = float64(s.success) / float64(s.total) * 100
	}
	return st, nil
}

// Ping checks that the credentials file is still readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

// Close stops the watcher if one is running.
func (s *FileStore) Close() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}
