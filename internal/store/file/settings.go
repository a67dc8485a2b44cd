// Package file implements store.SettingsStore on a single JSON document.
// With an empty path the store lives only in memory. Several processes may
// share one file: every operation first re-reads the file if another process
// replaced it.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/aibot/internal/store"
)

type scopeEntry struct {
	store.Scope
	Values store.Values `json:"values"`
}

type document struct {
	Scopes []scopeEntry `json:"scopes"`
}

// SettingsStore keeps every scope in memory and rewrites the whole file on
// each change.
type SettingsStore struct {
	mu     sync.RWMutex
	scopes map[store.Scope]store.Values
	path   string
	seen   os.FileInfo // file as of the last load or save; nil when absent
}

var _ store.Notifier = (*SettingsStore)(nil)

// NewSettingsStore opens (or creates) the JSON file at path. An empty path
// gives a purely in-memory store.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{
		scopes: make(map[store.Scope]store.Values),
		path:   path,
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	if _, err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// refreshLocked re-reads the file when it differs from the one last seen.
// Saves replace the file by rename, so a changed identity means another
// writer. Reports whether the contents were reloaded.
func (s *SettingsStore) refreshLocked() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if s.seen == nil {
			return false, nil
		}
		s.seen = nil
		s.scopes = make(map[store.Scope]store.Values)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat settings file: %w", err)
	}
	if s.seen != nil && os.SameFile(s.seen, info) &&
		s.seen.ModTime().Equal(info.ModTime()) && s.seen.Size() == info.Size() {
		return false, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read settings file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("decode settings file: %w", err)
	}
	scopes := make(map[store.Scope]store.Values, len(doc.Scopes))
	for _, e := range doc.Scopes {
		if len(e.Values) > 0 {
			scopes[e.Scope] = e.Values
		}
	}
	s.scopes = scopes
	s.seen = info
	return true, nil
}

// refresh brings the in-memory copy up to date before a read.
func (s *SettingsStore) refresh() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.refreshLocked()
	return err
}

func (s *SettingsStore) Load(_ context.Context, scope store.Scope) (store.Values, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(store.Values, len(s.scopes[scope]))
	for k, v := range s.scopes[scope] {
		out[k] = cloneRaw(v)
	}
	return out, nil
}

func (s *SettingsStore) LoadMany(_ context.Context, scopes []store.Scope) (map[store.Scope]store.Values, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[store.Scope]store.Values, len(scopes))
	for _, sc := range scopes {
		vals, ok := s.scopes[sc]
		if !ok {
			continue
		}
		cp := make(store.Values, len(vals))
		for k, v := range vals {
			cp[k] = cloneRaw(v)
		}
		out[sc] = cp
	}
	return out, nil
}

func (s *SettingsStore) Get(_ context.Context, scope store.Scope, key string) (json.RawMessage, bool, error) {
	if err := s.refresh(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.scopes[scope][key]
	if !ok {
		return nil, false, nil
	}
	return cloneRaw(v), true, nil
}

func (s *SettingsStore) Set(_ context.Context, scope store.Scope, key string, value json.RawMessage) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("set %s/%s: value is not valid JSON", scope, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return err
	}

	vals, ok := s.scopes[scope]
	if !ok {
		vals = make(store.Values)
		s.scopes[scope] = vals
	}
	vals[key] = cloneRaw(value)
	return s.saveLocked()
}

func (s *SettingsStore) Delete(_ context.Context, scope store.Scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return err
	}

	vals, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	if _, ok := vals[key]; !ok {
		return nil
	}
	delete(vals, key)
	if len(vals) == 0 {
		delete(s.scopes, scope)
	}
	return s.saveLocked()
}

func (s *SettingsStore) Scopes(_ context.Context, kind store.ScopeKind) ([]store.Scope, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Scope
	for sc := range s.scopes {
		if sc.Kind == kind {
			out = append(out, sc)
		}
	}
	sortScopes(out)
	return out, nil
}

func (s *SettingsStore) ClearMember(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return 0, err
	}

	removed := 0
	for sc, vals := range s.scopes {
		if sc.Kind == store.KindMember && sc.TargetID == userID {
			removed += len(vals)
			delete(s.scopes, sc)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

func (s *SettingsStore) Close() error { return nil }

// saveLocked writes the document atomically: temp file, fsync, rename.
func (s *SettingsStore) saveLocked() error {
	if s.path == "" {
		return nil
	}

	doc := document{Scopes: make([]scopeEntry, 0, len(s.scopes))}
	for sc, vals := range s.scopes {
		doc.Scopes = append(doc.Scopes, scopeEntry{Scope: sc, Values: vals})
	}
	sort.Slice(doc.Scopes, func(i, j int) bool {
		return doc.Scopes[i].Scope.String() < doc.Scopes[j].Scope.String()
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	cleanup = false
	if info, err := os.Stat(s.path); err == nil {
		s.seen = info
	}
	return nil
}

const watchDebounce = 200 * time.Millisecond

// Watch calls onChange whenever another process rewrites the settings file,
// until ctx is done. Saves made through this store do not trigger it.
func (s *SettingsStore) Watch(ctx context.Context, onChange func()) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer w.Close()
	// Watch the directory: atomic saves replace the file itself.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) ||
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			s.mu.Lock()
			changed, err := s.refreshLocked()
			s.mu.Unlock()
			if err != nil {
				slog.Warn("reload settings file", "path", s.path, "error", err)
				continue
			}
			if changed {
				slog.Info("settings file changed on disk", "path", s.path)
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("settings watcher error", "error", err)
		}
	}
}

func sortScopes(scopes []store.Scope) {
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
