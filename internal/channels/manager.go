package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ChannelStatus is the reported state of one adapter.
type ChannelStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Manager owns the lifecycle of all registered adapters.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll starts every registered channel. A channel that fails to start
// is reported in the joined error; the others keep running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")
	var errs []error
	for _, name := range m.sortedNames() {
		slog.Info("starting channel", "channel", name)
		if err := m.channels[name].Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll gracefully stops all running channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	var errs []error
	for _, name := range m.sortedNames() {
		ch := m.channels[name]
		if !ch.IsRunning() {
			continue
		}
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	slog.Info("all channels stopped")
	return errors.Join(errs...)
}

// GetStatus returns the running status of all channels, sorted by name.
func (m *Manager) GetStatus() []ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChannelStatus, 0, len(m.channels))
	for _, name := range m.sortedNames() {
		out = append(out, ChannelStatus{Name: name, Running: m.channels[name].IsRunning()})
	}
	return out
}

// caller holds mu.
func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
