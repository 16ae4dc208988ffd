package exitintent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/ports"
)

// snapshotVersion is bumped whenever the persisted shape changes, so a
// future field addition cannot silently corrupt old snapshot files.
const snapshotVersion = 1

// snapshot is the on-disk envelope: the full intent map, keyed by symbol.
type snapshot struct {
	Version int                           `json:"version"`
	Intents map[string]*domain.ExitIntent `json:"intents"`
}

// Tracker holds at most one pending exit intent per symbol across the
// decide-now/execute-later boundary. Every mutation persists the full map
// synchronously; history is not kept, only the current state matters.
type Tracker struct {
	mu       sync.RWMutex
	logger   ports.Logger
	filePath string
	intents  map[string]*domain.ExitIntent
}

// Config holds configuration for the tracker.
type Config struct {
	FilePath string
	Logger   ports.Logger
}

// NewTracker creates a tracker and reloads any persisted intents.
// A missing snapshot file means "no pending intents", not an error.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for exit intent tracker")
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path is required for exit intent tracker")
	}

	t := &Tracker{
		logger:   cfg.Logger,
		filePath: cfg.FilePath,
		intents:  make(map[string]*domain.ExitIntent),
	}
	if err := t.load(); err != nil {
		return nil, fmt.Errorf("failed to load exit intents: %w", err)
	}
	return t, nil
}

// AddIntent records an exit decision for a symbol, unconditionally
// overwriting any prior intent (last decision wins), and persists.
func (t *Tracker) AddIntent(ctx context.Context, intent *domain.ExitIntent) error {
	if intent == nil || intent.Symbol == "" {
		return fmt.Errorf("add intent: %w", ports.ErrInvalidRequest)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prior, ok := t.intents[intent.Symbol]; ok {
		t.logger.Info(ctx, "Overwriting prior exit intent", map[string]interface{}{
			"symbol":     intent.Symbol,
			"priorState": prior.State,
			"newState":   intent.State,
		})
	}
	t.intents[intent.Symbol] = intent

	if err := t.save(); err != nil {
		return fmt.Errorf("failed to persist exit intent for %s: %w", intent.Symbol, err)
	}
	t.logger.Info(ctx, "Exit intent recorded", map[string]interface{}{
		"symbol":   intent.Symbol,
		"state":    intent.State,
		"exitType": intent.ExitType,
		"urgency":  intent.Urgency,
	})
	return nil
}

// MarkExecuted removes the intent for a symbol and persists. Calling it for
// an absent symbol logs a warning but is an idempotent no-op.
func (t *Tracker) MarkExecuted(ctx context.Context, symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.intents[symbol]; !ok {
		t.logger.Warn(ctx, "MarkExecuted called for symbol with no pending intent", map[string]interface{}{
			"symbol": symbol,
		})
		return nil
	}
	delete(t.intents, symbol)

	if err := t.save(); err != nil {
		return fmt.Errorf("failed to persist intent removal for %s: %w", symbol, err)
	}
	t.logger.Info(ctx, "Exit intent executed and cleared", map[string]interface{}{"symbol": symbol})
	return nil
}

// GetIntent returns a copy of the pending intent for a symbol, or nil.
// Mutating the returned value does not touch the tracked intent.
func (t *Tracker) GetIntent(symbol string) *domain.ExitIntent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	intent, ok := t.intents[symbol]
	if !ok {
		return nil
	}
	cp := *intent
	return &cp
}

// HasIntent reports whether a pending intent exists for the symbol.
func (t *Tracker) HasIntent(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.intents[symbol]
	return ok
}

// PendingIntents returns all pending intents sorted by symbol.
func (t *Tracker) PendingIntents() []*domain.ExitIntent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*domain.ExitIntent, 0, len(t.intents))
	for _, intent := range t.intents {
		cp := *intent
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// IntentCount returns the number of pending intents.
func (t *Tracker) IntentCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.intents)
}

// save writes the full intent map as a JSON snapshot, via a temp file and
// atomic rename so a crash mid-write cannot corrupt the snapshot.
// Caller must hold the write lock.
func (t *Tracker) save() error {
	snap := snapshot{
		Version: snapshotVersion,
		Intents: t.intents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal intents: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create intents directory: %w", err)
	}
	tmpPath := t.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary intents file: %w", err)
	}
	return os.Rename(tmpPath, t.filePath)
}

// load reads the snapshot file into memory. Missing file or empty file is
// a valid empty initial state.
func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse intents file %s: %w", t.filePath, err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("intents file %s has unsupported version %d", t.filePath, snap.Version)
	}
	if snap.Intents != nil {
		t.intents = snap.Intents
	}
	return nil
}
