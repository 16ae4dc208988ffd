package liquidity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/ports"
)

// ReserveStore persists the cash reserve as a single JSON object so it
// survives a process restart. Writes go through a temp file and atomic
// rename; a missing file reads as "no reserve".
type ReserveStore struct {
	mu       sync.Mutex
	logger   ports.Logger
	filePath string
}

// NewReserveStore creates a reserve store over the given file path.
func NewReserveStore(filePath string, logger ports.Logger) (*ReserveStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for reserve store")
	}
	if filePath == "" {
		return nil, fmt.Errorf("file path is required for reserve store")
	}
	return &ReserveStore{logger: logger, filePath: filePath}, nil
}

// Load reads the persisted reserve. A reserve already expired on the given
// day is deleted and reported as absent.
func (s *ReserveStore) Load(ctx context.Context, today time.Time) (*domain.CashReserve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read reserve file %s: %w", s.filePath, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var reserve domain.CashReserve
	if err := json.Unmarshal(data, &reserve); err != nil {
		return nil, fmt.Errorf("failed to parse reserve file %s: %w", s.filePath, err)
	}

	if reserve.ExpiredOn(today) {
		s.logger.Info(ctx, "Persisted cash reserve expired, deleting", map[string]interface{}{
			"amount": reserve.Amount,
			"expiry": reserve.ExpiryDate.Format("2006-01-02"),
		})
		if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn(ctx, "Failed to delete expired reserve file", map[string]interface{}{"error": err.Error()})
		}
		return nil, nil
	}
	return &reserve, nil
}

// Save persists the reserve atomically.
func (s *ReserveStore) Save(ctx context.Context, reserve *domain.CashReserve) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(reserve, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reserve: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create reserve directory: %w", err)
	}
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary reserve file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("failed to replace reserve file: %w", err)
	}
	s.logger.Info(ctx, "Cash reserve persisted", map[string]interface{}{
		"amount": reserve.Amount,
		"expiry": reserve.ExpiryDate.Format("2006-01-02"),
	})
	return nil
}

// Clear removes any persisted reserve.
func (s *ReserveStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove reserve file: %w", err)
	}
	return nil
}
