// internal/storage/jsonfile.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mcp-calorie-log/internal/models"
)

// JSONFileStorage keeps the whole history as one JSON document keyed by
// user id. Every append is a read-modify-write of that file.
type JSONFileStorage struct {
	mu   sync.Mutex
	path string
}

type history map[string][]*models.MealEntry

func NewJSONFileStorage(path string) (*JSONFileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: history file path is required", ErrInvalidInput)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return &JSONFileStorage{path: path}, nil
}

func (s *JSONFileStorage) Close() error {
	return nil
}

// load treats a missing or unreadable document as an empty history.
func (s *JSONFileStorage) load() (history, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return history{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	h := history{}
	if err := json.Unmarshal(data, &h); err != nil {
		return history{}, nil
	}
	return h, nil
}

func (s *JSONFileStorage) save(h history) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

func (s *JSONFileStorage) Append(ctx context.Context, entry *models.MealEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.load()
	if err != nil {
		return err
	}
	h[entry.UserID] = append(h[entry.UserID], entry)
	return s.save(h)
}

func (s *JSONFileStorage) History(ctx context.Context, userID string, q HistoryQuery) ([]*models.MealEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	h, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Appends may be back-dated, so file order is not time order.
	log := append([]*models.MealEntry(nil), h[userID]...)
	sort.SliceStable(log, func(i, j int) bool {
		if !log[i].Timestamp.Equal(log[j].Timestamp) {
			return log[i].Timestamp.After(log[j].Timestamp)
		}
		return log[i].ID > log[j].ID
	})

	entries := []*models.MealEntry{}
	for _, e := range log {
		if !inRange(e.Date, q) {
			continue
		}
		entries = append(entries, e)
		if q.Limit > 0 && len(entries) == q.Limit {
			break
		}
	}
	return entries, nil
}

func (s *JSONFileStorage) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	h, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	users := make([]string, 0, len(h))
	for user := range h {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}
