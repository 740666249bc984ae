// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"mcp-calorie-log/internal/models"
)

var ErrInvalidInput = errors.New("invalid input")

// HistoryQuery narrows a user's history. Dates are inclusive YYYY-MM-DD
// strings; empty means unbounded. Limit <= 0 means no limit.
type HistoryQuery struct {
	StartDate string
	EndDate   string
	Limit     int
}

// HistoryStore is the append-only per-user meal log.
type HistoryStore interface {
	Append(ctx context.Context, entry *models.MealEntry) error
	// History returns entries newest first.
	History(ctx context.Context, userID string, q HistoryQuery) ([]*models.MealEntry, error)
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// Open picks a backend by name: "sqlite" or "json".
func Open(kind, path string) (HistoryStore, error) {
	switch kind {
	case "", "sqlite":
		return NewSQLiteStorage(path)
	case "json":
		return NewJSONFileStorage(path)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", ErrInvalidInput, kind)
	}
}

func validateEntry(entry *models.MealEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidInput)
	}
	if entry.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	return nil
}

func inRange(date string, q HistoryQuery) bool {
	if q.StartDate != "" && date < q.StartDate {
		return false
	}
	if q.EndDate != "" && date > q.EndDate {
		return false
	}
	return true
}
