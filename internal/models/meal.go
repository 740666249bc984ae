// internal/models/meal.go
package models

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"mcp-calorie-log/internal/extract"
)

// DateLayout is the day format used for MealEntry.Date and history filters.
const DateLayout = "2006-01-02"

type MealEntry struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	Date          string               `json:"date"`
	Meal          MealType             `json:"meal"`
	TotalCalories int                  `json:"total_calories"`
	Ingredients   []extract.Ingredient `json:"ingredients_estimated"`
	ImageFile     string               `json:"image_file,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	Source        string               `json:"source"` // "image", "text"
}

type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
	Snack     MealType = "snack"
)

// ParseMealType lowercases and trims free-form input. Unknown meal names
// are kept as given; only an empty value is rejected.
func ParseMealType(s string) (MealType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return MealType(s), true
}

const (
	SourceImage = "image"
	SourceText  = "text"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMealEntry stamps an extraction result with identity and time.
func NewMealEntry(userID string, meal MealType, res extract.Result, at time.Time) *MealEntry {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(at), entropy).String()
	entropyMu.Unlock()

	return &MealEntry{
		ID:            id,
		UserID:        userID,
		Date:          at.Format(DateLayout),
		Meal:          meal,
		TotalCalories: res.TotalCalories,
		Ingredients:   res.Ingredients,
		Timestamp:     at,
	}
}
