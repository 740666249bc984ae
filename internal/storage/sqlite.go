// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/models"
)

// Fixed-width UTC timestamps so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; also keeps history reads from needing a second connection.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS meal_entries (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        date TEXT NOT NULL,
        meal TEXT NOT NULL,
        total_calories INTEGER NOT NULL,
        image_file TEXT NOT NULL DEFAULT '',
        timestamp TEXT NOT NULL,
        source TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS ingredients (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        entry_id TEXT NOT NULL,
        name TEXT NOT NULL,
        calories INTEGER NOT NULL,
        excluded_from_total INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY (entry_id) REFERENCES meal_entries(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_meal_entries_user_ts ON meal_entries(user_id, timestamp);
    CREATE INDEX IF NOT EXISTS idx_ingredients_entry_id ON ingredients(entry_id);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Append(ctx context.Context, entry *models.MealEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	entryQuery := `
        INSERT INTO meal_entries (id, user_id, date, meal, total_calories, image_file, timestamp, source)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = tx.ExecContext(ctx, entryQuery,
		entry.ID, entry.UserID, entry.Date, string(entry.Meal), entry.TotalCalories,
		entry.ImageFile, entry.Timestamp.UTC().Format(timeLayout), entry.Source)
	if err != nil {
		return fmt.Errorf("failed to insert meal entry: %w", err)
	}

	ingredientQuery := `
        INSERT INTO ingredients (entry_id, name, calories, excluded_from_total)
        VALUES (?, ?, ?, ?)
    `
	for _, ing := range entry.Ingredients {
		_, err = tx.ExecContext(ctx, ingredientQuery,
			entry.ID, ing.Name, ing.Calories, ing.ExcludedFromTotal)
		if err != nil {
			return fmt.Errorf("failed to insert ingredient: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) History(ctx context.Context, userID string, q HistoryQuery) ([]*models.MealEntry, error) {
	query := `
        SELECT id, user_id, date, meal, total_calories, image_file, timestamp, source
        FROM meal_entries
        WHERE user_id = ?
    `
	args := []interface{}{userID}

	if q.StartDate != "" {
		query += " AND date >= ?"
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += " AND date <= ?"
		args = append(args, q.EndDate)
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.MealEntry{}
	for rows.Next() {
		entry := &models.MealEntry{}
		var meal, timestampStr string

		err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Date, &meal, &entry.TotalCalories,
			&entry.ImageFile, &timestampStr, &entry.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal entry: %w", err)
		}

		if entry.Timestamp, err = time.Parse(timeLayout, timestampStr); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		entry.Meal = models.MealType(meal)

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal entries: %w", err)
	}
	rows.Close()

	for _, entry := range entries {
		if err := s.loadIngredients(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to load ingredients for entry %s: %w", entry.ID, err)
		}
	}

	return entries, nil
}

func (s *SQLiteStorage) loadIngredients(ctx context.Context, entry *models.MealEntry) error {
	query := `
        SELECT name, calories, excluded_from_total
        FROM ingredients
        WHERE entry_id = ?
        ORDER BY id
    `

	rows, err := s.db.QueryContext(ctx, query, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	ingredients := []extract.Ingredient{}
	for rows.Next() {
		var ing extract.Ingredient
		if err := rows.Scan(&ing.Name, &ing.Calories, &ing.ExcludedFromTotal); err != nil {
			return fmt.Errorf("failed to scan ingredient: %w", err)
		}
		ingredients = append(ingredients, ing)
	}

	entry.Ingredients = ingredients
	return rows.Err()
}

func (s *SQLiteStorage) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM meal_entries ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
