// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/storage"
)

type ParseCaloriesParams struct {
	Text   string `json:"text" description:"Free-text food description returned by the vision model"`
	Policy string `json:"policy,omitempty" description:"Extraction policy name (default, strict, lenient, ceiling)"`
}

type LogMealTextParams struct {
	UserID    string `json:"user_id" description:"User the meal belongs to"`
	Meal      string `json:"meal" description:"Meal type, e.g. breakfast, lunch, dinner, snack"`
	Text      string `json:"text" description:"Free-text food description to extract calories from"`
	Timestamp string `json:"timestamp,omitempty" description:"ISO timestamp of when the meal was eaten (defaults to now)"`
}

type GetHistoryParams struct {
	UserID    string `json:"user_id" description:"User whose history to return"`
	StartDate string `json:"start_date,omitempty" description:"Start date for history query (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date for history query (YYYY-MM-DD)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of entries to return"`
}

type toolHandler func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)

func (s *CalorieLogServer) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"parse_calories": s.handleParseCalories,
		"log_meal_text":  s.handleLogMealText,
		"get_history":    s.handleGetHistory,
		"list_policies":  s.handleListPolicies,
		"list_users":     s.handleListUsers,
	}
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal arguments: %v", errInvalidParams, err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	return nil
}

// handleParseCalories extracts calories without logging anything
func (s *CalorieLogServer) handleParseCalories(_ context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ParseCaloriesParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	pipeline := s.pipeline
	if params.Policy != "" {
		policy, err := extract.LookupPolicy(params.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		pipeline = extract.New(policy, extract.WithLogger(s.logger))
	}

	res := pipeline.Run(params.Text)
	return s.createJSONResponse(parseResponse{Result: res, ItemizedCalories: res.ItemizedCalories()})
}

// parseResponse adds the sum of every recorded value, summary lines included.
type parseResponse struct {
	extract.Result
	ItemizedCalories int `json:"itemized_calories"`
}

// handleLogMealText logs a meal from text the caller already has
func (s *CalorieLogServer) handleLogMealText(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogMealTextParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", errInvalidParams)
	}
	meal, ok := models.ParseMealType(params.Meal)
	if !ok {
		return nil, fmt.Errorf("%w: meal is required", errInvalidParams)
	}

	timestamp := s.now()
	if params.Timestamp != "" {
		var err error
		timestamp, err = time.Parse(time.RFC3339, params.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp format: %v", errInvalidParams, err)
		}
	}

	entry, err := s.recordMeal(ctx, mealRecord{
		userID: userID,
		meal:   meal,
		text:   params.Text,
		source: models.SourceText,
		at:     timestamp,
	})
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(newLogResponse(entry))
}

// handleGetHistory retrieves a user's meal log
func (s *CalorieLogServer) handleGetHistory(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetHistoryParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	params.UserID = strings.TrimSpace(params.UserID)
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", errInvalidParams)
	}
	for _, d := range []string{params.StartDate, params.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", errInvalidParams, d)
		}
	}

	if params.Limit <= 0 {
		params.Limit = 20
	}

	entries, err := s.storage.History(ctx, params.UserID, storage.HistoryQuery{
		StartDate: params.StartDate,
		EndDate:   params.EndDate,
		Limit:     params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve history: %w", err)
	}

	return s.createJSONResponse(entries)
}

func (s *CalorieLogServer) handleListPolicies(_ context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	policies := make([]extract.Policy, 0, len(extract.PolicyNames()))
	for _, name := range extract.PolicyNames() {
		p, err := extract.LookupPolicy(name)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return s.createJSONResponse(map[string]interface{}{
		"active":   s.pipeline.Policy().Name,
		"policies": policies,
	})
}

// handleListUsers returns every user with at least one logged meal
func (s *CalorieLogServer) handleListUsers(ctx context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	users, err := s.storage.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return s.createJSONResponse(map[string]interface{}{"users": users})
}

type mealRecord struct {
	userID    string
	meal      models.MealType
	text      string
	source    string
	imageFile string
	at        time.Time
}

// recordMeal runs the extractor and appends the entry to the user's history.
// An empty extraction is still logged; the caller decides how to warn.
func (s *CalorieLogServer) recordMeal(ctx context.Context, m mealRecord) (*models.MealEntry, error) {
	res := s.pipeline.Run(m.text)

	entry := models.NewMealEntry(m.userID, m.meal, res, m.at)
	entry.Source = m.source
	entry.ImageFile = m.imageFile

	if err := s.storage.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save meal entry: %w", err)
	}

	if res.Empty() {
		s.logger.Warn("no calories extracted",
			zap.String("user_id", m.userID),
			zap.String("entry_id", entry.ID),
			zap.Int("text_length", len(m.text)))
	} else {
		s.logger.Info("meal logged",
			zap.String("user_id", m.userID),
			zap.String("entry_id", entry.ID),
			zap.Int("ingredients", len(res.Ingredients)),
			zap.Int("total_calories", res.TotalCalories))
	}
	return entry, nil
}

const noEstimateWarning = "could not estimate calories"

type logResponse struct {
	Status  string            `json:"status"`
	Data    *models.MealEntry `json:"data"`
	Warning string            `json:"warning,omitempty"`
}

func newLogResponse(entry *models.MealEntry) logResponse {
	resp := logResponse{Status: "ok", Data: entry}
	if len(entry.Ingredients) == 0 {
		resp.Warning = noEstimateWarning
	}
	return resp
}
