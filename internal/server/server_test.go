package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/storage"
)

const modelAnswer = `Here's what I see:
- **Rice**: 280 calories
- Chicken: 100-200 calories
Total estimated calories: 430 calories`

type fakeDescriber struct {
	text     string
	err      error
	mimeType string
	calls    int
}

func (f *fakeDescriber) Describe(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.calls++
	f.mimeType = mimeType
	return f.text, f.err
}

func newTestServer(t *testing.T, vision Describer) (*CalorieLogServer, *Config) {
	t.Helper()
	dir := t.TempDir()

	stor, err := storage.NewSQLiteStorage(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { stor.Close() })

	cfg := &Config{
		Host:      "127.0.0.1",
		Port:      0,
		UploadDir: filepath.Join(dir, "uploads"),
		Policy:    extract.DefaultPolicy(),
	}
	require.NoError(t, os.MkdirAll(cfg.UploadDir, 0o755))

	s := newServer(cfg, stor, vision, nil)
	s.now = func() time.Time { return time.Date(2026, 5, 4, 13, 15, 0, 0, time.UTC) }
	return s, cfg
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type uploadResult struct {
	Status  string            `json:"status"`
	Data    *models.MealEntry `json:"data"`
	Warning string            `json:"warning"`
}

func TestUpload(t *testing.T) {
	vision := &fakeDescriber{text: modelAnswer}
	s, cfg := newTestServer(t, vision)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	req := uploadRequest(t, map[string]string{"user_id": "alice", "meal": "Lunch"}, "plate.PNG", png)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got uploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Empty(t, got.Warning)

	entry := got.Data
	require.NotNil(t, entry)
	assert.Equal(t, "alice", entry.UserID)
	assert.Equal(t, models.Lunch, entry.Meal)
	assert.Equal(t, "2026-05-04", entry.Date)
	assert.Equal(t, 430, entry.TotalCalories)
	assert.Equal(t, []extract.Ingredient{
		{Name: "Rice", Calories: 280},
		{Name: "Chicken", Calories: 150},
		{Name: "Total estimated calories", Calories: 430, ExcludedFromTotal: true},
	}, entry.Ingredients)
	assert.Equal(t, models.SourceImage, entry.Source)

	assert.Regexp(t, `^alice_20260504_131500_[0-9a-f]{8}\.png$`, entry.ImageFile)
	saved, err := os.ReadFile(filepath.Join(cfg.UploadDir, entry.ImageFile))
	require.NoError(t, err)
	assert.Equal(t, png, saved)
	assert.Equal(t, "image/png", vision.mimeType)

	history, err := s.storage.History(context.Background(), "alice", storage.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entry.ID, history[0].ID)
}

func TestUpload_EmptyExtractionStillLogged(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{text: "I can't tell what this is."})

	req := uploadRequest(t, map[string]string{"user_id": "bob", "meal": "snack"}, "x.jpg", []byte("jpeg"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got uploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, noEstimateWarning, got.Warning)
	assert.Empty(t, got.Data.Ingredients)
	assert.Zero(t, got.Data.TotalCalories)
}

func TestUpload_Validation(t *testing.T) {
	vision := &fakeDescriber{text: modelAnswer}
	s, _ := newTestServer(t, vision)

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		image    []byte
	}{
		{"missing user", map[string]string{"meal": "lunch"}, "a.jpg", []byte("x")},
		{"missing meal", map[string]string{"user_id": "alice"}, "a.jpg", []byte("x")},
		{"missing file", map[string]string{"user_id": "alice", "meal": "lunch"}, "", nil},
		{"empty file", map[string]string{"user_id": "alice", "meal": "lunch"}, "a.jpg", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, uploadRequest(t, tt.fields, tt.filename, tt.image))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, vision.calls)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUpload_VisionFailure(t *testing.T) {
	s, cfg := newTestServer(t, &fakeDescriber{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, map[string]string{"user_id": "alice", "meal": "lunch"}, "a.jpg", []byte("x")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	history, err := s.storage.History(context.Background(), "alice", storage.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, history)

	saved, err := os.ReadDir(cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, saved, "unanalyzed image must not be kept")
}

func TestSaveImage_SanitizesNames(t *testing.T) {
	s, cfg := newTestServer(t, &fakeDescriber{})

	name, err := s.saveImage("../../etc/passwd", "evil.j$g", []byte("x"), s.now())
	require.NoError(t, err)
	assert.Regexp(t, `^_etc_passwd_20260504_131500_[0-9a-f]{8}$`, name)
	_, err = os.Stat(filepath.Join(cfg.UploadDir, name))
	assert.NoError(t, err)
}

func callTool(t *testing.T, s *CalorieLogServer, name string, args map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	return rec
}

func toolText(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	return result.Content[0].Text
}

func TestTool_ParseCalories(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	var res parseResponse
	text := toolText(t, callTool(t, s, "parse_calories", map[string]interface{}{"text": modelAnswer}))
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Len(t, res.Ingredients, 3)
	assert.Equal(t, 430, res.TotalCalories)
	assert.Equal(t, 860, res.ItemizedCalories)
	assert.Contains(t, text, `"itemized_calories":860`)

	res = parseResponse{}
	text = toolText(t, callTool(t, s, "parse_calories", map[string]interface{}{"text": modelAnswer, "policy": "strict"}))
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Len(t, res.Ingredients, 2)
	assert.Equal(t, 430, res.TotalCalories)
	assert.Equal(t, 430, res.ItemizedCalories)

	rec := callTool(t, s, "parse_calories", map[string]interface{}{"text": modelAnswer, "policy": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTool_LogMealTextAndHistory(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	text := toolText(t, callTool(t, s, "log_meal_text", map[string]interface{}{
		"user_id":   "alice",
		"meal":      "breakfast",
		"text":      "Oatmeal: 150 calories\nBanana: 90-110 calories",
		"timestamp": "2026-05-01T07:30:00Z",
	}))
	var logged logResponse
	require.NoError(t, json.Unmarshal([]byte(text), &logged))
	assert.Equal(t, 250, logged.Data.TotalCalories)
	assert.Equal(t, "2026-05-01", logged.Data.Date)
	assert.Equal(t, models.SourceText, logged.Data.Source)

	toolText(t, callTool(t, s, "log_meal_text", map[string]interface{}{
		"user_id": "alice",
		"meal":    "dinner",
		"text":    "Pasta: 600 calories",
	}))

	var history []*models.MealEntry
	text = toolText(t, callTool(t, s, "get_history", map[string]interface{}{"user_id": "alice"}))
	require.NoError(t, json.Unmarshal([]byte(text), &history))
	require.Len(t, history, 2)
	assert.Equal(t, models.Dinner, history[0].Meal)

	text = toolText(t, callTool(t, s, "get_history", map[string]interface{}{
		"user_id":  "alice",
		"end_date": "2026-05-02",
	}))
	require.NoError(t, json.Unmarshal([]byte(text), &history))
	require.Len(t, history, 1)
	assert.Equal(t, models.Breakfast, history[0].Meal)

	text = toolText(t, callTool(t, s, "get_history", map[string]interface{}{"user_id": "  alice "}))
	require.NoError(t, json.Unmarshal([]byte(text), &history))
	assert.Len(t, history, 2)

	rec := callTool(t, s, "get_history", map[string]interface{}{"user_id": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTool_ListUsers(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	var got struct {
		Users []string `json:"users"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, callTool(t, s, "list_users", nil))), &got))
	assert.Empty(t, got.Users)

	for _, user := range []string{"bob", " alice ", "bob"} {
		toolText(t, callTool(t, s, "log_meal_text", map[string]interface{}{
			"user_id": user,
			"meal":    "snack",
			"text":    "Apple: 95 calories",
		}))
	}

	require.NoError(t, json.Unmarshal([]byte(toolText(t, callTool(t, s, "list_users", nil))), &got))
	assert.Equal(t, []string{"alice", "bob"}, got.Users)
}

func TestTool_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	rec := callTool(t, s, "log_meal_text", map[string]interface{}{"meal": "lunch", "text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = callTool(t, s, "log_meal_text", map[string]interface{}{"user_id": "a", "meal": "lunch", "timestamp": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = callTool(t, s, "get_history", map[string]interface{}{"user_id": "a", "start_date": "05/01/2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = callTool(t, s, "get_history", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = callTool(t, s, "log_meal", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTool_ListPolicies(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	var got struct {
		Active   string           `json:"active"`
		Policies []extract.Policy `json:"policies"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, callTool(t, s, "list_policies", nil))), &got))
	assert.Equal(t, "default", got.Active)
	assert.Len(t, got.Policies, len(extract.PolicyNames()))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeDescriber{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
