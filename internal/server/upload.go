// internal/server/upload.go
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/models"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// handleUpload accepts a multipart food photo, asks the vision model about
// it and logs the extracted calories.
func (s *CalorieLogServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	meal, ok := models.ParseMealType(r.FormValue("meal"))
	if !ok {
		http.Error(w, "meal is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image_file")
	if err != nil {
		http.Error(w, "image_file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read image: %v", err), http.StatusBadRequest)
		return
	}
	if len(content) == 0 {
		http.Error(w, "image_file is empty", http.StatusBadRequest)
		return
	}

	now := s.now()
	filename, err := s.saveImage(userID, header.Filename, content, now)
	if err != nil {
		s.logger.Error("failed to save upload", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to save image", http.StatusInternalServerError)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(content)
	}

	text, err := s.vision.Describe(r.Context(), content, mimeType)
	if err != nil {
		s.logger.Error("vision model call failed", zap.String("user_id", userID), zap.Error(err))
		if rmErr := os.Remove(filepath.Join(s.config.UploadDir, filename)); rmErr != nil {
			s.logger.Warn("failed to remove unanalyzed upload", zap.String("file", filename), zap.Error(rmErr))
		}
		http.Error(w, fmt.Sprintf("Failed to analyze image: %v", err), http.StatusBadGateway)
		return
	}

	entry, err := s.recordMeal(r.Context(), mealRecord{
		userID:    userID,
		meal:      meal,
		text:      text,
		source:    models.SourceImage,
		imageFile: filename,
		at:        now,
	})
	if err != nil {
		s.logger.Error("failed to log meal", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newLogResponse(entry), s.logger)
}

// saveImage writes the upload as <user>_<YYYYMMDD_HHMMSS>_<8 hex><ext>.
func (s *CalorieLogServer) saveImage(userID, original string, content []byte, at time.Time) (string, error) {
	ext := strings.ToLower(filepath.Ext(original))
	if unsafeFileChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	filename := fmt.Sprintf("%s_%s_%s%s",
		unsafeFileChars.ReplaceAllString(userID, "_"), at.Format("20060102_150405"), suffix, ext)

	path := filepath.Join(s.config.UploadDir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return filename, nil
}
