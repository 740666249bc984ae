// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/storage"
)

type Config struct {
	Transport      string
	Host           string
	Port           int
	Store          string
	DBPath         string
	UploadDir      string
	MaxUploadBytes int64
	Policy         extract.Policy
	Vision         VisionConfig
}

type CalorieLogServer struct {
	httpServer *http.Server
	storage    storage.HistoryStore
	vision     Describer
	pipeline   *extract.Pipeline
	config     *Config
	logger     *zap.Logger
	now        func() time.Time
}

var errInvalidParams = errors.New("invalid parameters")

func NewCalorieLogServer(cfg *Config, logger *zap.Logger) (*CalorieLogServer, error) {
	if cfg.Transport != "" && cfg.Transport != "http" {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}

	stor, err := storage.Open(cfg.Store, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return newServer(cfg, stor, NewVisionClient(cfg.Vision), logger), nil
}

func newServer(cfg *Config, stor storage.HistoryStore, vision Describer, logger *zap.Logger) *CalorieLogServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}

	s := &CalorieLogServer{
		storage:  stor,
		vision:   vision,
		pipeline: extract.New(cfg.Policy, extract.WithLogger(logger)),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes without starting a listener.
func (s *CalorieLogServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleHTTP)
	return mux
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// handleHTTP dispatches MCP-style tool calls.
func (s *CalorieLogServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools()[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errInvalidParams) || errors.Is(err, storage.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("tool call failed", zap.String("tool", request.Name), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *CalorieLogServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *CalorieLogServer) Start(ctx context.Context) error {
	s.logger.Info("starting calorie log server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *CalorieLogServer) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.storage != nil {
		if cerr := s.storage.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *CalorieLogServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
