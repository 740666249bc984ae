// cmd/calorie-log/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcp-calorie-log/internal/config"
	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/server"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	envFile    = flag.String("env-file", ".env", "Optional .env file with OPENAI_* settings")
	transport  = flag.String("transport", "http", "Transport mode: http")
	port       = flag.Int("port", 8011, "Port for HTTP transport")
	host       = flag.String("host", "0.0.0.0", "Host address")
	address    = flag.String("address", "", "Address (alias for host)")
	store      = flag.String("store", "sqlite", "History store: sqlite or json")
	dbPath     = flag.String("db-path", "/data/calorie-log.db", "History database or JSON file path")
	uploadDir  = flag.String("upload-dir", "/data/uploads", "Directory for uploaded images")
	policy     = flag.String("policy", "default", "Extraction policy: default, strict, lenient, ceiling")
	parseFile  = flag.String("parse", "", "Extract calories from a text file and print the result")
	debug      = flag.Bool("debug", false, "Development logging")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("mcp-calorie-log version 1.0.0")
		os.Exit(0)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load env file", zap.String("path", *envFile), zap.Error(err))
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if *parseFile != "" {
		if err := runParse(cfg, *parseFile, logger); err != nil {
			logger.Fatal("parse failed", zap.Error(err))
		}
		return
	}

	srvCfg, err := cfg.ServerConfig()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	srv, err := server.NewCalorieLogServer(srvCfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig layers explicitly set flags over the config file.
func loadConfig() (*config.File, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Server.Transport = *transport
		case "port":
			cfg.Server.Port = *port
		case "host":
			cfg.Server.Host = *host
		case "store":
			cfg.Store.Kind = *store
		case "db-path":
			cfg.Store.Path = *dbPath
		case "upload-dir":
			cfg.Server.UploadDir = *uploadDir
		case "policy":
			cfg.Extraction.Policy = *policy
		}
	})
	// Use address if provided, otherwise use host
	if *address != "" {
		cfg.Server.Host = *address
	}

	return cfg, nil
}

func runParse(cfg *config.File, path string, logger *zap.Logger) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	p, err := cfg.Policy()
	if err != nil {
		return err
	}

	res := extract.New(p, extract.WithLogger(logger)).Run(string(text))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
