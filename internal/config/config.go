// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/server"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// File mirrors the YAML configuration file.
type File struct {
	Server     ServerSection       `yaml:"server"`
	Store      StoreSection        `yaml:"store"`
	Vision     server.VisionConfig `yaml:"vision"`
	Extraction ExtractionSection   `yaml:"extraction"`
}

type ServerSection struct {
	Transport   string `yaml:"transport"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type StoreSection struct {
	Kind string `yaml:"kind"` // sqlite | json
	Path string `yaml:"path"`
}

// ExtractionSection starts from a named policy; any field set here
// overrides that policy.
type ExtractionSection struct {
	Policy            string   `yaml:"policy"`
	RecordTotals      *bool    `yaml:"record_totals"`
	AveragePairs      *bool    `yaml:"average_pairs"`
	RangeRounding     string   `yaml:"range_rounding"`
	ExcludePhrases    []string `yaml:"exclude_phrases"`
	TotalGuardPhrases []string `yaml:"total_guard_phrases"`
	MaxCalories       int      `yaml:"max_calories"`
}

// Default returns the settings used when no file is given.
func Default() *File {
	return &File{
		Server: ServerSection{
			Transport:   "http",
			Host:        "0.0.0.0",
			Port:        8011,
			UploadDir:   "/data/uploads",
			MaxUploadMB: 20,
		},
		Store: StoreSection{
			Kind: "sqlite",
			Path: "/data/calorie-log.db",
		},
		Extraction: ExtractionSection{
			Policy: "default",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Policy resolves the extraction section into a validated policy.
func (f *File) Policy() (extract.Policy, error) {
	e := f.Extraction
	p, err := extract.LookupPolicy(e.Policy)
	if err != nil {
		return extract.Policy{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if e.RecordTotals != nil {
		p.RecordTotals = *e.RecordTotals
	}
	if e.AveragePairs != nil {
		p.AveragePairs = *e.AveragePairs
	}
	if e.RangeRounding != "" {
		p.RangeRounding = extract.Rounding(e.RangeRounding)
	}
	if e.ExcludePhrases != nil {
		p.ExcludePhrases = e.ExcludePhrases
	}
	if e.TotalGuardPhrases != nil {
		p.TotalGuardPhrases = e.TotalGuardPhrases
	}
	if e.MaxCalories != 0 {
		p.MaxCalories = e.MaxCalories
	}

	if err := p.Validate(); err != nil {
		return extract.Policy{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return p, nil
}

// ServerConfig builds the server settings.
func (f *File) ServerConfig() (*server.Config, error) {
	if f.Server.Port < 0 || f.Server.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, f.Server.Port)
	}
	if f.Store.Path == "" {
		return nil, fmt.Errorf("%w: store path is required", ErrInvalidConfig)
	}
	if f.Server.UploadDir == "" {
		return nil, fmt.Errorf("%w: upload_dir is required", ErrInvalidConfig)
	}

	policy, err := f.Policy()
	if err != nil {
		return nil, err
	}

	return &server.Config{
		Transport:      f.Server.Transport,
		Host:           f.Server.Host,
		Port:           f.Server.Port,
		Store:          f.Store.Kind,
		DBPath:         f.Store.Path,
		UploadDir:      f.Server.UploadDir,
		MaxUploadBytes: int64(f.Server.MaxUploadMB) << 20,
		Policy:         policy,
		Vision:         f.Vision,
	}, nil
}
