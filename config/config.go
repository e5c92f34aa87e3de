// Package config loads bridge configuration from a YAML file.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all bridge settings from biomni-bridge.yaml.
type Config struct {
	// Agent invocation.
	AgentPath      string   `yaml:"agent_path"`      // agent executable (default "biomni-agent")
	AgentArgs      []string `yaml:"agent_args"`      // fixed args, query appended last
	TimeoutSeconds int      `yaml:"timeout_seconds"` // per-invocation timeout

	// Session storage.
	SessionRoot string `yaml:"session_root"` // default ~/.biomni-bridge/sessions

	// Streaming.
	MinUpdateBytes int `yaml:"min_update_bytes"` // new content required before a UI update

	// Server.
	Listen string `yaml:"listen"` // serve address, default ":8080"

	// Uploads.
	MaxUploadMB int      `yaml:"max_upload_mb"`
	AllowedExts []string `yaml:"allowed_exts"`

	// Logging.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		AgentPath:      "biomni-agent",
		TimeoutSeconds: 600,
		SessionRoot:    filepath.Join(home, ".biomni-bridge", "sessions"),
		MinUpdateBytes: 256,
		Listen:         ":8080",
		MaxUploadMB:    100,
		AllowedExts: []string{
			"pdf", "docx", "txt", "md",
			"png", "jpg", "jpeg", "tiff", "tif", "bmp", "gif",
			"csv", "tsv", "json", "xml", "yaml", "yml",
			"fasta", "fa", "fastq", "fq", "bed", "vcf", "gff", "gtf",
			"xlsx", "xls", "ods",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file, falling back to defaults for missing fields.
// A nonexistent path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.AgentPath == "" {
		cfg.AgentPath = "biomni-agent"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 600
	}
	if cfg.MinUpdateBytes <= 0 {
		cfg.MinUpdateBytes = 256
	}

	return cfg, nil
}
