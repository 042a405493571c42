package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all photoflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	PipelinesDir  string `json:"pipelines_dir"`
	LogLevel      string `json:"log_level"`
	Workers       int    `json:"workers"`
	Scheduler     bool   `json:"scheduler"`
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	VisionModel   string `json:"vision_model"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(photoflowDir(), "photoflow.db"),
		PipelinesDir: filepath.Join(photoflowDir(), "pipelines"),
		LogLevel:     "info",
		Workers:      4,
		Scheduler:    true,
	}
}

func photoflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".photoflow"
	}
	return filepath.Join(home, ".photoflow")
}

func settingsPath() string {
	return filepath.Join(photoflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PHOTOFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PHOTOFLOW_PIPELINES_DIR"); v != "" {
		cfg.PipelinesDir = v
	}
	if v := os.Getenv("PHOTOFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PHOTOFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("PHOTOFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("PHOTOFLOW_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("PHOTOFLOW_VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}

	return cfg
}
