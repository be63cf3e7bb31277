// Package config loads and holds all maskd configuration.
// Settings are read from defaults first, then maskd-config.json, then
// environment variables. A .env file, if present, is loaded by the command
// before Load runs.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the full service configuration.
type Config struct {
	APIPort         int    `json:"apiPort"`
	ManagementPort  int    `json:"managementPort"`
	BindAddress     string `json:"bindAddress"`
	ManagementToken string `json:"managementToken"`
	LogLevel        string `json:"logLevel"`

	// Session lifecycle. TTL is fixed at creation; retention is how long an
	// expired session stays queryable before the sweeper removes it.
	DefaultTTLSeconds       int    `json:"defaultTtlSeconds"`
	SessionRetentionSeconds int    `json:"sessionRetentionSeconds"`
	EvictionIntervalSeconds int    `json:"evictionIntervalSeconds"`
	SessionSnapshotFile     string `json:"sessionSnapshotFile"`

	// Manual dictionary persistence (bbolt). Empty = in-memory only.
	DictionaryFile string `json:"dictionaryFile"`

	// Detector toggles.
	UseRegex      bool `json:"useRegexDetection"`
	UseModel      bool `json:"useModelDetection"`
	UseDictionary bool `json:"useDictionaryDetection"`
	MaskBIC       bool `json:"maskBic"`

	// Model detector (Ollama).
	OllamaEndpoint      string  `json:"ollamaEndpoint"`
	OllamaModel         string  `json:"ollamaModel"`
	ModelConfidence     float64 `json:"modelConfidenceThreshold"`
	ModelTimeoutSeconds int     `json:"modelTimeoutSeconds"`
	DetectionCacheFile  string  `json:"detectionCacheFile"`
	DetectionCacheSize  int     `json:"detectionCacheSize"`

	// Label set tokens may carry. Used to pre-populate per-category metrics
	// and to constrain what the model detector may emit.
	Categories []string `json:"categories"`

	// Conflict-resolution priorities per detector class. Dictionary entries
	// are user-curated and always rank above automatic detectors; structured
	// regex categories rank above model output.
	DictionaryPriority int            `json:"dictionaryPriority"`
	ModelPriority      int            `json:"modelPriority"`
	RegexPriorities    map[string]int `json:"regexPriorities"`
}

// StructuredCategories are the regex categories whose matches are more
// precise than model output; they get a higher default priority.
var StructuredCategories = []string{
	"EMAIL", "PHONE", "IBAN", "BIC", "VAT_ID",
	"INVOICE_ID", "DATE", "POSTAL_CODE", "IP_ADDRESS", "URL",
}

// Load returns config with defaults overridden by maskd-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "maskd-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	cfg := &Config{
		APIPort:        8090,
		ManagementPort: 8091,
		BindAddress:    "127.0.0.1",
		LogLevel:       "info",

		DefaultTTLSeconds:       86400,
		SessionRetentionSeconds: 86400,
		EvictionIntervalSeconds: 300,
		SessionSnapshotFile:     "maskd-sessions.json",
		DictionaryFile:          "maskd-dictionary.db",

		UseRegex:      true,
		UseModel:      true,
		UseDictionary: true,
		MaskBIC:       false,

		OllamaEndpoint:      "http://localhost:11434",
		OllamaModel:         "qwen2.5:3b",
		ModelConfidence:     0.7,
		ModelTimeoutSeconds: 10,
		DetectionCacheFile:  "maskd-detections.db",
		DetectionCacheSize:  10000,

		Categories: []string{
			"PERSON", "ORGANIZATION", "EMAIL", "PHONE", "IBAN", "BIC",
			"VAT_ID", "INVOICE_ID", "DATE", "LOCATION", "POSTAL_CODE",
			"IP_ADDRESS", "URL", "AMOUNT", "CUSTOM",
		},

		DictionaryPriority: 100,
		ModelPriority:      10,
		RegexPriorities:    make(map[string]int),
	}
	for _, c := range StructuredCategories {
		cfg.RegexPriorities[c] = 60
	}
	cfg.RegexPriorities["AMOUNT"] = 50
	return cfg
}

// RegexPriority returns the configured priority for a regex category,
// falling back to the lowest structured default for unlisted labels.
func (c *Config) RegexPriority(category string) int {
	if p, ok := c.RegexPriorities[strings.ToUpper(category)]; ok {
		return p
	}
	return 50
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEFAULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultTTLSeconds = n
		}
	}
	if v := os.Getenv("SESSION_RETENTION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SessionRetentionSeconds = n
		}
	}
	if v := os.Getenv("EVICTION_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EvictionIntervalSeconds = n
		}
	}
	if v := os.Getenv("SESSION_SNAPSHOT_FILE"); v != "" {
		cfg.SessionSnapshotFile = v
	}
	if v := os.Getenv("DICTIONARY_FILE"); v != "" {
		cfg.DictionaryFile = v
	}
	if v := os.Getenv("USE_REGEX_DETECTION"); v == "false" {
		cfg.UseRegex = false
	}
	if v := os.Getenv("USE_MODEL_DETECTION"); v == "false" {
		cfg.UseModel = false
	}
	if v := os.Getenv("USE_DICTIONARY_DETECTION"); v == "false" {
		cfg.UseDictionary = false
	}
	if v := os.Getenv("MASK_BIC"); v == "true" {
		cfg.MaskBIC = true
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("MODEL_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ModelConfidence = f
		}
	}
	if v := os.Getenv("MODEL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ModelTimeoutSeconds = n
		}
	}
	if v := os.Getenv("DETECTION_CACHE_FILE"); v != "" {
		cfg.DetectionCacheFile = v
	}
	if v := os.Getenv("DETECTION_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DetectionCacheSize = n
		}
	}
}
