package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.APIPort != 8090 {
		t.Errorf("APIPort = %d, want 8090", cfg.APIPort)
	}
	if cfg.ManagementPort != 8091 {
		t.Errorf("ManagementPort = %d, want 8091", cfg.ManagementPort)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress = %q", cfg.BindAddress)
	}
	if cfg.DefaultTTLSeconds != 86400 {
		t.Errorf("DefaultTTLSeconds = %d, want 86400", cfg.DefaultTTLSeconds)
	}
	if !cfg.UseRegex || !cfg.UseModel || !cfg.UseDictionary {
		t.Error("all detectors should default to enabled")
	}
	if cfg.MaskBIC {
		t.Error("MaskBIC should default to false")
	}
	if len(cfg.Categories) == 0 {
		t.Error("Categories must not be empty")
	}
}

func TestDefaults_PriorityOrdering(t *testing.T) {
	cfg := defaults()

	// Dictionary > structured regex > amounts > model.
	if cfg.DictionaryPriority <= cfg.RegexPriority("EMAIL") {
		t.Error("dictionary must outrank structured regex")
	}
	if cfg.RegexPriority("EMAIL") <= cfg.RegexPriority("AMOUNT") {
		t.Error("structured categories must outrank amounts")
	}
	if cfg.RegexPriority("AMOUNT") <= cfg.ModelPriority {
		t.Error("regex must outrank the model")
	}
}

func TestRegexPriority_Fallback(t *testing.T) {
	cfg := defaults()
	if got := cfg.RegexPriority("UNLISTED"); got != 50 {
		t.Errorf("RegexPriority(UNLISTED) = %d, want 50", got)
	}
	if got := cfg.RegexPriority("email"); got != cfg.RegexPriority("EMAIL") {
		t.Errorf("lookup must be case-insensitive, got %d", got)
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("API_PORT", "9999")
	t.Setenv("MANAGEMENT_TOKEN", "secret")
	t.Setenv("USE_MODEL_DETECTION", "false")
	t.Setenv("MASK_BIC", "true")
	t.Setenv("DEFAULT_TTL_SECONDS", "600")
	t.Setenv("OLLAMA_MODEL", "llama3:8b")
	t.Setenv("MODEL_CONFIDENCE_THRESHOLD", "0.9")

	cfg := defaults()
	loadEnv(cfg)

	if cfg.APIPort != 9999 {
		t.Errorf("APIPort = %d, want 9999", cfg.APIPort)
	}
	if cfg.ManagementToken != "secret" {
		t.Errorf("ManagementToken = %q", cfg.ManagementToken)
	}
	if cfg.UseModel {
		t.Error("UseModel should be disabled")
	}
	if !cfg.MaskBIC {
		t.Error("MaskBIC should be enabled")
	}
	if cfg.DefaultTTLSeconds != 600 {
		t.Errorf("DefaultTTLSeconds = %d, want 600", cfg.DefaultTTLSeconds)
	}
	if cfg.OllamaModel != "llama3:8b" {
		t.Errorf("OllamaModel = %q", cfg.OllamaModel)
	}
	if cfg.ModelConfidence != 0.9 {
		t.Errorf("ModelConfidence = %v, want 0.9", cfg.ModelConfidence)
	}
}

func TestLoadEnv_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("API_PORT", "not-a-number")
	t.Setenv("DEFAULT_TTL_SECONDS", "-5")

	cfg := defaults()
	loadEnv(cfg)

	if cfg.APIPort != 8090 {
		t.Errorf("APIPort = %d, want default kept", cfg.APIPort)
	}
	if cfg.DefaultTTLSeconds != 86400 {
		t.Errorf("DefaultTTLSeconds = %d, want default kept", cfg.DefaultTTLSeconds)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maskd-config.json")
	data := `{"apiPort": 7070, "useModelDetection": false, "categories": ["PERSON", "EMAIL"]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, path)

	if cfg.APIPort != 7070 {
		t.Errorf("APIPort = %d, want 7070", cfg.APIPort)
	}
	if cfg.UseModel {
		t.Error("UseModel should be disabled by file")
	}
	if len(cfg.Categories) != 2 {
		t.Errorf("Categories = %v, want file value to replace defaults", cfg.Categories)
	}
	// Untouched keys keep their defaults.
	if cfg.ManagementPort != 8091 {
		t.Errorf("ManagementPort = %d, want default kept", cfg.ManagementPort)
	}
}

func TestLoadFile_MissingAndCorrupt(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, filepath.Join(t.TempDir(), "absent.json"))
	if cfg.APIPort != 8090 {
		t.Error("missing file must leave defaults untouched")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	loadFile(cfg, path)
	if cfg.APIPort != 8090 {
		t.Error("corrupt file must leave defaults untouched")
	}
}
