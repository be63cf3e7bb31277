// Command maskd is the PII masking service.
//
// It detects personal data in text using regex patterns, a local Ollama
// model and a user-curated dictionary, replaces every finding with a stable
// per-session token, and restores the original values on demand while the
// session is alive.
//
// Two HTTP servers run side by side: the masking API (mask, demask, session
// creation) on the configured bind address and a loopback-only management
// API (status, metrics, dictionary, session administration).
//
// Usage:
//
//	# Defaults
//	./maskd
//
//	# Custom ports, model detection off
//	API_PORT=9090 USE_MODEL_DETECTION=false ./maskd
//
//	# Protect the management API
//	MANAGEMENT_TOKEN=secret ./maskd
package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"piimask/internal/api"
	"piimask/internal/config"
	"piimask/internal/detector"
	"piimask/internal/dictionary"
	"piimask/internal/logger"
	"piimask/internal/management"
	"piimask/internal/masking"
	"piimask/internal/metrics"
	"piimask/internal/session"
)

func main() {
	godotenv.Load() //nolint:errcheck // .env is optional

	cfg := config.Load()
	log := logger.New("MASKD", cfg.LogLevel)

	printBanner(cfg)

	dict, err := dictionary.Open(cfg.DictionaryFile, logger.New("DICT", cfg.LogLevel))
	if err != nil {
		log.Fatalf("startup", "dictionary: %v", err)
	}
	defer dict.Close() //nolint:errcheck // best-effort close on shutdown

	sessions := session.New(
		time.Duration(cfg.DefaultTTLSeconds)*time.Second,
		time.Duration(cfg.SessionRetentionSeconds)*time.Second,
		cfg.SessionSnapshotFile,
		logger.New("SESSION", cfg.LogLevel),
	)
	detectors := buildDetectors(cfg, dict, log)
	names := make([]string, 0, len(detectors))
	for _, d := range detectors {
		names = append(names, d.Name())
	}
	m := metrics.New(cfg.Categories, names)
	sessions.OnExpire = func(string) { m.SessionsExpired.Add(1) }

	stop := make(chan struct{})
	defer close(stop)
	go sessions.RunEviction(time.Duration(cfg.EvictionIntervalSeconds)*time.Second, stop)

	svc := masking.New(detectors, sessions, m, logger.New("PIPELINE", cfg.LogLevel))

	// Start management API in background.
	// Fatal is intentional: the service should not run without its control plane.
	mgmt := management.New(cfg, dict, sessions, m, logger.New("MANAGEMENT", cfg.LogLevel))
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Fatalf("management", "%v", err)
		}
	}()

	apiServer := api.New(cfg, svc, sessions, m, logger.New("API", cfg.LogLevel))
	if err := apiServer.ListenAndServe(); err != nil {
		log.Fatalf("api", "%v", err)
	}
}

// buildDetectors assembles the detector chain honoring the config toggles.
// Order matters only for deterministic tie-breaks: dictionary first, then
// regex, then model, matching descending default priority.
func buildDetectors(cfg *config.Config, dict *dictionary.Store, log *logger.Logger) []detector.Detector {
	var detectors []detector.Detector

	if cfg.UseDictionary {
		detectors = append(detectors, detector.NewDictionary(dict.Snapshot, cfg.DictionaryPriority))
	}
	if cfg.UseRegex {
		detectors = append(detectors, detector.NewRegex(cfg.MaskBIC, cfg.RegexPriority))
	}
	if cfg.UseModel {
		cache := openDetectionCache(cfg, log)
		detectors = append(detectors, detector.NewModel(detector.ModelConfig{
			Endpoint:   cfg.OllamaEndpoint,
			Model:      cfg.OllamaModel,
			Threshold:  cfg.ModelConfidence,
			Timeout:    time.Duration(cfg.ModelTimeoutSeconds) * time.Second,
			Categories: cfg.Categories,
			Priority:   cfg.ModelPriority,
		}, cache, logger.New("MODEL", cfg.LogLevel)))
	}
	return detectors
}

// openDetectionCache opens the persistent model detection cache, falling
// back to memory-only when the file cannot be opened.
func openDetectionCache(cfg *config.Config, log *logger.Logger) detector.DetectionCache {
	if cfg.DetectionCacheFile == "" {
		return detector.NewS3FIFOCache(detector.NewMemoryCache(), cfg.DetectionCacheSize)
	}
	backing, err := detector.NewBboltCache(cfg.DetectionCacheFile, logger.New("CACHE", cfg.LogLevel))
	if err != nil {
		log.Warnf("startup", "detection cache unavailable, using memory: %v", err)
		backing = detector.NewMemoryCache()
	}
	return detector.NewS3FIFOCache(backing, cfg.DetectionCacheSize)
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          PII Masking Service  (maskd)                ║
╚══════════════════════════════════════════════════════╝
  API port        : %d
  Management port : %d
  Default TTL     : %ds
  Regex detection : %v
  Model detection : %v
  Dictionary      : %v
  Ollama endpoint : %s
  Ollama model    : %s

  Create a session:
    curl -X POST http://localhost:%d/sessions

  Check status:
    curl http://localhost:%d/status
`, cfg.APIPort, cfg.ManagementPort, cfg.DefaultTTLSeconds,
		cfg.UseRegex, cfg.UseModel, cfg.UseDictionary,
		cfg.OllamaEndpoint, cfg.OllamaModel,
		cfg.APIPort, cfg.ManagementPort)
}
