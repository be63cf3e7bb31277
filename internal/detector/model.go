package detector

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- cache key for detection results, not cryptographic security
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"piimask/internal/logger"
	"piimask/internal/span"
)

// Model-based detector variant: asks a local Ollama model to find
// context-dependent PII (person names, organizations, locations) that
// pattern matching cannot see.
//
// The model call is synchronous: Detect returns the model's spans or an
// error the pipeline isolates. A persistent detection cache keyed by text
// hash sits in front, so repeated masking of the same text (the common case
// in a back-and-forth conversation) costs one inference, ever.
type Model struct {
	url        string
	model      string
	threshold  float64
	timeout    time.Duration
	categories map[string]bool // allowed labels, upper-case
	priority   int

	cache  DetectionCache
	client *http.Client
	log    *logger.Logger
}

// ModelConfig configures the Ollama detector.
type ModelConfig struct {
	Endpoint   string  // e.g. http://localhost:11434
	Model      string  // e.g. qwen2.5:3b
	Threshold  float64 // minimum confidence for a detection to count
	Timeout    time.Duration
	Categories []string // labels the model may emit; others are dropped
	Priority   int
}

// NewModel creates the model detector. cache must not be nil; use
// NewMemoryCache when no persistence is wanted.
func NewModel(cfg ModelConfig, cache DetectionCache, log *logger.Logger) *Model {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cats := make(map[string]bool, len(cfg.Categories))
	for _, c := range cfg.Categories {
		cats[strings.ToUpper(c)] = true
	}
	return &Model{
		url:        cfg.Endpoint + "/api/generate",
		model:      cfg.Model,
		threshold:  cfg.Threshold,
		timeout:    cfg.Timeout,
		categories: cats,
		priority:   cfg.Priority,
		cache:      cache,
		client:     http.DefaultClient,
		log:        log,
	}
}

// Name implements Detector.
func (d *Model) Name() string { return "model" }

// detection is one model finding, as cached.
type detection struct {
	Original   string  `json:"original"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Detect implements Detector.
func (d *Model) Detect(text string) ([]span.Span, error) {
	if text == "" {
		return nil, nil
	}

	key := fmt.Sprintf("%x", md5.Sum([]byte(text))) // #nosec G401 -- cache key, not crypto

	var detections []detection
	if data, hit := d.cache.Get(key); hit {
		if err := json.Unmarshal(data, &detections); err != nil {
			d.cache.Delete(key) // stale or corrupt entry; drop and re-query
			detections = nil
		} else {
			return d.toSpans(text, detections), nil
		}
	}

	detections, err := d.query(text)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(detections); err == nil {
		d.cache.Set(key, data)
	}
	return d.toSpans(text, detections), nil
}

// toSpans locates every occurrence of each detected value in the text.
// Values made of word characters only are matched on word boundaries so
// "Anna" never fires inside "Annahme"; anything else falls back to plain
// substring search.
func (d *Model) toSpans(text string, detections []detection) []span.Span {
	var out []span.Span
	for _, det := range detections {
		if det.Confidence < d.threshold || det.Original == "" {
			continue
		}
		category := strings.ToUpper(strings.TrimSpace(det.Category))
		if !d.categories[category] {
			continue
		}
		for _, pos := range findOccurrences(text, det.Original) {
			out = append(out, span.Span{
				Start:    pos[0],
				End:      pos[1],
				Text:     det.Original,
				Category: category,
				Source:   span.SourceModel,
				Priority: d.priority,
			})
		}
	}
	return out
}

var wordOnlyRe = regexp.MustCompile(`^\w+$`)

// findOccurrences returns the [start, end) byte offsets of every occurrence
// of value in text.
func findOccurrences(text, value string) [][2]int {
	if value == "" {
		return nil
	}
	var out [][2]int
	if wordOnlyRe.MatchString(value) {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(value) + `\b`)
		if err != nil {
			return nil
		}
		for _, m := range re.FindAllStringIndex(text, -1) {
			out = append(out, [2]int{m[0], m[1]})
		}
		return out
	}
	start := 0
	for {
		idx := strings.Index(text[start:], value)
		if idx < 0 {
			return out
		}
		s := start + idx
		out = append(out, [2]int{s, s + len(value)})
		start = s + 1
	}
}

// --- Ollama transport ---

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

const maxOllamaResponse = 10 << 20 // 10 MB

// query calls the Ollama generate API and parses the detection list out of
// the model's text response.
func (d *Model) query(text string) ([]detection, error) {
	labels := make([]string, 0, len(d.categories))
	for c := range d.categories {
		labels = append(labels, c)
	}

	prompt := fmt.Sprintf(`Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "category": one of: %s
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"Max Muster","category":"PERSON","confidence":0.95}]`,
		strings.Join(labels, ", "), text)

	reqBody, err := json.Marshal(ollamaRequest{Model: d.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxOllamaResponse {
		d.log.Warnf("model_query", "ollama response truncated at %d bytes", maxOllamaResponse)
		body = body[:maxOllamaResponse]
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("ollama response parse error: %w", err)
	}

	// Extract the JSON array from the model's text response.
	raw := strings.TrimSpace(ollamaResp.Response)
	first := strings.Index(raw, "[")
	last := strings.LastIndex(raw, "]")
	if first == -1 || last == -1 || last <= first {
		return nil, fmt.Errorf("no JSON array in ollama response")
	}

	var detections []detection
	if err := json.Unmarshal([]byte(raw[first:last+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}
