package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/config"
	"piimask/internal/detector"
	"piimask/internal/logger"
	"piimask/internal/masking"
	"piimask/internal/metrics"
	"piimask/internal/session"
)

func quietLogger() *logger.Logger {
	log := logger.New("TEST", "error")
	log.SetOutput(io.Discard)
	return log
}

// testAPI wires the real pipeline with the regex detector only.
func testAPI(t *testing.T) (http.Handler, *session.Store) {
	t.Helper()
	cfg := config.Load()
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	m := metrics.New(cfg.Categories, []string{"regex"})
	detectors := []detector.Detector{detector.NewRegex(false, cfg.RegexPriority)}
	svc := masking.New(detectors, store, m, quietLogger())
	return New(cfg, svc, store, m, quietLogger()).Handler(), store
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := post(t, h, "/sessions", `{"ttlSeconds":600}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)
	return info.ID
}

func TestAPI_SessionCreate(t *testing.T) {
	h, _ := testAPI(t)

	rec := post(t, h, "/sessions", `{"ttlSeconds":120}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, float64(120), info.TTLSecs)
	assert.Equal(t, session.StateActive, info.State)
}

func TestAPI_SessionCreate_EmptyBodyUsesDefault(t *testing.T) {
	h, _ := testAPI(t)
	rec := post(t, h, "/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, float64(3600), info.TTLSecs)
}

func TestAPI_SessionCreate_NegativeTTL(t *testing.T) {
	h, _ := testAPI(t)
	rec := post(t, h, "/sessions", `{"ttlSeconds":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SessionGet(t *testing.T) {
	h, _ := testAPI(t)
	id := createSession(t, h)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, id, info.ID)
}

func TestAPI_SessionGet_Unknown(t *testing.T) {
	h, _ := testAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MaskDemaskRoundTrip(t *testing.T) {
	h, _ := testAPI(t)
	id := createSession(t, h)

	text := "Bitte an max.muster@example.de schreiben."
	body, err := json.Marshal(map[string]string{"text": text, "sessionId": id})
	require.NoError(t, err)

	rec := post(t, h, "/mask", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var masked masking.MaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &masked))
	assert.Equal(t, id, masked.SessionID)
	assert.NotContains(t, masked.Text, "max.muster@example.de")
	assert.Contains(t, masked.Text, "[EMAIL_1]")

	demaskBody, err := json.Marshal(map[string]any{
		"text":       masked.Text,
		"sessionIds": []string{id},
	})
	require.NoError(t, err)

	rec = post(t, h, "/demask", string(demaskBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var restored masking.DemaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	assert.Equal(t, text, restored.Text)
}

func TestAPI_MaskUnknownSession(t *testing.T) {
	h, _ := testAPI(t)
	rec := post(t, h, "/mask", `{"text":"hi","sessionId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MaskWithoutSessionCreatesOne(t *testing.T) {
	h, store := testAPI(t)

	rec := post(t, h, "/mask", `{"text":"Mail an max@example.de"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var masked masking.MaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &masked))
	require.NotEmpty(t, masked.SessionID)
	assert.Contains(t, masked.Text, "[EMAIL_1]")

	// The session is real and carries the store's default TTL.
	info, err := store.Get(masked.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, info.State)
	assert.Equal(t, time.Hour, info.TTL)

	// Demasking under the returned id restores the original text.
	rec = post(t, h, "/demask", `{"text":"`+masked.Text+`","sessionIds":["`+masked.SessionID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var restored masking.DemaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	assert.Equal(t, "Mail an max@example.de", restored.Text)
}

func TestAPI_MaskMalformedBody(t *testing.T) {
	h, _ := testAPI(t)
	rec := post(t, h, "/mask", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DemaskRequiresSessionIDs(t *testing.T) {
	h, _ := testAPI(t)
	rec := post(t, h, "/demask", `{"text":"[EMAIL_1]"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DemaskUnknownTokensVerbatim(t *testing.T) {
	h, _ := testAPI(t)
	id := createSession(t, h)

	rec := post(t, h, "/demask", `{"text":"Rest [PERSON_3] hier","sessionIds":["`+id+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var restored masking.DemaskResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	assert.Equal(t, "Rest [PERSON_3] hier", restored.Text)
	assert.Equal(t, 1, restored.Stats.UnresolvedUnknown)
}

func TestAPI_Healthz(t *testing.T) {
	h, _ := testAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAPI_MethodChecks(t *testing.T) {
	h, _ := testAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/mask", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/sessions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
