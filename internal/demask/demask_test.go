package demask

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/logger"
	"piimask/internal/session"
)

func quietLogger() *logger.Logger {
	log := logger.New("TEST", "error")
	log.SetOutput(io.Discard)
	return log
}

func TestDemask_RoundTrip(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	info := store.Create(time.Hour)

	tokPerson, _, err := store.ResolveToken(info.ID, "PERSON", "Max Muster")
	require.NoError(t, err)
	tokEmail, _, err := store.ResolveToken(info.ID, "EMAIL", "max@example.de")
	require.NoError(t, err)

	masked := "Hello " + tokPerson + ", mail sent to " + tokEmail + "."
	out, stats := Demask(masked, []string{info.ID}, store)

	assert.Equal(t, "Hello Max Muster, mail sent to max@example.de.", out)
	assert.Equal(t, Stats{Resolved: 2}, stats)
}

func TestDemask_RepeatedToken(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	info := store.Create(time.Hour)
	tok, _, err := store.ResolveToken(info.ID, "PERSON", "Max")
	require.NoError(t, err)

	out, stats := Demask(tok+" and "+tok, []string{info.ID}, store)
	assert.Equal(t, "Max and Max", out)
	assert.Equal(t, 2, stats.Resolved)
}

func TestDemask_UnknownTokenLeftVerbatim(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	info := store.Create(time.Hour)

	out, stats := Demask("See [PERSON_7] there", []string{info.ID}, store)
	assert.Equal(t, "See [PERSON_7] there", out)
	assert.Equal(t, Stats{UnresolvedUnknown: 1}, stats)
}

func TestDemask_UnknownSessionID(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())

	out, stats := Demask("See [PERSON_1] there", []string{"no-such-session"}, store)
	assert.Equal(t, "See [PERSON_1] there", out)
	assert.Equal(t, Stats{UnresolvedUnknown: 1}, stats)
}

func TestDemask_NonTokenTextUntouched(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	info := store.Create(time.Hour)

	text := "Plain text with [brackets] and [lower_1] but no tokens"
	out, stats := Demask(text, []string{info.ID}, store)
	assert.Equal(t, text, out)
	assert.Zero(t, stats.Resolved+stats.UnresolvedExpired+stats.UnresolvedUnknown)
}

func TestDemask_MultipleSessionsFirstWins(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	a := store.Create(time.Hour)
	b := store.Create(time.Hour)

	_, _, err := store.ResolveToken(a.ID, "PERSON", "From A")
	require.NoError(t, err)
	_, _, err = store.ResolveToken(b.ID, "PERSON", "From B")
	require.NoError(t, err)

	// Both sessions answer [PERSON_1]; the listed order decides.
	out, _ := Demask("[PERSON_1]", []string{a.ID, b.ID}, store)
	assert.Equal(t, "From A", out)
	out, _ = Demask("[PERSON_1]", []string{b.ID, a.ID}, store)
	assert.Equal(t, "From B", out)
}

func TestDemask_SecondSessionAnswers(t *testing.T) {
	store := session.New(time.Hour, time.Hour, "", quietLogger())
	a := store.Create(time.Hour)
	b := store.Create(time.Hour)

	tok, _, err := store.ResolveToken(b.ID, "EMAIL", "max@example.de")
	require.NoError(t, err)

	out, stats := Demask(tok, []string{a.ID, b.ID}, store)
	assert.Equal(t, "max@example.de", out)
	assert.Equal(t, 1, stats.Resolved)
}

// fakeResolver mimics the store's error semantics for sessions whose state
// the test controls directly.
type fakeResolver struct {
	// mappings[sessionID][token] = value
	mappings map[string]map[string]string
	expired  map[string]bool
}

func (f *fakeResolver) Resolve(id, tok string) (string, error) {
	m, ok := f.mappings[id]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	value, known := m[tok]
	if f.expired[id] {
		if known {
			return "", session.ErrSessionExpired
		}
		return "", session.ErrTokenUnknown
	}
	if !known {
		return "", session.ErrTokenUnknown
	}
	return value, nil
}

func TestDemask_ExpiredClassification(t *testing.T) {
	res := &fakeResolver{
		mappings: map[string]map[string]string{
			"old": {"[PERSON_1]": "Max Muster"},
		},
		expired: map[string]bool{"old": true},
	}

	out, stats := Demask("[PERSON_1] and [PERSON_9]", []string{"old"}, res)
	assert.Equal(t, "[PERSON_1] and [PERSON_9]", out)
	assert.Equal(t, Stats{UnresolvedExpired: 1, UnresolvedUnknown: 1}, stats)
}

func TestDemask_PartialAcrossSessions(t *testing.T) {
	res := &fakeResolver{
		mappings: map[string]map[string]string{
			"old":   {"[PERSON_1]": "Max Muster"},
			"fresh": {"[EMAIL_1]": "eva@example.de"},
		},
		expired: map[string]bool{"old": true},
	}

	out, stats := Demask("[PERSON_1] wrote [EMAIL_1]", []string{"old", "fresh"}, res)
	assert.Equal(t, "[PERSON_1] wrote eva@example.de", out)
	assert.Equal(t, Stats{Resolved: 1, UnresolvedExpired: 1}, stats)
}
