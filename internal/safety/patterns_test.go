package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewops/crewd/internal/events"
)

func writePatternsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety_patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPatternsFileDisablesPII(t *testing.T) {
	path := writePatternsFile(t, `
schema_version: 1
file_type: safety_patterns
disabled_pii:
  - ip_address
  - api_key
`)

	ps, err := LoadPatternsFile(path)
	require.NoError(t, err)

	e := NewEnforcer(ps, events.NopSink{}, nil, DefaultAlertThreshold)
	cleaned, report := e.Scan("host 10.1.2.3 mail jd@example.com")

	assert.Zero(t, report.PIIFound[CategoryIPAddress])
	assert.Contains(t, cleaned, "10.1.2.3")
	assert.Equal(t, 1, report.PIIFound[CategoryEmail])
}

func TestLoadPatternsFileExtraProhibitedTerms(t *testing.T) {
	path := writePatternsFile(t, `
schema_version: 1
file_type: safety_patterns
prohibited:
  illegal:
    terms:
      - contraband
      - smuggling
`)

	ps, err := LoadPatternsFile(path)
	require.NoError(t, err)

	e := NewEnforcer(ps, events.NopSink{}, nil, DefaultAlertThreshold)
	_, report := e.Scan("Contraband and smuggling ring")

	require.NotEmpty(t, report.ProhibitedContent[CategoryIllegal])
	assert.InDelta(t, 0.4, report.SafetyScore, 1e-9)
}

func TestLoadPatternsFileRejectsUnknownCategories(t *testing.T) {
	badPII := writePatternsFile(t, `
disabled_pii: [passport]
`)
	_, err := LoadPatternsFile(badPII)
	assert.Error(t, err)

	badProhibited := writePatternsFile(t, `
prohibited:
  gossip:
    terms: [rumor]
`)
	_, err = LoadPatternsFile(badProhibited)
	assert.Error(t, err)
}

func TestLoadPatternsFileMissing(t *testing.T) {
	_, err := LoadPatternsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
