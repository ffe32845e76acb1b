package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantTemp float64
		wantDens float64
	}{
		{name: "plain json", input: `{"signal_temperature": -0.5, "signal_density": 0.25}`, wantTemp: -0.5, wantDens: 0.25},
		{name: "fenced json", input: "```json\n{\"signal_temperature\": 0.1, \"signal_density\": 0.9}\n```", wantTemp: 0.1, wantDens: 0.9},
		{name: "clamped", input: `{"signal_temperature": -4, "signal_density": 2}`, wantTemp: -1, wantDens: 1},
		{name: "missing density", input: `{"signal_temperature": 0.3}`, wantErr: true},
		{name: "not json", input: "warm and dense", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := parseAnalysis(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTemp, fields.Temperature())
			assert.Equal(t, tt.wantDens, fields.Density())
		})
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("short", 10))

	long := strings.Repeat("é", 20)
	out := excerpt(long, 11)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.True(t, len(out) <= 11+len("…"))
	assert.NotContains(t, out, "�")
}

func TestBuildAnalysisPrompt_MentionsImportDate(t *testing.T) {
	live, err := entities.NewSignal("r1", "Harbor", "Fog over the harbor.", "capture")
	require.NoError(t, err)
	assert.NotContains(t, buildAnalysisPrompt(live, valueobjects.LLMSettings{}, 500), "Imported on")

	snap := live.Snapshot()
	imported := time.Date(2019, 3, 14, 8, 0, 0, 0, time.UTC)
	snap.ImportedAt = &imported
	old, err := entities.ReconstructSignal(snap)
	require.NoError(t, err)

	prompt := buildAnalysisPrompt(old, valueobjects.LLMSettings{}, 500)
	assert.Contains(t, prompt, "Imported on 2019-03-14")
	assert.Contains(t, prompt, "Fog over the harbor.")
}
