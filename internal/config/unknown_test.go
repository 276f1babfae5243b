package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	//nolint:misspell // intentional typo to test unknown key detection
	path := writeTestConfig(t, "[transfers]\nwokers = 4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "wokers" in [transfers]`)
	assert.Contains(t, err.Error(), `did you mean "workers"`)
}

func TestLoad_UnknownKey_TopLevelBelongsInSection(t *testing.T) {
	path := writeTestConfig(t, "workers = 4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in the [transfers] section")
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[transfer]\nworkers = 4\nresume = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "transfers"`)
	assert.Equal(t, 1, strings.Count(err.Error(), `"transfer"`), "an unknown section is reported once")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[logging]\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"workers", "wokers", 1},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "chunk_size", closestMatch("chunksize", knownKeys["transfers"]))
	assert.Empty(t, closestMatch("zzzzzzzzzz", knownKeys["transfers"]))
}
