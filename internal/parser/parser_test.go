package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/models"
)

func TestParseEncodings(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     float64
		encoding Encoding
	}{
		{"assignment equals", "Probability = 0.123456", 0.123456, EncodingAssignment},
		{"assignment colon", "probability: 0.5", 0.5, EncodingAssignment},
		{"phrase", "The assertion is valid with prob 0.734512", 0.734512, EncodingPhrase},
		{"phrase long", "with probability 1", 1, EncodingPhrase},
		{"interval", "Assertion valid with Probability [0.6543, 0.6543];", 0.6543, EncodingInterval},
		{"interval within tolerance", "Probability [0.4000000, 0.4000005]", 0.4, EncodingInterval},
		{"exponent", "Probability = 1.5e-3", 0.0015, EncodingAssignment},
		{"leading dot", "with prob .25", 0.25, EncodingPhrase},
		{"zero", "Probability = 0", 0, EncodingAssignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReading(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Value)
			assert.Equal(t, tt.encoding, r.Encoding)
		})
	}
}

func TestParseLastMatchWins(t *testing.T) {
	text := "with prob 0.2\nsomething else\nProbability = 0.3\nfinal: Probability [0.41, 0.41]"
	v, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, 0.41, v)

	v, err = Parse("Probability [0.1, 0.1] then with prob 0.9")
	require.NoError(t, err)
	assert.Equal(t, 0.9, v)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{"empty", "", "no probability pattern"},
		{"no pattern", "Verification finished in 2.3s", "no probability pattern"},
		{"wide interval", "Probability [0.2, 0.3]", "not a point estimate"},
		{"above one", "Probability = 1.2", "outside [0,1]"},
		{"negative", "with prob -0.1", "outside [0,1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrUnparsableOutput))

			var perr *models.UnparsableOutputError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.text, perr.Raw)
			assert.Contains(t, perr.Reason, tt.reason)
		})
	}
}

func TestUnparsableExcerptIsBounded(t *testing.T) {
	_, err := Parse(strings.Repeat("noise ", 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "...")
	assert.Less(t, len(err.Error()), 260)
}

func TestReadOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("with prob 0.5\xff\n")...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	text, err := ReadOutput(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "with prob 0.5"))
	assert.Contains(t, text, "�")

	v, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = ReadOutput(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
