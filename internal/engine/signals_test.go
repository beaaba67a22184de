package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompatibilitySignature(t *testing.T) {
	tests := []struct {
		name    string
		console string
		useMono bool
		exists  bool
		stdout  string
		stderr  string
		want    bool
	}{
		{"invalid image", "PAT3.Console.exe", true, false, startupFailureStdout, startupFailureStderr, true},
		{"null reference", "PAT3.Console.exe", true, false, startupFailureStdout,
			"Invalid arguments.\nObject reference not set to an instance of an object", true},
		{"output present", "PAT3.Console.exe", true, true, startupFailureStdout, startupFailureStderr, false},
		{"without mono", "PAT3.Console.exe", false, false, startupFailureStdout, startupFailureStderr, false},
		{"other console", "PAT.Console.exe", true, false, startupFailureStdout, startupFailureStderr, false},
		{"no banner", "PAT3.Console.exe", true, false, "", startupFailureStderr, false},
		{"banner only", "PAT3.Console.exe", true, false, startupFailureStdout, "", false},
		{"invalid arguments only", "PAT3.Console.exe", true, false, startupFailureStdout, "Invalid arguments.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := compatibilitySignature(tt.console, tt.useMono, tt.exists, tt.stdout, tt.stderr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelErrorLine(t *testing.T) {
	assert.Equal(t, "Parsing error: bad token", modelErrorLine("ok\n  Parsing error: bad token  \n", ""))
	assert.Equal(t, "Invalid file name: x.pcsp", modelErrorLine("", "Invalid file name: x.pcsp"))
	assert.Empty(t, modelErrorLine("Verification finished", "warning: slow"))
}

func TestHintFromOutput(t *testing.T) {
	assert.Contains(t, hintFromOutput("", "Invalid arguments. Invalid image"), "mcs")
	assert.Contains(t, hintFromOutput("Object reference not set to an instance of an object", ""), "PAT3")
	assert.Empty(t, hintFromOutput("fine", ""))
}
