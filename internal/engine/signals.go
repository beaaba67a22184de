package engine

import (
	"strings"
)

// Lines containing any of these mean the engine rejected the model even when it exited 0
var modelErrorSignals = []string{
	"parsing error:",
	"runtime exception occurred:",
	"error occurred:",
	"invalid file name:",
	"invalid folder name:",
	"invalid arguments.",
}

const (
	usageBanner        = "for all modules except uml:"
	invalidArguments   = "invalid arguments."
	invalidImage       = "invalid image"
	nullReference      = "object reference not set to an instance of an object"
	compatConsoleToken = "pat3.console"
)

// modelErrorLine returns the first output line carrying a model-error signal
func modelErrorLine(stdout, stderr string) string {
	for _, raw := range strings.Split(stdout+"\n"+stderr, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lowered := strings.ToLower(line)
		for _, s := range modelErrorSignals {
			if strings.Contains(lowered, s) {
				return line
			}
		}
	}
	return ""
}

// compatibilitySignature reports whether an attempt failed with the managed-runtime
// startup failure that the shim fallback repairs. It returns the matched symptom.
func compatibilitySignature(consoleName string, useMono, outputExists bool, stdout, stderr string) (string, bool) {
	if !useMono || outputExists {
		return "", false
	}
	if !strings.Contains(strings.ToLower(consoleName), compatConsoleToken) {
		return "", false
	}

	combined := strings.ToLower(stdout + "\n" + stderr)
	if !strings.Contains(combined, usageBanner) || !strings.Contains(combined, invalidArguments) {
		return "", false
	}
	switch {
	case strings.Contains(combined, invalidImage):
		return invalidImage, true
	case strings.Contains(combined, nullReference):
		return nullReference, true
	}
	return "", false
}

// hintFromOutput suggests a remedy for recognised failure output
func hintFromOutput(stdout, stderr string) string {
	combined := strings.ToLower(stdout + "\n" + stderr)
	switch {
	case strings.Contains(combined, "invalid arguments. invalid image"):
		return "PAT3.Console under Mono can fail its NESC startup checks; install full Mono with mcs so the compatibility shim can be built, or use PAT4"
	case strings.Contains(combined, nullReference):
		return "usually a PAT3 NESC startup failure on Mono; point console_path at PAT3.Console.exe so the compatibility fallback can run"
	}
	return ""
}

func firstNonEmptyLine(text string) string {
	for _, raw := range strings.Split(text, "\n") {
		if line := strings.TrimSpace(raw); line != "" {
			return line
		}
	}
	return ""
}
