// Package parser extracts the reachability probability from engine output.
package parser

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/yourusername/rally-coach/internal/models"
)

// IntervalTolerance is the widest interval still accepted as a point estimate
const IntervalTolerance = 1e-6

const number = `([+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)`

// Encoding names a recognised textual form
type Encoding string

const (
	EncodingAssignment Encoding = "assignment"
	EncodingPhrase     Encoding = "phrase"
	EncodingInterval   Encoding = "interval"
)

var patterns = []struct {
	encoding Encoding
	re       *regexp.Regexp
}{
	{EncodingAssignment, regexp.MustCompile(`(?i)\bprobability\s*[:=]\s*` + number)},
	{EncodingPhrase, regexp.MustCompile(`(?i)\bwith\s+prob(?:ability)?\s+` + number)},
	{EncodingInterval, regexp.MustCompile(`(?i)\bprobability\s*\[\s*` + number + `\s*,\s*` + number + `\s*\]`)},
}

// Reading is a probability found in engine output
type Reading struct {
	Value    float64
	Encoding Encoding
	Offset   int
}

// Parse returns the probability reported in text. When several encodings are
// present the last one by position wins.
func Parse(text string) (float64, error) {
	r, err := ParseReading(text)
	if err != nil {
		return 0, err
	}
	return r.Value, nil
}

// ParseReading is Parse with the matched encoding and its position
func ParseReading(text string) (Reading, error) {
	var (
		last    []int
		lastEnc Encoding
	)
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if last == nil || loc[0] > last[0] {
				last = loc
				lastEnc = p.encoding
			}
		}
	}
	if last == nil {
		return Reading{}, &models.UnparsableOutputError{Reason: "no probability pattern found", Raw: text}
	}

	value, err := parseNumber(text[last[2]:last[3]])
	if err != nil {
		return Reading{}, &models.UnparsableOutputError{Reason: err.Error(), Raw: text}
	}

	if lastEnc == EncodingInterval {
		high, err := parseNumber(text[last[4]:last[5]])
		if err != nil {
			return Reading{}, &models.UnparsableOutputError{Reason: err.Error(), Raw: text}
		}
		if math.Abs(high-value) > IntervalTolerance {
			return Reading{}, &models.UnparsableOutputError{
				Reason: fmt.Sprintf("interval [%g, %g] is not a point estimate", value, high),
				Raw:    text,
			}
		}
	}

	if value < 0 || value > 1 {
		return Reading{}, &models.UnparsableOutputError{
			Reason: fmt.Sprintf("value %g outside [0,1]", value),
			Raw:    text,
		}
	}

	return Reading{Value: value, Encoding: lastEnc, Offset: last[0]}, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadOutput reads an engine output file. A UTF-8 byte order mark is dropped and
// invalid bytes are replaced rather than failing the read.
func ReadOutput(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read engine output: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	return strings.ToValidUTF8(string(data), "�"), nil
}
