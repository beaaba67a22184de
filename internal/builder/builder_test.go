package builder

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rally-coach/internal/logger"
	"github.com/yourusername/rally-coach/internal/models"
)

func sampleParams() models.MatchupParameters {
	a := models.PlayerProfile{
		ID: "P1", Name: "Lee Chong Wei",
		BaseSrvWin: 0.55, BaseRcvWin: 0.45,
		ServeMix:   models.ServeMix{Short: 0.6, Flick: 0.4},
		RallyStyle: models.RallyStyle{Attack: 0.5, Neutral: 0.3, Safe: 0.2},
	}
	b := models.PlayerProfile{
		ID: "P2", Name: "Lin Dan",
		BaseSrvWin: 0.5, BaseRcvWin: 0.5,
		ServeMix:   models.ServeMix{Short: 0.5, Flick: 0.5},
		RallyStyle: models.RallyStyle{Attack: 0.4, Neutral: 0.35, Safe: 0.25},
	}
	return models.NewMatchupParameters(a, b, models.DefaultStyleWeights(), models.DefaultGameRules())
}

func TestValidateAcceptsEstimatedParameters(t *testing.T) {
	assert.NoError(t, Validate(sampleParams()))
}

func TestValidateCollectsAllViolations(t *testing.T) {
	p := sampleParams()
	p.PASrvWin = 1.0
	p.PlayerA.ServeMix = models.ServeMix{Short: 0.7, Flick: 0.4}
	p.PlayerB.RallyStyle = models.RallyStyle{Attack: -0.1, Neutral: 0.6, Safe: 0.5}
	p.Rules = models.GameRules{Target: 9, Cap: 8, BestOf: 4}

	err := Validate(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelValidation))

	var verr *models.ModelValidationError
	require.True(t, errors.As(err, &verr))
	joined := strings.Join(verr.Violations, "\n")
	assert.Contains(t, joined, "pA_srv_win")
	assert.Contains(t, joined, "pB_rcv_win")
	assert.Contains(t, joined, "serve_mix_A sums to")
	assert.Contains(t, joined, "rally_style_B.attack")
	assert.Contains(t, joined, "best_of=4")
	assert.Contains(t, joined, "target=9")
	assert.Contains(t, joined, "cap=8")
}

func TestValidateDoesNotClamp(t *testing.T) {
	p := sampleParams()
	p.PARcvWin = 0
	err := Validate(p)
	require.Error(t, err)
	assert.Equal(t, 0.0, p.PARcvWin)
}

func TestValidateMixTolerance(t *testing.T) {
	p := sampleParams()
	p.PlayerA.ServeMix = models.ServeMix{Short: 0.6 + 5e-7, Flick: 0.4}
	assert.NoError(t, Validate(p))

	p.PlayerA.ServeMix = models.ServeMix{Short: 0.6 + 5e-6, Flick: 0.4}
	assert.Error(t, Validate(p))
}

func TestContextValues(t *testing.T) {
	p := sampleParams()
	p.PASrvWin = 0.61234
	p.PARcvWin = 0.48

	ctx := Context(p)
	assert.Equal(t, "0.612340", ctx["pA_srv_win"])
	assert.Equal(t, "0.480000", ctx["pA_rcv_win"])
	assert.Equal(t, "6123", ctx["pA_srv_win_w"])
	assert.Equal(t, "3877", ctx["pA_srv_lose_w"])
	assert.Equal(t, "4800", ctx["pA_rcv_win_w"])
	assert.Equal(t, "5200", ctx["pA_rcv_lose_w"])
	assert.Equal(t, "2", ctx["games_to_win"])
	assert.Equal(t, "21", ctx["target"])
	assert.Equal(t, "30", ctx["cap"])
	assert.Equal(t, "Lee Chong Wei", ctx["playerA_name"])
	assert.Equal(t, "0.600000", ctx["serve_mix_A_short"])
}

func TestRenderSubstitutesWithLooseSpacing(t *testing.T) {
	out, err := Render("a={{a}} b={{  b  }} a again={{ a }}", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, "a=1 b=2 a again=1", out)
}

func TestRenderReportsMissingPlaceholders(t *testing.T) {
	_, err := Render("{{ zeta }} {{ alpha }} {{ present }}", map[string]string{"present": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha, zeta")
}

func TestDefaultTemplateFullyResolved(t *testing.T) {
	b, err := New("", logger.Discard())
	require.NoError(t, err)

	text, _, err := b.Text(sampleParams())
	require.NoError(t, err)
	assert.NotContains(t, text, "{{")
	assert.Contains(t, text, "#define GAMES_TO_WIN 2;")
	assert.Contains(t, text, "#assert Rally reaches AWin with prob;")
}

func TestBuildWritesModelAndParams(t *testing.T) {
	dir := t.TempDir()
	b, err := New("", logger.Discard())
	require.NoError(t, err)

	out := filepath.Join(dir, "nested", "model.pcsp")
	inst, err := b.Build("run-1", sampleParams(), out)
	require.NoError(t, err)

	assert.Equal(t, "run-1", inst.RunID)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, inst.Text, string(data))

	raw, err := os.ReadFile(filepath.Join(dir, "nested", ParamsFileName))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "effective_probabilities")
	assert.Contains(t, doc, "context")
}

func TestBuildRejectsInvalidWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	b := NewWithTemplate("{{ pA_srv_win }}", logger.Discard())

	p := sampleParams()
	p.Rules.BestOf = 2
	out := filepath.Join(dir, "model.pcsp")
	_, err := b.Build("run-2", p, out)
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.pcsp")
	require.NoError(t, os.WriteFile(path, []byte("// {{ playerA_name }} v {{ playerB_name }}\n"), 0o644))

	b, err := New(path, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, path, b.TemplateSource())

	text, _, err := b.Text(sampleParams())
	require.NoError(t, err)
	assert.Equal(t, "// Lee Chong Wei v Lin Dan\n", text)

	_, err = New(filepath.Join(dir, "missing.pcsp"), logger.Discard())
	assert.Error(t, err)
}
