// Package builder validates matchup parameters and renders them into a model document.
package builder

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/rally-coach/internal/models"
)

const (
	// ParamsFileName is written next to every rendered model
	ParamsFileName = "params.json"

	mixTolerance = 1e-6
	weightScale  = 10000
)

//go:embed templates/badminton_rally.pcsp
var defaultTemplate string

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// DefaultTemplate returns the embedded rally model template
func DefaultTemplate() string {
	return defaultTemplate
}

// Builder renders MatchupParameters into model instances
type Builder struct {
	template string
	source   string
	logger   *logrus.Entry
}

// New creates a builder. An empty templatePath selects the embedded template.
func New(templatePath string, logger *logrus.Logger) (*Builder, error) {
	b := &Builder{
		template: defaultTemplate,
		source:   "embedded:badminton_rally.pcsp",
		logger:   logger.WithField("component", "builder"),
	}
	if templatePath == "" {
		return b, nil
	}

	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model template: %w", err)
	}
	b.template = string(data)
	b.source = templatePath
	return b, nil
}

// NewWithTemplate creates a builder over in-memory template text
func NewWithTemplate(text string, logger *logrus.Logger) *Builder {
	return &Builder{
		template: text,
		source:   "inline",
		logger:   logger.WithField("component", "builder"),
	}
}

// TemplateSource names where the template came from
func (b *Builder) TemplateSource() string {
	return b.source
}

// Validate checks every domain constraint and reports all violations at once.
// Values are never clamped here.
func Validate(p models.MatchupParameters) error {
	var violations []string

	checkProb := func(name string, v float64) {
		if !(v > 0 && v < 1) {
			violations = append(violations, fmt.Sprintf("%s=%v must lie strictly inside (0,1)", name, v))
		}
	}
	checkProb("pA_srv_win", p.PASrvWin)
	checkProb("pA_rcv_win", p.PARcvWin)
	checkProb("pB_srv_win", 1-p.PARcvWin)
	checkProb("pB_rcv_win", 1-p.PASrvWin)

	for _, side := range []struct {
		label   string
		profile models.PlayerProfile
	}{{"A", p.PlayerA}, {"B", p.PlayerB}} {
		prof := side.profile
		if strings.TrimSpace(prof.ID) == "" {
			violations = append(violations, fmt.Sprintf("player %s has no id", side.label))
		}
		checkProb("base"+side.label+"_srv_win", prof.BaseSrvWin)
		checkProb("base"+side.label+"_rcv_win", prof.BaseRcvWin)

		violations = append(violations, checkMix("serve_mix_"+side.label, map[string]float64{
			"short": prof.ServeMix.Short,
			"flick": prof.ServeMix.Flick,
		})...)
		violations = append(violations, checkMix("rally_style_"+side.label, map[string]float64{
			"attack":  prof.RallyStyle.Attack,
			"neutral": prof.RallyStyle.Neutral,
			"safe":    prof.RallyStyle.Safe,
		})...)
	}

	w := p.Weights
	for name, v := range map[string]float64{"w_short": w.WShort, "w_attack": w.WAttack, "w_safe": w.WSafe} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			violations = append(violations, fmt.Sprintf("%s=%v must be a non-negative number", name, v))
		}
	}

	r := p.Rules
	if r.BestOf < 1 || r.BestOf > 7 || r.BestOf%2 == 0 {
		violations = append(violations, fmt.Sprintf("best_of=%d must be odd and within [1,7]", r.BestOf))
	}
	if r.Target < 11 || r.Target > 30 {
		violations = append(violations, fmt.Sprintf("target=%d must be within [11,30]", r.Target))
	}
	if r.Cap < r.Target {
		violations = append(violations, fmt.Sprintf("cap=%d must be >= target=%d", r.Cap, r.Target))
	}

	if len(violations) == 0 {
		return nil
	}
	sort.Strings(violations)
	return &models.ModelValidationError{Violations: violations}
}

func checkMix(name string, parts map[string]float64) []string {
	var out []string
	sum := 0.0
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := parts[k]
		if math.IsNaN(v) || v < 0 {
			out = append(out, fmt.Sprintf("%s.%s=%v must be non-negative", name, k, v))
		}
		sum += v
	}
	if math.IsNaN(sum) || math.Abs(sum-1) > mixTolerance {
		out = append(out, fmt.Sprintf("%s sums to %.9f, want 1", name, sum))
	}
	return out
}

// Context returns the placeholder values for a validated parameter set
func Context(p models.MatchupParameters) map[string]string {
	a, b := p.PlayerA, p.PlayerB
	srvW := scaledWeight(p.PASrvWin)
	rcvW := scaledWeight(p.PARcvWin)

	return map[string]string{
		"target":       strconv.Itoa(p.Rules.Target),
		"cap":          strconv.Itoa(p.Rules.Cap),
		"best_of":      strconv.Itoa(p.Rules.BestOf),
		"games_to_win": strconv.Itoa(p.Rules.GamesToWin()),

		"pA_srv_win":    fixed(p.PASrvWin),
		"pA_rcv_win":    fixed(p.PARcvWin),
		"pA_srv_win_w":  strconv.FormatInt(srvW, 10),
		"pA_srv_lose_w": strconv.FormatInt(weightScale-srvW, 10),
		"pA_rcv_win_w":  strconv.FormatInt(rcvW, 10),
		"pA_rcv_lose_w": strconv.FormatInt(weightScale-rcvW, 10),

		"baseA_srv_win": fixed(a.BaseSrvWin),
		"baseA_rcv_win": fixed(a.BaseRcvWin),
		"baseB_srv_win": fixed(b.BaseSrvWin),
		"baseB_rcv_win": fixed(b.BaseRcvWin),

		"serve_mix_A_short": fixed(a.ServeMix.Short),
		"serve_mix_A_flick": fixed(a.ServeMix.Flick),
		"serve_mix_B_short": fixed(b.ServeMix.Short),
		"serve_mix_B_flick": fixed(b.ServeMix.Flick),

		"rally_style_A_attack":  fixed(a.RallyStyle.Attack),
		"rally_style_A_neutral": fixed(a.RallyStyle.Neutral),
		"rally_style_A_safe":    fixed(a.RallyStyle.Safe),
		"rally_style_B_attack":  fixed(b.RallyStyle.Attack),
		"rally_style_B_neutral": fixed(b.RallyStyle.Neutral),
		"rally_style_B_safe":    fixed(b.RallyStyle.Safe),

		"w_short":  fixed(p.Weights.WShort),
		"w_attack": fixed(p.Weights.WAttack),
		"w_safe":   fixed(p.Weights.WSafe),

		"playerA_name": displayName(a),
		"playerB_name": displayName(b),
	}
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(6)
}

// scaledWeight maps a probability onto the integer pcase scale, keeping both branches non-zero
func scaledWeight(p float64) int64 {
	w := decimal.NewFromFloat(p).Mul(decimal.NewFromInt(weightScale)).Round(0).IntPart()
	if w < 1 {
		return 1
	}
	if w > weightScale-1 {
		return weightScale - 1
	}
	return w
}

func displayName(p models.PlayerProfile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Render substitutes every {{ name }} placeholder. A placeholder with no value is an error.
func Render(template string, ctx map[string]string) (string, error) {
	missing := map[string]struct{}{}
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := ctx[key]
		if !ok {
			missing[key] = struct{}{}
			return m
		}
		return v
	})
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("template has unresolved placeholders: %s", strings.Join(keys, ", "))
	}
	return out, nil
}

// Text validates the parameters and renders the model without touching disk
func (b *Builder) Text(p models.MatchupParameters) (string, map[string]string, error) {
	if err := Validate(p); err != nil {
		return "", nil, err
	}
	ctx := Context(p)
	text, err := Render(b.template, ctx)
	if err != nil {
		return "", nil, err
	}
	return text, ctx, nil
}

// Build renders the model, writes it to outPath and writes params.json beside it
func (b *Builder) Build(runID string, p models.MatchupParameters, outPath string) (*models.ModelInstance, error) {
	text, ctx, err := b.Text(p)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write model: %w", err)
	}

	paramsPath := filepath.Join(filepath.Dir(outPath), ParamsFileName)
	if err := writeParams(paramsPath, p, ctx); err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"model_path": outPath,
		"pA_srv_win": ctx["pA_srv_win"],
		"pA_rcv_win": ctx["pA_rcv_win"],
	}).Debug("Model rendered")

	return &models.ModelInstance{
		RunID:      runID,
		Path:       outPath,
		ParamsPath: paramsPath,
		Text:       text,
		Context:    ctx,
	}, nil
}

type paramsDocument struct {
	PlayerA                models.PlayerProfile `json:"player_a"`
	PlayerB                models.PlayerProfile `json:"player_b"`
	Weights                models.StyleWeights  `json:"weights"`
	Rules                  models.GameRules     `json:"rules"`
	EffectiveProbabilities map[string]float64   `json:"effective_probabilities"`
	Context                map[string]string    `json:"context"`
}

func writeParams(path string, p models.MatchupParameters, ctx map[string]string) error {
	doc := paramsDocument{
		PlayerA: p.PlayerA,
		PlayerB: p.PlayerB,
		Weights: p.Weights,
		Rules:   p.Rules,
		EffectiveProbabilities: map[string]float64{
			"pA_srv_win": p.PASrvWin,
			"pA_rcv_win": p.PARcvWin,
			"pB_srv_win": p.PBSrvWin(),
			"pB_rcv_win": p.PBRcvWin(),
		},
		Context: ctx,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write params: %w", err)
	}
	return nil
}
