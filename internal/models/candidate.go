package models

// CandidateStatus describes what happened to a candidate during search
type CandidateStatus string

const (
	CandidateEvaluated CandidateStatus = "evaluated"
	CandidateExcluded  CandidateStatus = "excluded"
	CandidateFailed    CandidateStatus = "failed"
	// CandidateSkipped is within budget but beyond the invocation cap
	CandidateSkipped   CandidateStatus = "skipped"
)

// Candidate is a named parameter shift and the probability it produced
type Candidate struct {
	Index   int                `json:"index"`
	Name    string             `json:"name"`
	Shift   Shift              `json:"shift"`
	L1      float64            `json:"l1_change"`
	Applied Shift              `json:"applied_shift"`
	Status  CandidateStatus    `json:"status"`
	Rank    int                `json:"rank,omitempty"`
	Result  *ProbabilityResult `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
	WorkDir string             `json:"work_dir,omitempty"`
}

// Probability returns the candidate's probability, or 0 when it has none
func (c Candidate) Probability() float64 {
	if c.Result == nil {
		return 0
	}
	return c.Result.Value
}
