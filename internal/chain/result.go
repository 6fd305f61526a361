package chain

// Reason records why a run stopped.
type Reason string

const (
	// ReasonSolution: the Prompter set isSolution.
	ReasonSolution Reason = "solution"
	// ReasonDepthLimit: the Prompter hit the depth limit and its last
	// response was taken as the answer.
	ReasonDepthLimit Reason = "depth_limit"
	// ReasonCeiling: the turn ceiling was hit before Done. The answer is
	// whatever had been set, possibly empty.
	ReasonCeiling Reason = "ceiling"
)

// Result is the aggregated outcome of a run.
type Result struct {
	RunID       string
	FinalAnswer string
	Summaries   []string
	Turns       int
	Reason      Reason
}

func (s *RunState) doneReason() Reason {
	if s.solved {
		return ReasonSolution
	}
	return ReasonDepthLimit
}

func aggregate(s *RunState, reason Reason) *Result {
	summaries := make([]string, len(s.Summaries))
	copy(summaries, s.Summaries)

	return &Result{
		RunID:       s.RunID,
		FinalAnswer: s.FinalAnswer,
		Summaries:   summaries,
		Turns:       s.Depth,
		Reason:      reason,
	}
}
