package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the orchestrator's position in the turn cycle.
type State string

const (
	StatePrompting  State = "prompting"
	StateResponding State = "responding"
	StateDone       State = "done"
)

// DepthMode selects what the depth limit is compared against.
type DepthMode string

const (
	// DepthPrompterTurns ends the run on the Prompter's depth-limit-th turn.
	DepthPrompterTurns DepthMode = "prompter"
	// DepthTotalTurns ends the run when a Prompter turn starts with exactly
	// depth-limit turns already taken by both roles. With strict alternation
	// the Prompter only ever starts on even depths, so odd limits never match
	// and the run ends at the ceiling instead.
	DepthTotalTurns DepthMode = "total"
)

// ParseDepthMode maps a configuration value onto a DepthMode.
func ParseDepthMode(s string) (DepthMode, error) {
	switch DepthMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DepthPrompterTurns:
		return DepthPrompterTurns, nil
	case DepthTotalTurns:
		return DepthTotalTurns, nil
	}
	return "", fmt.Errorf("unknown depth mode %q", s)
}

// ModelRequest is one call to the model collaborator.
type ModelRequest struct {
	Role              Role
	History           []Turn
	SystemInstruction string
}

// ModelClient performs the model call for a turn and returns the raw text.
// Retries and timeouts are the implementation's business.
type ModelClient interface {
	Generate(ctx context.Context, req ModelRequest) (string, error)
}

// Observer is notified after every completed turn.
type Observer interface {
	TurnCompleted(ctx context.Context, ev TurnEvent)
}

// TurnEvent describes a completed turn.
type TurnEvent struct {
	RunID      string `json:"run_id"`
	Depth      int    `json:"depth"`
	Role       Role   `json:"role"`
	Next       State  `json:"next_state"`
	Summary    string `json:"summary,omitempty"`
	IsSolution bool   `json:"is_solution,omitempty"`
}

// Options controls the loop bounds and instructions.
type Options struct {
	DepthLimit int
	DepthMode  DepthMode
	// MaxTurns is the absolute ceiling on turns. It may lower the ceiling but
	// never raise it above twice DepthLimit. Zero means twice DepthLimit.
	MaxTurns             int
	CollapseNewlines     bool
	PrompterInstruction  string
	ResponderInstruction string
}

// DefaultOptions returns the standard five-deep configuration.
func DefaultOptions() Options {
	return Options{
		DepthLimit:       5,
		DepthMode:        DepthPrompterTurns,
		CollapseNewlines: true,
	}
}

func (o Options) withDefaults() Options {
	if o.DepthLimit < 1 {
		o.DepthLimit = 5
	}
	if o.DepthMode == "" {
		o.DepthMode = DepthPrompterTurns
	}
	if o.MaxTurns < 1 || o.MaxTurns > 2*o.DepthLimit {
		o.MaxTurns = 2 * o.DepthLimit
	}
	if o.PrompterInstruction == "" {
		o.PrompterInstruction = PrompterInstruction(o.DepthLimit)
	}
	if o.ResponderInstruction == "" {
		o.ResponderInstruction = ResponderInstruction(o.DepthLimit)
	}
	return o
}

// RunState is owned by a single Run call and discarded when it returns.
type RunState struct {
	RunID         string
	Active        State
	Depth         int
	PrompterTurns int
	HistoryA      History
	HistoryB      History
	FinalAnswer   string
	Summaries     []string

	solved bool
}

type runIDKey struct{}

// WithRunID fixes the id the next Run on ctx will use, so a caller can
// subscribe to the run's progress before it starts.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func newRunState(runID, problem string) *RunState {
	if runID == "" {
		runID = uuid.NewString()
	}
	s := &RunState{
		RunID:     runID,
		Active:    StatePrompting,
		Summaries: []string{},
	}
	s.HistoryA.Append(SpeakerUser, problem)
	return s
}

// Orchestrator alternates the Prompter and Responder until the Prompter
// declares a solution or the depth budget runs out.
type Orchestrator struct {
	client    ModelClient
	parser    *Parser
	validator *Validator
	observer  Observer
	opts      Options
	logger    zerolog.Logger
}

// NewOrchestrator wires an orchestrator around a model client. observer may be nil.
func NewOrchestrator(client ModelClient, opts Options, observer Observer, logger zerolog.Logger) *Orchestrator {
	opts = opts.withDefaults()
	if observer == nil {
		observer = noopObserver{}
	}
	return &Orchestrator{
		client:    client,
		parser:    &Parser{CollapseNewlines: opts.CollapseNewlines},
		validator: NewValidator(),
		observer:  observer,
		opts:      opts,
		logger:    logger.With().Str("component", "chain").Logger(),
	}
}

// Options returns the effective options after defaults were applied.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run executes one complete chain for problem.
func (o *Orchestrator) Run(ctx context.Context, problem string) (*Result, error) {
	if strings.TrimSpace(problem) == "" {
		return nil, ErrMissingInput
	}

	state := newRunState(RunIDFromContext(ctx), problem)
	logger := o.logger.With().Str("run_id", state.RunID).Logger()
	start := time.Now()

	for state.Active != StateDone && state.Depth < o.opts.MaxTurns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.step(ctx, state, logger); err != nil {
			logger.Error().Err(err).Int("depth", state.Depth).Msg("chain run aborted")
			return nil, err
		}
	}

	reason := ReasonCeiling
	if state.Active == StateDone {
		reason = state.doneReason()
	}
	result := aggregate(state, reason)

	event := logger.Info()
	if reason == ReasonCeiling {
		event = logger.Warn()
	}
	event.
		Int("turns", result.Turns).
		Int("summaries", len(result.Summaries)).
		Str("reason", string(reason)).
		Dur("duration", time.Since(start)).
		Msg("chain run finished")

	return result, nil
}

// step runs exactly one turn for the active role.
func (o *Orchestrator) step(ctx context.Context, s *RunState, logger zerolog.Logger) error {
	role := RolePrompter
	history := &s.HistoryA
	instruction := o.opts.PrompterInstruction
	if s.Active == StateResponding {
		role = RoleResponder
		history = &s.HistoryB
		instruction = o.opts.ResponderInstruction
	}

	raw, err := o.client.Generate(ctx, ModelRequest{
		Role:              role,
		History:           history.Turns(),
		SystemInstruction: instruction,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UpstreamError{Role: role, Depth: s.Depth, Err: err}
	}

	doc, err := o.parser.Parse(raw)
	if err != nil {
		logger.Debug().Str("role", string(role)).Str("raw", raw).Msg("unparseable model output")
		return fmt.Errorf("%s turn at depth %d: %w", role, s.Depth, err)
	}

	ev := TurnEvent{RunID: s.RunID, Role: role}

	switch role {
	case RolePrompter:
		out, err := o.validator.Prompter(doc)
		if err != nil {
			return fmt.Errorf("prompter turn at depth %d: %w", s.Depth, err)
		}
		s.PrompterTurns++
		s.HistoryA.Append(SpeakerPrompter, out.Response)
		s.Summaries = append(s.Summaries, out.Summary)
		ev.Summary = out.Summary
		ev.IsSolution = out.IsSolution

		if out.IsSolution || o.limitReached(s) {
			s.Active = StateDone
			s.FinalAnswer = out.Response
			s.solved = out.IsSolution
		} else {
			s.HistoryB.Append(SpeakerUser, out.Response)
			s.Active = StateResponding
		}

	case RoleResponder:
		out, err := o.validator.Responder(doc)
		if err != nil {
			return fmt.Errorf("responder turn at depth %d: %w", s.Depth, err)
		}
		s.HistoryB.Append(SpeakerResponder, out.Response)
		s.HistoryA.Append(SpeakerUser, ResponderAnswerLabel+out.Response)
		s.Active = StatePrompting
	}

	s.Depth++
	ev.Depth = s.Depth
	ev.Next = s.Active

	logger.Debug().
		Str("role", string(role)).
		Int("depth", s.Depth).
		Str("next", string(s.Active)).
		Int("history_a", s.HistoryA.Len()).
		Int("history_b", s.HistoryB.Len()).
		Msg("turn completed")
	o.observer.TurnCompleted(ctx, ev)

	return nil
}

// limitReached is evaluated during a Prompter turn, before depth is advanced.
func (o *Orchestrator) limitReached(s *RunState) bool {
	if o.opts.DepthMode == DepthTotalTurns {
		return s.Depth == o.opts.DepthLimit
	}
	return s.PrompterTurns >= o.opts.DepthLimit
}

type noopObserver struct{}

func (noopObserver) TurnCompleted(context.Context, TurnEvent) {}
