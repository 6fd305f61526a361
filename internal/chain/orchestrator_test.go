package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient replays canned replies in call order and records every request.
type stubClient struct {
	replies  []string
	errs     map[int]error
	requests []ModelRequest
	onCall   func(call int, req *ModelRequest)
}

func (c *stubClient) Generate(ctx context.Context, req ModelRequest) (string, error) {
	call := len(c.requests)
	recorded := req
	recorded.History = append([]Turn(nil), req.History...)
	c.requests = append(c.requests, recorded)
	if c.onCall != nil {
		c.onCall(call, &req)
	}
	if err, ok := c.errs[call]; ok {
		return "", err
	}
	if call >= len(c.replies) {
		return "", fmt.Errorf("unexpected call %d", call)
	}
	return c.replies[call], nil
}

type recordingObserver struct {
	events []TurnEvent
}

func (o *recordingObserver) TurnCompleted(_ context.Context, ev TurnEvent) {
	o.events = append(o.events, ev)
}

func prompterReply(response, summary string, solved bool) string {
	return fmt.Sprintf(`{"response":%q,"summary":%q,"isSolution":%t}`, response, summary, solved)
}

func responderReply(response string) string {
	return fmt.Sprintf(`{"response":%q}`, response)
}

// alternating builds replies for a Prompter that never declares a solution.
func alternating(turns int) []string {
	replies := make([]string, 0, turns)
	for i := 0; i < turns; i++ {
		if i%2 == 0 {
			replies = append(replies, prompterReply(fmt.Sprintf("sub-prompt %d", i/2+1), fmt.Sprintf("status %d", i/2+1), false))
		} else {
			replies = append(replies, responderReply(fmt.Sprintf("answer %d", i/2+1)))
		}
	}
	return replies
}

func newTestOrchestrator(client ModelClient, opts Options, obs Observer) *Orchestrator {
	return NewOrchestrator(client, opts, obs, zerolog.Nop())
}

func TestRun_ComputeScenario(t *testing.T) {
	client := &stubClient{replies: []string{
		prompterReply("What is 2+3?", "starting", false),
		responderReply("5"),
		prompterReply("5", "done", true),
	}}
	obs := &recordingObserver{}
	o := newTestOrchestrator(client, DefaultOptions(), obs)

	result, err := o.Run(context.Background(), "Compute 2+3")
	require.NoError(t, err)

	assert.Equal(t, "5", result.FinalAnswer)
	assert.Equal(t, []string{"starting", "done"}, result.Summaries)
	assert.Equal(t, 3, result.Turns)
	assert.Equal(t, ReasonSolution, result.Reason)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, client.requests, 3)

	first := client.requests[0]
	assert.Equal(t, RolePrompter, first.Role)
	assert.Equal(t, PrompterInstruction(5), first.SystemInstruction)
	assert.Equal(t, []Turn{{Speaker: SpeakerUser, Text: "Compute 2+3"}}, first.History)

	second := client.requests[1]
	assert.Equal(t, RoleResponder, second.Role)
	assert.Equal(t, ResponderInstruction(5), second.SystemInstruction)
	assert.Equal(t, []Turn{{Speaker: SpeakerUser, Text: "What is 2+3?"}}, second.History)

	third := client.requests[2]
	assert.Equal(t, RolePrompter, third.Role)
	require.Len(t, third.History, 3)
	assert.Equal(t, Turn{Speaker: SpeakerPrompter, Text: "What is 2+3?"}, third.History[1])
	assert.Equal(t, SpeakerUser, third.History[2].Speaker)
	assert.Contains(t, third.History[2].Text, "5")

	require.Len(t, obs.events, 3)
	assert.Equal(t, StateResponding, obs.events[0].Next)
	assert.Equal(t, StatePrompting, obs.events[1].Next)
	assert.Equal(t, StateDone, obs.events[2].Next)
	assert.True(t, obs.events[2].IsSolution)
	assert.Equal(t, []int{1, 2, 3}, []int{obs.events[0].Depth, obs.events[1].Depth, obs.events[2].Depth})
}

func TestRun_SolutionOnFirstTurnSkipsResponder(t *testing.T) {
	client := &stubClient{replies: []string{prompterReply("42", "trivial", true)}}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	result, err := o.Run(context.Background(), "What is six times seven?")
	require.NoError(t, err)

	assert.Equal(t, "42", result.FinalAnswer)
	assert.Equal(t, []string{"trivial"}, result.Summaries)
	assert.Equal(t, 1, result.Turns)
	assert.Len(t, client.requests, 1)
}

func TestRun_PrompterTurnLimitForcesTermination(t *testing.T) {
	client := &stubClient{replies: alternating(9)}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	result, err := o.Run(context.Background(), "hard problem")
	require.NoError(t, err)

	assert.Len(t, client.requests, 9)
	assert.Equal(t, 9, result.Turns)
	assert.Equal(t, ReasonDepthLimit, result.Reason)
	assert.Equal(t, "sub-prompt 5", result.FinalAnswer)
	assert.Equal(t, []string{"status 1", "status 2", "status 3", "status 4", "status 5"}, result.Summaries)
	assert.Equal(t, RolePrompter, client.requests[8].Role)
}

func TestRun_TotalTurnModeWithOddLimitRunsToCeiling(t *testing.T) {
	client := &stubClient{replies: alternating(10)}
	opts := DefaultOptions()
	opts.DepthMode = DepthTotalTurns
	o := newTestOrchestrator(client, opts, nil)

	result, err := o.Run(context.Background(), "hard problem")
	require.NoError(t, err)

	assert.Len(t, client.requests, 10)
	assert.Equal(t, 10, result.Turns)
	assert.Equal(t, ReasonCeiling, result.Reason)
	assert.Empty(t, result.FinalAnswer)
	assert.Len(t, result.Summaries, 5)
}

func TestRun_TotalTurnModeWithEvenLimit(t *testing.T) {
	client := &stubClient{replies: alternating(5)}
	opts := DefaultOptions()
	opts.DepthLimit = 4
	opts.DepthMode = DepthTotalTurns
	o := newTestOrchestrator(client, opts, nil)

	result, err := o.Run(context.Background(), "hard problem")
	require.NoError(t, err)

	assert.Len(t, client.requests, 5)
	assert.Equal(t, ReasonDepthLimit, result.Reason)
	assert.Equal(t, "sub-prompt 3", result.FinalAnswer)
	assert.Len(t, result.Summaries, 3)
}

func TestRun_NeverExceedsCeiling(t *testing.T) {
	for _, mode := range []DepthMode{DepthPrompterTurns, DepthTotalTurns} {
		for limit := 1; limit <= 6; limit++ {
			t.Run(fmt.Sprintf("%s/limit=%d", mode, limit), func(t *testing.T) {
				client := &stubClient{replies: alternating(4 * limit)}
				opts := DefaultOptions()
				opts.DepthLimit = limit
				opts.DepthMode = mode
				o := newTestOrchestrator(client, opts, nil)

				result, err := o.Run(context.Background(), "problem")
				require.NoError(t, err)

				assert.LessOrEqual(t, len(client.requests), 2*limit)
				assert.Equal(t, len(client.requests), result.Turns)

				prompterCalls := 0
				for _, req := range client.requests {
					if req.Role == RolePrompter {
						prompterCalls++
					}
				}
				assert.Len(t, result.Summaries, prompterCalls)
			})
		}
	}
}

func TestRun_ExplicitMaxTurnsCeiling(t *testing.T) {
	client := &stubClient{replies: alternating(3)}
	opts := DefaultOptions()
	opts.MaxTurns = 3
	o := newTestOrchestrator(client, opts, nil)

	result, err := o.Run(context.Background(), "problem")
	require.NoError(t, err)

	assert.Equal(t, ReasonCeiling, result.Reason)
	assert.Equal(t, 3, result.Turns)
	assert.Empty(t, result.FinalAnswer)
	assert.Equal(t, []string{"status 1", "status 2"}, result.Summaries)
}

func TestRun_MaxTurnsCannotRaiseCeiling(t *testing.T) {
	client := &stubClient{replies: alternating(40)}
	opts := DefaultOptions()
	opts.DepthMode = DepthTotalTurns
	opts.MaxTurns = 40
	o := newTestOrchestrator(client, opts, nil)

	assert.Equal(t, 10, o.Options().MaxTurns)

	result, err := o.Run(context.Background(), "hard problem")
	require.NoError(t, err)

	assert.Len(t, client.requests, 10)
	assert.Equal(t, 10, result.Turns)
	assert.Equal(t, ReasonCeiling, result.Reason)
}

func TestRun_UsesRunIDFromContext(t *testing.T) {
	client := &stubClient{replies: []string{
		prompterReply("q", "starting", false),
		responderReply("a"),
		prompterReply("done", "finished", true),
	}}
	obs := &recordingObserver{}
	o := newTestOrchestrator(client, DefaultOptions(), obs)

	result, err := o.Run(WithRunID(context.Background(), "req-42"), "problem")
	require.NoError(t, err)

	assert.Equal(t, "req-42", result.RunID)
	require.Len(t, obs.events, 3)
	for _, ev := range obs.events {
		assert.Equal(t, "req-42", ev.RunID)
	}
}

func TestRun_GeneratesRunIDWhenUnset(t *testing.T) {
	client := &stubClient{replies: []string{prompterReply("42", "trivial", true)}}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	first, err := o.Run(context.Background(), "problem")
	require.NoError(t, err)
	client.requests = nil
	second, err := o.Run(context.Background(), "problem")
	require.NoError(t, err)

	assert.NotEmpty(t, first.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_AcceptsFencedOutput(t *testing.T) {
	client := &stubClient{replies: []string{
		"```json\n{\"response\": \"done\",\n \"summary\": \"ok\",\n \"isSolution\": true}\n```",
	}}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	result, err := o.Run(context.Background(), "problem")
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalAnswer)
}

func TestRun_MissingInput(t *testing.T) {
	client := &stubClient{}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Empty(t, client.requests)
}

func TestRun_UpstreamFailureIsFatal(t *testing.T) {
	client := &stubClient{errs: map[int]error{0: errors.New("provider unavailable")}}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	result, err := o.Run(context.Background(), "problem")
	require.Error(t, err)
	assert.Nil(t, result)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, RolePrompter, upstream.Role)
	assert.Equal(t, 0, upstream.Depth)
	assert.Len(t, client.requests, 1)
}

func TestRun_ResponderFailureAbortsWithoutRetry(t *testing.T) {
	client := &stubClient{
		replies: []string{prompterReply("q", "s", false)},
		errs:    map[int]error{1: errors.New("boom")},
	}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(context.Background(), "problem")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, RoleResponder, upstream.Role)
	assert.Equal(t, 1, upstream.Depth)
	assert.Len(t, client.requests, 2)
}

func TestRun_ParseFailureIsFatal(t *testing.T) {
	client := &stubClient{replies: []string{"Sure! Here is my sub-prompt."}}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(context.Background(), "problem")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "Sure! Here is my sub-prompt.", parseErr.Raw)
}

func TestRun_SchemaViolationIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		role    Role
		fields  []string
	}{
		{
			name:    "prompter missing fields",
			replies: []string{`{"response":"x"}`},
			role:    RolePrompter,
			fields:  []string{"isSolution", "summary"},
		},
		{
			name:    "prompter wrong type",
			replies: []string{`{"response":"x","summary":"s","isSolution":"yes"}`},
			role:    RolePrompter,
			fields:  []string{"isSolution"},
		},
		{
			name:    "responder missing response",
			replies: []string{prompterReply("q", "s", false), `{"answer":"5"}`},
			role:    RoleResponder,
			fields:  []string{"response"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &stubClient{replies: tc.replies}
			o := newTestOrchestrator(client, DefaultOptions(), nil)

			_, err := o.Run(context.Background(), "problem")

			var violation *SchemaViolationError
			require.ErrorAs(t, err, &violation)
			assert.Equal(t, tc.role, violation.Role)

			var got []string
			for _, f := range violation.Fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tc.fields, got)
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(ctx, "problem")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.requests)
}

func TestRun_CancelDuringCallIsNotUpstreamFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &stubClient{
		replies: []string{prompterReply("q", "s", false)},
		errs:    map[int]error{1: errors.New("request aborted")},
		onCall: func(call int, _ *ModelRequest) {
			if call == 1 {
				cancel()
			}
		},
	}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(ctx, "problem")
	assert.ErrorIs(t, err, context.Canceled)

	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}

func TestRun_HistoriesAreAppendOnly(t *testing.T) {
	client := &stubClient{
		replies: []string{
			prompterReply("q1", "s1", false),
			responderReply("a1"),
			prompterReply("q2", "s2", false),
			responderReply("a2"),
			prompterReply("final", "s3", true),
		},
		// A misbehaving client must not be able to rewrite the transcript.
		onCall: func(_ int, req *ModelRequest) {
			for i := range req.History {
				req.History[i].Text = "tampered"
			}
		},
	}
	o := newTestOrchestrator(client, DefaultOptions(), nil)

	_, err := o.Run(context.Background(), "problem")
	require.NoError(t, err)

	var prompterHistories [][]Turn
	for _, req := range client.requests {
		if req.Role == RolePrompter {
			prompterHistories = append(prompterHistories, req.History)
		}
	}
	require.Len(t, prompterHistories, 3)
	for i := 1; i < len(prompterHistories); i++ {
		prev, cur := prompterHistories[i-1], prompterHistories[i]
		require.Greater(t, len(cur), len(prev))
		assert.Equal(t, "problem", cur[0].Text)
	}
	assert.Equal(t, []Turn{
		{Speaker: SpeakerUser, Text: "problem"},
		{Speaker: SpeakerPrompter, Text: "q1"},
		{Speaker: SpeakerUser, Text: ResponderAnswerLabel + "a1"},
		{Speaker: SpeakerPrompter, Text: "q2"},
		{Speaker: SpeakerUser, Text: ResponderAnswerLabel + "a2"},
	}, prompterHistories[2])
}

func TestParseDepthMode(t *testing.T) {
	tests := []struct {
		in      string
		want    DepthMode
		wantErr bool
	}{
		{"", DepthPrompterTurns, false},
		{"prompter", DepthPrompterTurns, false},
		{" TOTAL ", DepthTotalTurns, false},
		{"both", "", true},
	}
	for _, tc := range tests {
		got, err := ParseDepthMode(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := newTestOrchestrator(&stubClient{}, Options{}, nil)
	opts := o.Options()

	assert.Equal(t, 5, opts.DepthLimit)
	assert.Equal(t, 10, opts.MaxTurns)
	assert.Equal(t, DepthPrompterTurns, opts.DepthMode)
	assert.Contains(t, opts.PrompterInstruction, "isSolution")
	assert.Contains(t, opts.ResponderInstruction, "LaTeX")
}
