package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cot-backend/internal/chain"
)

// ScriptedModel is a deterministic offline backend. Its Prompter asks a fixed
// number of sub-prompts and then declares a solution built from the answers;
// its Responder echoes what it was asked.
type ScriptedModel struct {
	Prefix string
	Steps  int
}

func NewScriptedModel(prefix string, steps int) *ScriptedModel {
	if steps < 1 {
		steps = 2
	}
	return &ScriptedModel{Prefix: prefix, Steps: steps}
}

func (m *ScriptedModel) Generate(ctx context.Context, req chain.ModelRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(req.History) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	switch req.Role {
	case chain.RoleResponder:
		last := req.History[len(req.History)-1].Text
		return marshalScripted(map[string]any{
			"response": fmt.Sprintf("[%s] answer to: %s", m.Prefix, last),
		})

	case chain.RolePrompter:
		problem := req.History[0].Text
		var answers []string
		for _, t := range req.History[1:] {
			if !t.FromModel() && strings.HasPrefix(t.Text, chain.ResponderAnswerLabel) {
				answers = append(answers, strings.TrimPrefix(t.Text, chain.ResponderAnswerLabel))
			}
		}

		if len(answers) >= m.Steps {
			return marshalScripted(map[string]any{
				"response":   fmt.Sprintf("[%s] solution for %q: %s", m.Prefix, problem, strings.Join(answers, " | ")),
				"summary":    fmt.Sprintf("combined %d answers", len(answers)),
				"isSolution": true,
			})
		}
		return marshalScripted(map[string]any{
			"response":   fmt.Sprintf("[%s] step %d of %q", m.Prefix, len(answers)+1, problem),
			"summary":    fmt.Sprintf("asked %d of %d sub-prompts", len(answers)+1, m.Steps),
			"isSolution": false,
		})
	}
	return "", fmt.Errorf("unsupported role %q", req.Role)
}

// GenerateMessage echoes the prompt.
func (m *ScriptedModel) GenerateMessage(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", m.Prefix, prompt), nil
}

func marshalScripted(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
