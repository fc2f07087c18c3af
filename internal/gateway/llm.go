package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"missionctl/internal/mission"
)

// LLM adapts a Provider to the Gateway contract: it builds the prompt for
// each operation, forces strict-JSON output, and parses the response into
// the operation's result type.
type LLM struct {
	provider Provider
	model    string
}

func NewLLM(p Provider, model string) *LLM {
	return &LLM{provider: p, model: model}
}

type planResponse struct {
	Steps []PlannedStep `json:"steps"`
}

func (g *LLM) Plan(ctx context.Context, goal string) ([]PlannedStep, error) {
	raw, err := g.provider.GenerateJSON(ctx, buildPlanPrompt(goal), g.model)
	if err != nil {
		return nil, &PlanningError{Err: err}
	}
	steps, err := parsePlan(raw)
	if err != nil {
		return nil, &PlanningError{Err: err}
	}
	return steps, nil
}

func (g *LLM) Execute(ctx context.Context, step mission.Step, m mission.Mission) (StepResult, error) {
	raw, err := g.provider.GenerateJSON(ctx, buildExecutePrompt(step, m), g.model)
	if err != nil {
		return StepResult{}, &ExecutionError{Err: err}
	}
	res, err := parseStepResult(raw)
	if err != nil {
		return StepResult{}, &ExecutionError{Err: err}
	}
	return res, nil
}

func (g *LLM) Verify(ctx context.Context, step mission.Step, output, goal string) (Verdict, error) {
	raw, err := g.provider.GenerateJSON(ctx, buildVerifyPrompt(step, output, goal), g.model)
	if err != nil {
		return Verdict{}, &VerificationError{Err: err}
	}
	v, err := parseVerdict(raw)
	if err != nil {
		return Verdict{}, &VerificationError{Err: err}
	}
	return v, nil
}

func (g *LLM) Fix(ctx context.Context, step mission.Step, output, feedback string) (StepResult, error) {
	raw, err := g.provider.GenerateJSON(ctx, buildFixPrompt(step, output, feedback), g.model)
	if err != nil {
		return StepResult{}, &FixError{Err: err}
	}
	res, err := parseStepResult(raw)
	if err != nil {
		return StepResult{}, &FixError{Err: err}
	}
	return res, nil
}

func parsePlan(raw string) ([]PlannedStep, error) {
	var resp planResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %v\nRaw Response: %s", err, raw)
	}
	out := make([]PlannedStep, 0, len(resp.Steps))
	for i, s := range resp.Steps {
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("plan step %d has an empty title", i+1)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseStepResult(raw string) (StepResult, error) {
	var res StepResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return StepResult{}, fmt.Errorf("parsing step result JSON: %v\nRaw Response: %s", err, raw)
	}
	if strings.TrimSpace(res.Output) == "" {
		return StepResult{}, fmt.Errorf("step result has no output")
	}
	if res.Artifact != nil && strings.TrimSpace(res.Artifact.Name) == "" {
		// A nameless artifact cannot be revised later; drop it but keep the output.
		res.Artifact = nil
	}
	return res, nil
}

func parseVerdict(raw string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, fmt.Errorf("parsing verdict JSON: %v\nRaw Response: %s", err, raw)
	}
	if !v.Passed && strings.TrimSpace(v.Feedback) == "" {
		v.Feedback = "verification failed without feedback"
	}
	return v, nil
}
