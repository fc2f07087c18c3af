// Package gateway is the reasoning-service boundary. The execution loop
// consumes four operations (Plan, Execute, Verify, Fix) and treats their
// internals (prompting, models, quotas) as opaque.
package gateway

import (
	"context"

	"missionctl/internal/mission"
)

// PlannedStep is one unit of work returned by Plan.
type PlannedStep struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ArtifactSpec is an optional content blob attached to an execution or fix
// result.
type ArtifactSpec struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// StepResult is the outcome of Execute or Fix.
type StepResult struct {
	Output   string        `json:"output"`
	Artifact *ArtifactSpec `json:"artifact,omitempty"`
}

// Verdict is the outcome of Verify.
type Verdict struct {
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback"`
}

// Gateway is the contract the execution loop depends on. Any error from any
// operation is fatal to the mission; only a failed Verdict drives the bounded
// repair cycle.
type Gateway interface {
	Plan(ctx context.Context, goal string) ([]PlannedStep, error)
	Execute(ctx context.Context, step mission.Step, m mission.Mission) (StepResult, error)
	Verify(ctx context.Context, step mission.Step, output, goal string) (Verdict, error)
	Fix(ctx context.Context, step mission.Step, output, feedback string) (StepResult, error)
}
