package gateway

import (
	"fmt"
	"strings"

	"missionctl/internal/mission"
)

// Keep prompt context bounded; long outputs are truncated before being fed
// back to the model.
const maxContextChars = 4000

func truncate(s string) string {
	if len(s) > maxContextChars {
		return s[:maxContextChars] + "\n[...truncated]"
	}
	return s
}

func buildPlanPrompt(goal string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert mission planner. Decompose the user's goal into a SHORT ordered list of concrete steps.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"steps\": [{\"title\": \"<short imperative title>\", \"description\": \"<what to produce and how it will be judged>\"}]}\n\n")

	sb.WriteString("RULES:\n")
	sb.WriteString("1) Steps run STRICTLY in order; later steps may build on earlier outputs.\n")
	sb.WriteString("2) Each step must produce something verifiable against the goal on its own.\n")
	sb.WriteString("3) Prefer 2-5 steps. Never more than 8.\n")
	sb.WriteString("4) Titles are unique and under 60 characters.\n\n")

	sb.WriteString("Generate the plan now for this goal:\n")
	sb.WriteString(fmt.Sprintf("Goal: \"%s\"\n", goal))
	sb.WriteString("Assistant: ")

	return sb.String()
}

func buildExecutePrompt(step mission.Step, m mission.Mission) string {
	var sb strings.Builder

	sb.WriteString("You are an expert operator executing one step of a mission.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"output\": \"<the full work product of this step>\", \"artifact\": {\"name\": \"<file-like name>\", \"content\": \"<artifact body>\", \"type\": \"<markdown|plan|code|data>\"}}\n")
	sb.WriteString("The artifact field is OPTIONAL: include it only when the step yields a deliverable worth keeping; otherwise omit it or set it to null.\n\n")

	sb.WriteString(fmt.Sprintf("MISSION GOAL: \"%s\"\n", m.Goal))
	if len(m.Steps) > 0 {
		sb.WriteString("PLAN SO FAR:\n")
		for i, s := range m.Steps {
			sb.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, s.Status, s.Title))
		}
	}
	if strings.TrimSpace(m.LastOutput) != "" {
		sb.WriteString("\nPREVIOUS STEP OUTPUT (context):\n")
		sb.WriteString(truncate(m.LastOutput))
		sb.WriteString("\n")
	}

	sb.WriteString("\nExecute this step now:\n")
	sb.WriteString(fmt.Sprintf("Step: \"%s\"\n", step.Title))
	sb.WriteString(fmt.Sprintf("Details: \"%s\"\n", step.Description))
	sb.WriteString("Assistant: ")

	return sb.String()
}

func buildVerifyPrompt(step mission.Step, output, goal string) string {
	var sb strings.Builder

	sb.WriteString("You are a strict reviewer. Judge whether the step output below satisfies the step in service of the mission goal.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"passed\": <bool>, \"feedback\": \"<if failed: what is wrong and what to change; if passed: one short sentence>\"}\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Fail the output if it is incomplete, off-goal, or malformed for its stated purpose.\n")
	sb.WriteString("- Feedback must be actionable; a repair pass will be driven by it verbatim.\n\n")

	sb.WriteString(fmt.Sprintf("Mission goal: \"%s\"\n", goal))
	sb.WriteString(fmt.Sprintf("Step: \"%s\": %s\n", step.Title, step.Description))
	sb.WriteString("Step output:\n")
	sb.WriteString(truncate(output))
	sb.WriteString("\nAssistant: ")

	return sb.String()
}

func buildFixPrompt(step mission.Step, output, feedback string) string {
	var sb strings.Builder

	sb.WriteString("You are repairing a step output that failed review. Produce a corrected version.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"output\": \"<the corrected work product>\", \"artifact\": {\"name\": \"<file-like name>\", \"content\": \"<artifact body>\", \"type\": \"<markdown|plan|code|data>\"}}\n")
	sb.WriteString("The artifact field is OPTIONAL, as in execution.\n\n")

	sb.WriteString(fmt.Sprintf("Step: \"%s\": %s\n", step.Title, step.Description))
	sb.WriteString("Rejected output:\n")
	sb.WriteString(truncate(output))
	sb.WriteString("\nReviewer feedback:\n")
	sb.WriteString(feedback)
	sb.WriteString("\n\nAddress EVERY point in the feedback. Keep what was already correct.\n")
	sb.WriteString("Assistant: ")

	return sb.String()
}
