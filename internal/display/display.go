// Package display renders mission snapshots for the terminal. Everything
// here is pure formatting over an immutable snapshot value.
package display

import (
	"fmt"
	"strings"

	"missionctl/internal/mission"
)

const maxLogMessageLength = 120

// FormatStatus is the one-glance mission summary.
func FormatStatus(m mission.Mission) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Mission %s  [%s]\n", m.ID, m.Status))
	if m.Goal != "" {
		sb.WriteString(fmt.Sprintf("Goal: %s\n", m.Goal))
	}
	done := 0
	for _, s := range m.Steps {
		if s.Status == mission.StepCompleted {
			done++
		}
	}
	if len(m.Steps) > 0 {
		sb.WriteString(fmt.Sprintf("Steps: %d/%d completed\n", done, len(m.Steps)))
	}
	sb.WriteString(FormatTimeline(m))
	return sb.String()
}

// FormatTimeline lists the planned steps with their states and repair counts.
func FormatTimeline(m mission.Mission) string {
	if len(m.Steps) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range m.Steps {
		marker := " "
		switch {
		case s.Status == mission.StepCompleted:
			marker = "x"
		case i == m.CurrentStep:
			marker = ">"
		}
		sb.WriteString(fmt.Sprintf("  [%s] %d. %s (%s", marker, i+1, s.Title, s.Status))
		if s.Attempts > 0 {
			sb.WriteString(fmt.Sprintf(", %d repair(s)", s.Attempts))
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}

// FormatLogs renders the log stream, most recent last.
func FormatLogs(m mission.Mission, limit int) string {
	logs := m.Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	var sb strings.Builder
	for _, l := range logs {
		sb.WriteString(fmt.Sprintf("%s  %-7s %s\n",
			l.Timestamp.Format("15:04:05"), l.Type, clip(l.Message)))
	}
	return sb.String()
}

// FormatArtifacts lists registered artifacts.
func FormatArtifacts(m mission.Mission) string {
	if len(m.Artifacts) == 0 {
		return "No artifacts.\n"
	}
	var sb strings.Builder
	for _, a := range m.Artifacts {
		sb.WriteString(fmt.Sprintf("  %s  %-10s %s (%d bytes)\n",
			a.Timestamp.Format("15:04:05"), a.Type, a.Name, len(a.Content)))
	}
	return sb.String()
}

// Export produces the full text dump of a mission's artifacts, revision
// history included.
func Export(m mission.Mission) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Mission %s: %s\n", m.ID, m.Goal))
	sb.WriteString(fmt.Sprintf("Status: %s\n\n", m.Status))
	for _, a := range m.Artifacts {
		sb.WriteString(fmt.Sprintf("--- %s [%s] %s ---\n", a.Name, a.Type, a.Timestamp.Format("2006-01-02 15:04:05")))
		sb.WriteString(a.Content)
		if !strings.HasSuffix(a.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(m.Artifacts) == 0 {
		sb.WriteString("(no artifacts)\n")
	}
	return sb.String()
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > maxLogMessageLength {
		return s[:maxLogMessageLength] + "..."
	}
	return s
}
