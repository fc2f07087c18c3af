// Package mission defines the mission snapshot value types. A snapshot is
// treated as an immutable value: every transition clones the current value,
// edits the clone, and publishes it whole, so concurrent readers never see a
// half-updated mission.
package mission

import (
	"time"

	"github.com/google/uuid"
)

// Status is the mission-level lifecycle state.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusPlanning  Status = "PLANNING"
	StatusExecuting Status = "EXECUTING"
	StatusVerifying Status = "VERIFYING"
	StatusFixing    Status = "FIXING"
	StatusRetrying  Status = "RETRYING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Runnable reports whether the execution loop should be driving a mission in
// this state.
func (s Status) Runnable() bool {
	switch s {
	case StatusPlanning, StatusExecuting, StatusVerifying, StatusFixing, StatusRetrying:
		return true
	}
	return false
}

// StepStatus is the per-step lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepActive    StepStatus = "ACTIVE"
	StepFixing    StepStatus = "FIXING"
	StepCompleted StepStatus = "COMPLETED"
)

// LogType classifies a log entry for display.
type LogType string

const (
	LogInfo    LogType = "INFO"
	LogPlan    LogType = "PLAN"
	LogAction  LogType = "ACTION"
	LogSystem  LogType = "SYSTEM"
	LogSuccess LogType = "SUCCESS"
	LogError   LogType = "ERROR"
)

// MaxRepairs is the number of repair cycles allowed per step. The
// verification failure after the last repair forces the mission FAILED.
const MaxRepairs = 2

type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
}

type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      LogType   `json:"type"`
}

type Artifact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Memory is carried for forward compatibility. The execution loop never
// mutates it.
type Memory struct {
	DecisionLog    []string `json:"decision_log,omitempty"`
	LearnedContext string   `json:"learned_context,omitempty"`
}

// Mission is one end-to-end run from goal submission to COMPLETED/FAILED.
// CurrentStep is -1 before planning materializes; CurrentStep == len(Steps)
// with len(Steps) > 0 signals completion.
type Mission struct {
	ID          string     `json:"id"`
	Goal        string     `json:"goal"`
	Status      Status     `json:"status"`
	CurrentStep int        `json:"current_step_index"`
	Steps       []Step     `json:"steps"`
	Logs        []LogEntry `json:"logs"`
	Artifacts   []Artifact `json:"artifacts"`
	LastOutput  string     `json:"last_execution_output,omitempty"`
	Memory      Memory     `json:"memory"`
}

func newID() string {
	return uuid.New().String()[:8]
}

// Blank returns a fresh IDLE mission with a new id and no goal. Resets
// publish a Blank snapshot so an in-flight loop observes IDLE and stops.
func Blank() Mission {
	return Mission{
		ID:          newID(),
		Status:      StatusIdle,
		CurrentStep: -1,
	}
}

// New returns a fresh mission for goal, already in PLANNING. Steps, logs and
// artifacts start empty; a new id is assigned.
func New(goal string) Mission {
	return Mission{
		ID:          newID(),
		Goal:        goal,
		Status:      StatusPlanning,
		CurrentStep: -1,
	}
}

// NewStep seeds a planned step in its initial PENDING state.
func NewStep(title, description string) Step {
	return Step{
		ID:          newID(),
		Title:       title,
		Description: description,
		Status:      StepPending,
	}
}

// NewLog stamps a log entry.
func NewLog(t LogType, message string) LogEntry {
	return LogEntry{
		ID:        newID(),
		Timestamp: time.Now(),
		Message:   message,
		Type:      t,
	}
}

// NewArtifact stamps an artifact.
func NewArtifact(name, content, typ string) Artifact {
	return Artifact{
		ID:        newID(),
		Name:      name,
		Content:   content,
		Type:      typ,
		Timestamp: time.Now(),
	}
}

// Clone returns a deep copy. Slices are reallocated so edits to the copy
// never alias the original snapshot.
func (m Mission) Clone() Mission {
	out := m
	if m.Steps != nil {
		out.Steps = make([]Step, len(m.Steps))
		copy(out.Steps, m.Steps)
	}
	if m.Logs != nil {
		out.Logs = make([]LogEntry, len(m.Logs))
		copy(out.Logs, m.Logs)
	}
	if m.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(m.Artifacts))
		copy(out.Artifacts, m.Artifacts)
	}
	if m.Memory.DecisionLog != nil {
		out.Memory.DecisionLog = make([]string, len(m.Memory.DecisionLog))
		copy(out.Memory.DecisionLog, m.Memory.DecisionLog)
	}
	return out
}

// AppendLog appends an entry to the clone's log stream. Logs are append-only;
// ordering is the causal order of loop events.
func (m *Mission) AppendLog(t LogType, message string) {
	m.Logs = append(m.Logs, NewLog(t, message))
}

// AppendArtifact registers a produced artifact. Artifacts are never replaced;
// a repaired artifact is appended under a revision-prefixed name.
func (m *Mission) AppendArtifact(name, content, typ string) {
	m.Artifacts = append(m.Artifacts, NewArtifact(name, content, typ))
}

// Done reports whether every planned step has been consumed. A mission with
// no steps is never Done by this predicate; the loop completes it directly.
func (m Mission) Done() bool {
	return len(m.Steps) > 0 && m.CurrentStep >= len(m.Steps)
}
