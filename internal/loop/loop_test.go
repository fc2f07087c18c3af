package loop_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"missionctl/internal/gateway"
	"missionctl/internal/loop"
	"missionctl/internal/mission"
)

// fakeGateway plays back a scripted reasoning service. Verdicts are consumed
// one per Verify call; when the script runs out, verification passes.
type fakeGateway struct {
	mu sync.Mutex

	plan         []gateway.PlannedStep
	planErr      error
	execErr      error
	verifyErr    error
	fixErr       error
	verdicts     []gateway.Verdict
	execArtifact *gateway.ArtifactSpec
	fixArtifact  *gateway.ArtifactSpec

	planCalls   int
	execCalls   int
	verifyCalls int
	fixCalls    int

	gates map[string]*callGate
}

// callGate blocks one occurrence of an operation: entered is closed when the
// call arrives, and the call returns only once release is closed. This is
// how tests park a gateway call in flight while they issue a reset.
type callGate struct {
	entered chan struct{}
	release chan struct{}
}

func (f *fakeGateway) blockNext(op string) *callGate {
	g := &callGate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	if f.gates == nil {
		f.gates = map[string]*callGate{}
	}
	f.gates[op] = g
	f.mu.Unlock()
	return g
}

func (f *fakeGateway) hold(op string) {
	f.mu.Lock()
	g := f.gates[op]
	delete(f.gates, op)
	f.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}
}

func (f *fakeGateway) Plan(ctx context.Context, goal string) ([]gateway.PlannedStep, error) {
	f.mu.Lock()
	f.planCalls++
	f.mu.Unlock()
	f.hold("plan")
	if f.planErr != nil {
		return nil, &gateway.PlanningError{Err: f.planErr}
	}
	return f.plan, nil
}

func (f *fakeGateway) Execute(ctx context.Context, step mission.Step, m mission.Mission) (gateway.StepResult, error) {
	f.mu.Lock()
	f.execCalls++
	n := f.execCalls
	f.mu.Unlock()
	f.hold("execute")
	if f.execErr != nil {
		return gateway.StepResult{}, &gateway.ExecutionError{Err: f.execErr}
	}
	return gateway.StepResult{
		Output:   "output of " + step.Title + " #" + itoa(n),
		Artifact: f.execArtifact,
	}, nil
}

func (f *fakeGateway) Verify(ctx context.Context, step mission.Step, output, goal string) (gateway.Verdict, error) {
	f.mu.Lock()
	f.verifyCalls++
	var v gateway.Verdict
	if len(f.verdicts) > 0 {
		v = f.verdicts[0]
		f.verdicts = f.verdicts[1:]
	} else {
		v = gateway.Verdict{Passed: true, Feedback: "ok"}
	}
	f.mu.Unlock()
	f.hold("verify")
	if f.verifyErr != nil {
		return gateway.Verdict{}, &gateway.VerificationError{Err: f.verifyErr}
	}
	return v, nil
}

func (f *fakeGateway) Fix(ctx context.Context, step mission.Step, output, feedback string) (gateway.StepResult, error) {
	f.mu.Lock()
	f.fixCalls++
	n := f.fixCalls
	f.mu.Unlock()
	f.hold("fix")
	if f.fixErr != nil {
		return gateway.StepResult{}, &gateway.FixError{Err: f.fixErr}
	}
	return gateway.StepResult{
		Output:   "repaired output #" + itoa(n),
		Artifact: f.fixArtifact,
	}, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

var errTest = errors.New("reasoning service unreachable")

// memPersist records the save/load/clear traffic in memory.
type memPersist struct {
	mu      sync.Mutex
	saved   *mission.Mission
	saves   int
	cleared int
}

func (p *memPersist) Save(m mission.Mission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := m.Clone()
	p.saved = &cp
	p.saves++
	return nil
}

func (p *memPersist) Load() (mission.Mission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saved == nil {
		return mission.Mission{}, nil
	}
	return p.saved.Clone(), nil
}

func (p *memPersist) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = nil
	p.cleared++
	return nil
}

func (p *memPersist) snapshot() (*mission.Mission, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved, p.saves, p.cleared
}

// gatedPersist parks one Save call, selected by how many saves precede it,
// so a test can issue a reset while that save is in flight.
type gatedPersist struct {
	memPersist

	gateMu sync.Mutex
	skip   int
	gate   *callGate
}

func (p *gatedPersist) blockSave(after int) *callGate {
	g := &callGate{entered: make(chan struct{}), release: make(chan struct{})}
	p.gateMu.Lock()
	p.skip = after
	p.gate = g
	p.gateMu.Unlock()
	return g
}

func (p *gatedPersist) Save(m mission.Mission) error {
	p.gateMu.Lock()
	var g *callGate
	if p.gate != nil {
		if p.skip > 0 {
			p.skip--
		} else {
			g = p.gate
			p.gate = nil
		}
	}
	p.gateMu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}
	return p.memPersist.Save(m)
}

func newController(fg *fakeGateway, p *memPersist) *loop.Controller {
	return loop.New(mission.Mission{}, fg, p, loop.Config{IdleWait: time.Millisecond})
}

func waitTerminal(t *testing.T, c *loop.Controller) mission.Mission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := c.Snapshot()
		if m.Status.Terminal() && !c.Active() {
			return m
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("mission never reached a terminal state; status=%s", c.Snapshot().Status)
	return mission.Mission{}
}

func waitInactive(t *testing.T, c *loop.Controller) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Active() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("loop never released the single-flight guard")
}

func countLogs(m mission.Mission, typ mission.LogType) int {
	n := 0
	for _, l := range m.Logs {
		if l.Type == typ {
			n++
		}
	}
	return n
}

func TestTwoStepsFirstTry(t *testing.T) {
	fg := &fakeGateway{plan: []gateway.PlannedStep{
		{Title: "draft outline", Description: "write the outline"},
		{Title: "write summary", Description: "summarize"},
	}}
	c := newController(fg, &memPersist{})

	updates, cancel := c.Subscribe()
	defer cancel()
	var seen []mission.Mission
	var seenMu sync.Mutex
	go func() {
		for m := range updates {
			seenMu.Lock()
			seen = append(seen, m)
			seenMu.Unlock()
		}
	}()

	c.StartMission("X")
	final := waitTerminal(t, c)

	if final.Status != mission.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	if final.CurrentStep != 2 {
		t.Errorf("currentStepIndex = %d, want 2", final.CurrentStep)
	}
	if len(final.Steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(final.Steps))
	}
	for i, s := range final.Steps {
		if s.Status != mission.StepCompleted {
			t.Errorf("step %d status = %s, want COMPLETED", i, s.Status)
		}
		if s.Attempts != 0 {
			t.Errorf("step %d attempts = %d, want 0", i, s.Attempts)
		}
	}
	if fg.fixCalls != 0 {
		t.Errorf("fix called %d times, want 0", fg.fixCalls)
	}

	seenMu.Lock()
	defer seenMu.Unlock()
	for _, m := range seen {
		if m.Status == mission.StatusFixing || m.Status == mission.StatusRetrying {
			t.Errorf("observed %s snapshot in a first-try run", m.Status)
		}
		for _, s := range m.Steps {
			if s.Status == mission.StepFixing {
				t.Error("observed a FIXING step in a first-try run")
			}
		}
	}
}

func TestStepsSeededFromPlan(t *testing.T) {
	fg := &fakeGateway{
		plan:     []gateway.PlannedStep{{Title: "a"}, {Title: "b"}, {Title: "c"}},
		verdicts: nil,
	}
	c := newController(fg, &memPersist{})
	c.StartMission("three step goal")
	final := waitTerminal(t, c)

	if len(final.Steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(final.Steps))
	}
	if fg.planCalls != 1 {
		t.Errorf("plan called %d times, want 1", fg.planCalls)
	}
}

func TestRepairTwiceThenSucceed(t *testing.T) {
	fg := &fakeGateway{
		plan: []gateway.PlannedStep{{Title: "format report", Description: "produce the report"}},
		verdicts: []gateway.Verdict{
			{Passed: false, Feedback: "bad format"},
			{Passed: false, Feedback: "bad format"},
			{Passed: true, Feedback: "ok"},
		},
		fixArtifact: &gateway.ArtifactSpec{Name: "report.md", Content: "# fixed", Type: "markdown"},
	}
	c := newController(fg, &memPersist{})
	c.StartMission("Y")
	final := waitTerminal(t, c)

	if final.Status != mission.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	st := final.Steps[0]
	if st.Status != mission.StepCompleted {
		t.Errorf("step status = %s, want COMPLETED", st.Status)
	}
	if st.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", st.Attempts)
	}
	if fg.execCalls != 3 || fg.verifyCalls != 3 || fg.fixCalls != 2 {
		t.Errorf("calls = exec %d / verify %d / fix %d, want 3/3/2",
			fg.execCalls, fg.verifyCalls, fg.fixCalls)
	}

	var revs []string
	for _, a := range final.Artifacts {
		if strings.HasPrefix(a.Name, "rev") {
			revs = append(revs, a.Name)
		}
	}
	if len(revs) != 2 {
		t.Fatalf("revision artifacts = %v, want 2 entries", revs)
	}
	if revs[0] != "rev2-report.md" || revs[1] != "rev3-report.md" {
		t.Errorf("revision names = %v, want [rev2-report.md rev3-report.md]", revs)
	}
}

func TestThirdFailureForcesFailed(t *testing.T) {
	fg := &fakeGateway{
		plan: []gateway.PlannedStep{{Title: "format report"}},
		verdicts: []gateway.Verdict{
			{Passed: false, Feedback: "wrong"},
			{Passed: false, Feedback: "still wrong"},
			{Passed: false, Feedback: "hopeless"},
		},
	}
	c := newController(fg, &memPersist{})
	c.StartMission("Y")
	final := waitTerminal(t, c)

	if final.Status != mission.StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.Steps[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (third failure is not retried)", final.Steps[0].Attempts)
	}
	if fg.fixCalls != 2 {
		t.Errorf("fix called %d times, want 2", fg.fixCalls)
	}
	if fg.verifyCalls != 3 {
		t.Errorf("verify called %d times, want 3", fg.verifyCalls)
	}
}

func TestPlanningFailure(t *testing.T) {
	fg := &fakeGateway{planErr: errTest}
	c := newController(fg, &memPersist{})
	c.StartMission("doomed")
	final := waitTerminal(t, c)

	if final.Status != mission.StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if len(final.Steps) != 0 {
		t.Errorf("len(steps) = %d, want 0", len(final.Steps))
	}
	if n := countLogs(final, mission.LogError); n != 1 {
		t.Errorf("ERROR log entries = %d, want exactly 1", n)
	}

	// Guard must be released: a subsequent start runs a fresh mission.
	fg.mu.Lock()
	fg.planErr = nil
	fg.plan = []gateway.PlannedStep{{Title: "a"}}
	fg.mu.Unlock()
	c.StartMission("second try")
	final = waitTerminal(t, c)
	if final.Status != mission.StatusCompleted {
		t.Errorf("second mission status = %s, want COMPLETED", final.Status)
	}
}

func TestGatewayCallFailureIsFatal(t *testing.T) {
	testCases := []struct {
		name string
		fg   *fakeGateway
	}{
		{
			name: "execute error",
			fg:   &fakeGateway{plan: []gateway.PlannedStep{{Title: "a"}}, execErr: errTest},
		},
		{
			name: "verify error",
			fg:   &fakeGateway{plan: []gateway.PlannedStep{{Title: "a"}}, verifyErr: errTest},
		},
		{
			name: "fix error",
			fg: &fakeGateway{
				plan:     []gateway.PlannedStep{{Title: "a"}},
				verdicts: []gateway.Verdict{{Passed: false, Feedback: "nope"}},
				fixErr:   errTest,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newController(tc.fg, &memPersist{})
			c.StartMission("goal")
			final := waitTerminal(t, c)
			if final.Status != mission.StatusFailed {
				t.Fatalf("status = %s, want FAILED", final.Status)
			}
			if countLogs(final, mission.LogError) == 0 {
				t.Error("expected at least one ERROR log entry")
			}
		})
	}
}

func TestBlankGoalIsNoOp(t *testing.T) {
	fg := &fakeGateway{}
	c := newController(fg, &memPersist{})
	before := c.Snapshot()

	if id := c.StartMission("   "); id != "" {
		t.Fatalf("StartMission returned id %q for a blank goal", id)
	}
	after := c.Snapshot()
	if after.ID != before.ID || after.Status != before.Status {
		t.Errorf("snapshot changed on blank goal: %+v -> %+v", before, after)
	}
	if fg.planCalls != 0 {
		t.Errorf("plan called %d times, want 0", fg.planCalls)
	}
}

func TestEmptyPlanCompletes(t *testing.T) {
	fg := &fakeGateway{plan: nil}
	c := newController(fg, &memPersist{})
	c.StartMission("nothing to do")
	final := waitTerminal(t, c)

	if final.Status != mission.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	if countLogs(final, mission.LogSystem) == 0 {
		t.Error("expected a SYSTEM log entry for the empty plan")
	}
	if fg.execCalls != 0 {
		t.Errorf("execute called %d times, want 0", fg.execCalls)
	}
}

func TestStepIndexNeverDecreases(t *testing.T) {
	fg := &fakeGateway{
		plan: []gateway.PlannedStep{{Title: "a"}, {Title: "b"}, {Title: "c"}},
		verdicts: []gateway.Verdict{
			{Passed: true},
			{Passed: false, Feedback: "redo"},
			{Passed: true},
			{Passed: true},
		},
	}
	c := newController(fg, &memPersist{})

	updates, cancel := c.Subscribe()
	defer cancel()
	done := make(chan struct{})
	var violations []string
	go func() {
		defer close(done)
		prev := -1
		for m := range updates {
			if m.Status == mission.StatusIdle {
				prev = -1
				continue
			}
			if m.CurrentStep < prev {
				violations = append(violations, "index decreased")
			}
			for i := 0; i < m.CurrentStep && i < len(m.Steps); i++ {
				if m.Steps[i].Status != mission.StepCompleted {
					violations = append(violations, "index passed a non-completed step")
				}
			}
			prev = m.CurrentStep
		}
	}()

	c.StartMission("ordered goal")
	final := waitTerminal(t, c)
	cancel()
	<-done

	if final.Status != mission.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	for _, v := range violations {
		t.Error(v)
	}
}

func TestPersistSaveAndClearTraffic(t *testing.T) {
	fg := &fakeGateway{plan: []gateway.PlannedStep{{Title: "a"}}}
	p := &memPersist{}
	c := newController(fg, p)

	c.StartMission("persisted goal")
	final := waitTerminal(t, c)

	saved, saves, _ := p.snapshot()
	if saves == 0 {
		t.Fatal("no saves recorded for a live mission")
	}
	if saved == nil || saved.ID != final.ID || saved.Status != final.Status {
		t.Errorf("persisted snapshot does not match final snapshot")
	}

	c.ResetMission()
	saved, _, cleared := p.snapshot()
	if cleared != 1 {
		t.Errorf("clear called %d times, want 1", cleared)
	}
	if saved != nil {
		t.Error("snapshot still persisted after reset")
	}
}

func TestResumeNormalizesMidStepStatus(t *testing.T) {
	testCases := []struct {
		name   string
		loaded mission.Status
	}{
		{"verifying", mission.StatusVerifying},
		{"fixing", mission.StatusFixing},
		{"retrying", mission.StatusRetrying},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			saved := mission.New("resumed goal")
			saved.Status = tc.loaded
			saved.Steps = []mission.Step{mission.NewStep("a", "")}
			saved.CurrentStep = 0
			saved.Steps[0].Status = mission.StepActive
			saved.Steps[0].Attempts = 1

			fg := &fakeGateway{}
			c := loop.New(saved, fg, &memPersist{}, loop.Config{IdleWait: time.Millisecond})

			if got := c.Snapshot().Status; got != mission.StatusExecuting {
				t.Fatalf("normalized status = %s, want EXECUTING", got)
			}
			c.Resume()
			final := waitTerminal(t, c)
			if final.Status != mission.StatusCompleted {
				t.Fatalf("status = %s, want COMPLETED", final.Status)
			}
			if final.Steps[0].Attempts != 1 {
				t.Errorf("attempts = %d, want 1 (preserved across resume)", final.Steps[0].Attempts)
			}
			if fg.planCalls != 0 {
				t.Errorf("plan called %d times on resume, want 0", fg.planCalls)
			}
		})
	}
}
