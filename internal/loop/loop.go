// Package loop drives a mission from goal submission to COMPLETED or FAILED:
// one planning call, then strictly sequential step iterations of
// execute → verify, with a bounded repair cycle on verification failure.
//
// Concurrency discipline: at most one loop goroutine runs per Controller,
// enforced by a compare-and-swap guard acquired at loop entry and released
// on every exit path. Cancellation is cooperative and snapshot-based: every
// externally visible write goes through commit, which re-reads the live
// snapshot under the store lock and drops the write if the mission was reset
// or replaced while a gateway call was in flight. A stale in-flight call can
// therefore never land after a reset.
package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"missionctl/internal/gateway"
	"missionctl/internal/logger"
	"missionctl/internal/mission"
	"missionctl/internal/persist"
	"missionctl/internal/store"
)

// Config tunes the loop's two intentional suspension points besides the
// gateway calls themselves.
type Config struct {
	// StepDelay is the inter-step throttle period. Zero disables the
	// throttle entirely (tests).
	StepDelay time.Duration
	// IdleWait is the pause before re-checking a snapshot whose step index
	// has not materialized yet.
	IdleWait time.Duration
}

const defaultIdleWait = 50 * time.Millisecond

// Controller owns the mission store and the single execution loop over it.
type Controller struct {
	store   *store.Store
	gw      gateway.Gateway
	persist persist.Adapter
	cfg     Config

	active  atomic.Bool // single-flight guard
	limiter *rate.Limiter

	// persistMu serializes Save and Clear so the durable state always
	// follows the snapshot transitions in order. Never held while the
	// store lock is taken for an update.
	persistMu sync.Mutex
}

// New builds a Controller seeded with initial (typically the persisted
// snapshot, or a zero Mission when none exists). A snapshot loaded mid-step
// (VERIFYING, FIXING, RETRYING) is normalized to EXECUTING so the
// interrupted step re-runs from the top of the iteration.
func New(initial mission.Mission, gw gateway.Gateway, p persist.Adapter, cfg Config) *Controller {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = defaultIdleWait
	}
	c := &Controller{
		store:   store.New(normalize(initial)),
		gw:      gw,
		persist: p,
		cfg:     cfg,
	}
	if cfg.StepDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.StepDelay), 1)
	}
	return c
}

func normalize(m mission.Mission) mission.Mission {
	if m.ID == "" {
		return mission.Blank()
	}
	switch m.Status {
	case mission.StatusVerifying, mission.StatusFixing, mission.StatusRetrying:
		n := m.Clone()
		n.Status = mission.StatusExecuting
		return n
	}
	return m
}

// Snapshot returns the current mission value.
func (c *Controller) Snapshot() mission.Mission {
	return c.store.Snapshot()
}

// Subscribe yields one notification per committed snapshot update.
func (c *Controller) Subscribe() (<-chan mission.Mission, func()) {
	return c.store.Subscribe()
}

// Active reports whether a loop instance currently holds the guard.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// StartMission seeds a fresh PLANNING snapshot for goal and starts the loop.
// A blank goal is a no-op. The previous mission, whatever its state, is
// replaced; its id is gone, so any in-flight call it owned can no longer
// write.
func (c *Controller) StartMission(goal string) string {
	if strings.TrimSpace(goal) == "" {
		return ""
	}
	m, _ := c.store.Update(func(mission.Mission) (mission.Mission, bool) {
		next := mission.New(goal)
		next.AppendLog(mission.LogInfo, "Mission accepted: "+goal)
		return next, true
	})
	c.save(m)
	c.ensureLoop()
	return m.ID
}

// ResetMission aborts whatever is running and publishes a fresh IDLE
// snapshot. The running loop observes IDLE (or the new id) at its next
// commit and exits without further writes.
func (c *Controller) ResetMission() {
	c.store.Update(func(mission.Mission) (mission.Mission, bool) {
		return mission.Blank(), true
	})
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.persist.Clear(); err != nil {
		logger.Log.Printf("[loop] clear persisted mission: %v", err)
	}
}

// Resume starts the loop if the seeded snapshot is runnable. Call once at
// startup after New.
func (c *Controller) Resume() {
	c.ensureLoop()
}

// ensureLoop spawns the loop goroutine unless one is already active.
// Redundant triggers are no-ops.
func (c *Controller) ensureLoop() {
	if !c.store.Snapshot().Status.Runnable() {
		return
	}
	if !c.active.CompareAndSwap(false, true) {
		return
	}
	go c.runLoop()
}

func (c *Controller) runLoop() {
	defer func() {
		c.active.Store(false)
		// A start that raced with this exit may have found the guard still
		// held; re-check so its mission is not stranded.
		c.ensureLoop()
	}()
	for {
		m := c.store.Snapshot()
		if !m.Status.Runnable() {
			return
		}
		// run exits on terminal states and on cancellation. If the mission
		// was replaced mid-run (reset followed by a new start), the fresh
		// runnable snapshot is picked up here by the same instance.
		c.run(m.ID)
	}
}

func (c *Controller) run(runID string) {
	ctx := context.Background()
	m := c.store.Snapshot()
	if m.ID != runID {
		return
	}
	logger.Log.Printf("[loop] mission %s: loop attached (status=%s)", runID, m.Status)

	if m.Status == mission.StatusPlanning {
		if !c.plan(ctx, runID, m) {
			return
		}
	}
	c.steps(ctx, runID)
}

// plan performs the single planning call and materializes the step list.
// Returns false when the loop should stop (failure or cancellation).
func (c *Controller) plan(ctx context.Context, runID string, m mission.Mission) bool {
	planned, err := c.gw.Plan(ctx, m.Goal)
	if err != nil {
		c.fail(runID, fmt.Sprintf("Planning failed: %v", err))
		return false
	}
	steps := make([]mission.Step, 0, len(planned))
	for _, p := range planned {
		steps = append(steps, mission.NewStep(p.Title, p.Description))
	}
	_, ok := c.commit(runID, func(next *mission.Mission) {
		next.Steps = steps
		next.CurrentStep = 0
		next.Status = mission.StatusExecuting
		next.AppendLog(mission.LogPlan, fmt.Sprintf("Plan ready: %d step(s)", len(steps)))
	})
	return ok
}

// steps iterates the per-step state machine until a terminal state or
// cancellation.
func (c *Controller) steps(ctx context.Context, runID string) {
	first := true
	for {
		m := c.store.Snapshot()
		if m.ID != runID || !m.Status.Runnable() {
			return
		}
		if m.CurrentStep < 0 {
			// Narrow window between a state read and the index assignment;
			// idle-wait and re-check rather than error.
			time.Sleep(c.cfg.IdleWait)
			continue
		}
		if m.CurrentStep >= len(m.Steps) {
			c.complete(runID)
			return
		}
		if !first && !c.throttle(ctx) {
			return
		}
		first = false
		if !c.step(ctx, runID, m) {
			return
		}
	}
}

// step runs one pass of the per-step iteration: mark active, execute, record,
// verify, then advance, repair, or fail. A step re-entered after a repair
// goes through the full pass again; verification always happens here, never
// inside the fix branch. Returns false when the loop should stop.
func (c *Controller) step(ctx context.Context, runID string, m mission.Mission) bool {
	idx := m.CurrentStep
	st := m.Steps[idx]

	cur, ok := c.commit(runID, func(next *mission.Mission) {
		next.Steps[idx].Status = mission.StepActive
		next.Status = mission.StatusExecuting
		next.AppendLog(mission.LogAction, fmt.Sprintf("Executing step %d/%d: %s", idx+1, len(next.Steps), st.Title))
	})
	if !ok {
		return false
	}

	res, err := c.gw.Execute(ctx, st, cur)
	if err != nil {
		c.fail(runID, fmt.Sprintf("Step %q failed: %v", st.Title, err))
		return false
	}

	if _, ok = c.commit(runID, func(next *mission.Mission) {
		next.LastOutput = res.Output
		if res.Artifact != nil {
			next.AppendArtifact(res.Artifact.Name, res.Artifact.Content, res.Artifact.Type)
			next.AppendLog(mission.LogSuccess, "Artifact recorded: "+res.Artifact.Name)
		} else {
			next.AppendLog(mission.LogSuccess, "Step output recorded")
		}
		next.Status = mission.StatusVerifying
	}); !ok {
		return false
	}

	verdict, err := c.gw.Verify(ctx, st, res.Output, m.Goal)
	if err != nil {
		c.fail(runID, fmt.Sprintf("Verification of %q failed: %v", st.Title, err))
		return false
	}

	if verdict.Passed {
		_, ok = c.commit(runID, func(next *mission.Mission) {
			next.AppendLog(mission.LogSuccess, "Step verified: "+st.Title)
			next.Steps[idx].Status = mission.StepCompleted
			next.CurrentStep = idx + 1
			next.Status = mission.StatusExecuting
		})
		return ok
	}

	attempts := st.Attempts
	if attempts >= mission.MaxRepairs {
		c.commit(runID, func(next *mission.Mission) {
			next.AppendLog(mission.LogError, fmt.Sprintf("Verification failed (attempt %d): %s", attempts+1, verdict.Feedback))
			next.AppendLog(mission.LogError, "Repair limit reached; mission failed")
			next.Status = mission.StatusFailed
		})
		return false
	}

	return c.repair(ctx, runID, idx, st, res, verdict)
}

// repair runs one bounded fix cycle. The fix output becomes context for the
// re-execution on the next pass; the step index does not advance.
func (c *Controller) repair(ctx context.Context, runID string, idx int, st mission.Step, res gateway.StepResult, verdict gateway.Verdict) bool {
	attempts := st.Attempts
	if _, ok := c.commit(runID, func(next *mission.Mission) {
		next.AppendLog(mission.LogError, "Verification failed: "+verdict.Feedback)
		next.AppendLog(mission.LogSystem, fmt.Sprintf("Attempting repair %d/%d", attempts+1, mission.MaxRepairs))
		next.Status = mission.StatusFixing
	}); !ok {
		return false
	}

	fixed, err := c.gw.Fix(ctx, st, res.Output, verdict.Feedback)
	if err != nil {
		c.fail(runID, fmt.Sprintf("Repair of %q failed: %v", st.Title, err))
		return false
	}

	_, ok := c.commit(runID, func(next *mission.Mission) {
		next.LastOutput = "[repair] " + fixed.Output
		if fixed.Artifact != nil {
			name := fmt.Sprintf("rev%d-%s", attempts+2, fixed.Artifact.Name)
			next.AppendArtifact(name, fixed.Artifact.Content, fixed.Artifact.Type)
			next.AppendLog(mission.LogSuccess, "Artifact recorded: "+name)
		}
		next.Steps[idx].Attempts = attempts + 1
		next.Steps[idx].Status = mission.StepFixing
		next.Status = mission.StatusRetrying
	})
	return ok
}

func (c *Controller) complete(runID string) {
	c.commit(runID, func(next *mission.Mission) {
		if len(next.Steps) == 0 {
			next.AppendLog(mission.LogSystem, "Planner returned no steps; nothing to do")
		}
		next.AppendLog(mission.LogSuccess, "Mission completed: "+next.Goal)
		next.Status = mission.StatusCompleted
	})
}

// fail logs the error into the mission and drives it FAILED. Like every
// write it is dropped if the mission has been reset meanwhile.
func (c *Controller) fail(runID, msg string) {
	logger.Log.Printf("[loop] mission %s: %s", runID, msg)
	c.commit(runID, func(next *mission.Mission) {
		next.AppendLog(mission.LogError, msg)
		next.Status = mission.StatusFailed
	})
}

// commit is the only write path of the loop. The cancellation check and the
// write are a single atomic operation under the store lock: if the live
// snapshot is IDLE or belongs to a different mission id, the write is
// dropped and commit reports false. Committed snapshots are persisted while
// the mission is live.
func (c *Controller) commit(runID string, fn func(*mission.Mission)) (mission.Mission, bool) {
	out, ok := c.store.Update(func(cur mission.Mission) (mission.Mission, bool) {
		if cur.ID != runID || cur.Status == mission.StatusIdle {
			return cur, false
		}
		next := cur.Clone()
		fn(&next)
		return next, true
	})
	if ok {
		c.save(out)
	}
	return out, ok
}

// save persists a committed snapshot. It runs after the store lock is
// released, so a reset (or a replacing start) may have landed in between;
// the live-snapshot re-check under persistMu drops a superseded save, and
// the mutex ordering guarantees that a reset's Clear always runs after any
// Save it raced with. An aborted mission can therefore never be
// resurrected from disk.
func (c *Controller) save(m mission.Mission) {
	if m.Status == mission.StatusIdle {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if cur := c.store.Snapshot(); cur.ID != m.ID {
		return
	}
	if err := c.persist.Save(m); err != nil {
		logger.Log.Printf("[loop] persist mission %s: %v", m.ID, err)
	}
}

// throttle spaces step iterations to avoid hammering the reasoning service.
func (c *Controller) throttle(ctx context.Context) bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Wait(ctx) == nil
}
