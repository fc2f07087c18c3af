// Package cli hosts the cobra commands: an interactive shell (default) and a
// one-shot run command. The shell is the external trigger of the execution
// loop: free text starts a mission, `abort` resets it.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"missionctl/internal/display"
	"missionctl/internal/listener"
	"missionctl/internal/loop"
	"missionctl/internal/mission"
)

var ctrl *loop.Controller

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Drive a goal to completion through plan, execute, verify and repair",
	Long:  `missionctl decomposes a goal into steps, executes them one by one, verifies each result against the goal and repairs failures a bounded number of times.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := listener.Init(); err != nil {
			fmt.Println("Failed to init terminal input:", err)
			os.Exit(1)
		}
		defer listener.Close()

		ctrl.Resume()
		if m := ctrl.Snapshot(); m.Status != mission.StatusIdle {
			listener.AsyncPrintln(display.FormatStatus(m))
		}

		shellCtx, stop := context.WithCancel(context.Background())
		defer stop()
		g, ctx := errgroup.WithContext(shellCtx)
		g.Go(func() error { return watchSnapshots(ctx) })
		g.Go(func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			select {
			case <-c:
				fmt.Println("\nGoodbye!")
				os.Exit(0)
			case <-ctx.Done():
			}
			return nil
		})
		g.Go(func() error {
			listener.AsyncPrintln("Type a goal to start a mission. Commands: status, log, artifacts, export [path], abort, exit")
			inputLoop()
			stop()
			return nil
		})
		_ = g.Wait()
	},
}

func inputLoop() {
	for {
		input := listener.GetInput()
		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return
		case "status":
			listener.AsyncPrintln(display.FormatStatus(ctrl.Snapshot()))
		case "log":
			listener.AsyncPrintln(display.FormatLogs(ctrl.Snapshot(), 20))
		case "artifacts":
			listener.AsyncPrintln(display.FormatArtifacts(ctrl.Snapshot()))
		case "export":
			path := "mission-export.txt"
			if len(fields) > 1 {
				path = fields[1]
			}
			if err := os.WriteFile(path, []byte(display.Export(ctrl.Snapshot())), 0o644); err != nil {
				listener.AsyncPrintln(fmt.Sprintf("[Export FAILED] %v", err))
			} else {
				listener.AsyncPrintln("Exported to " + path)
			}
		case "abort":
			ctrl.ResetMission()
			listener.AsyncPrintln("Mission aborted.")
		default:
			startGoal(input)
		}
	}
}

func startGoal(goal string) {
	if cur := ctrl.Snapshot(); cur.Status.Runnable() {
		if !listener.AskYesNo(fmt.Sprintf("Mission %s is still running. Abort it and start a new one?", cur.ID)) {
			return
		}
		ctrl.ResetMission()
	}
	id := ctrl.StartMission(goal)
	if id == "" {
		return
	}
	listener.AsyncPrintln(fmt.Sprintf("[Mission %s STARTED]", id))
}

// watchSnapshots prints status transitions above the prompt, one line per
// change, plus a closing summary on terminal states.
func watchSnapshots(ctx context.Context) error {
	updates, cancel := ctrl.Subscribe()
	defer cancel()

	last := ctrl.Snapshot().Status
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-updates:
			if !ok {
				return nil
			}
			if m.Status == last {
				continue
			}
			last = m.Status
			switch m.Status {
			case mission.StatusCompleted:
				listener.AsyncPrintln(fmt.Sprintf("[Mission %s COMPLETED]", m.ID))
				listener.AsyncPrintln(display.FormatTimeline(m))
			case mission.StatusFailed:
				listener.AsyncPrintln(fmt.Sprintf("[Mission %s FAILED]", m.ID))
				listener.AsyncPrintln(display.FormatLogs(m, 5))
			case mission.StatusIdle:
				// reset; stay quiet
			default:
				listener.AsyncPrintln(fmt.Sprintf("[Mission %s] %s", m.ID, m.Status))
			}
		}
	}
}

// Execute wires the controller into the command tree and runs it.
func Execute(c *loop.Controller) {
	ctrl = c
	rootCmd.AddCommand(runCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
