package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"missionctl/internal/display"
	"missionctl/internal/mission"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Drive a single mission to a terminal state and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := args[0]

		updates, cancel := ctrl.Subscribe()
		defer cancel()

		id := ctrl.StartMission(goal)
		if id == "" {
			return fmt.Errorf("goal must not be blank")
		}
		fmt.Printf("Mission %s started\n", id)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		// Slow subscribers can drop updates, so a ticker re-reads the
		// snapshot as a fallback; the terminal state is never missed.
		tick := time.NewTicker(500 * time.Millisecond)
		defer tick.Stop()

		for {
			var m mission.Mission
			select {
			case <-sig:
				ctrl.ResetMission()
				return fmt.Errorf("mission %s aborted", id)
			case u, ok := <-updates:
				if !ok {
					return nil
				}
				m = u
			case <-tick.C:
				m = ctrl.Snapshot()
			}
			if m.ID != id || !m.Status.Terminal() {
				continue
			}
			fmt.Println(display.FormatLogs(m, 0))
			fmt.Println(display.FormatTimeline(m))
			fmt.Println(display.Export(m))
			if m.Status == mission.StatusFailed {
				return fmt.Errorf("mission %s failed", id)
			}
			fmt.Printf("Mission %s completed\n", id)
			return nil
		}
	},
}
