package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomorepassword/bclient/internal/client"
)

var interval time.Duration

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send one heartbeat and print the authority snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nodeID == "" {
			return fmt.Errorf("--node-id is required")
		}
		resp, err := newClient().Heartbeat(cmd.Context(), nodeID, "online", scope())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Heartbeat periodically and report connectivity changes",
	Long: `Heartbeat the broker every --interval until interrupted. Each change of
connectivity is printed; transient failures keep the last known snapshot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nodeID == "" {
			return fmt.Errorf("--node-id is required")
		}
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", interval)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := client.NewMonitor(newClient(), nodeID, scope(), interval, logger())
		out := cmd.OutOrStdout()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev *client.State
		for {
			st := m.Check(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if prev == nil || prev.Connected != st.Connected || prev.Known != st.Known || prev.BrokerID != st.BrokerID {
				if err := printResult(out, stateView(st)); err != nil {
					return err
				}
			}
			prev = &st

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

type monitorView struct {
	Connected       bool   `json:"connected"`
	BrokerID        string `json:"broker_id,omitempty"`
	Known           bool   `json:"known"`
	LastError       string `json:"last_error,omitempty"`
	Failures        int    `json:"consecutive_failures"`
	PendingMessages int    `json:"pending_messages"`
	CheckedAt       string `json:"checked_at"`
	Snapshot        any    `json:"snapshot,omitempty"`
}

func stateView(s client.State) monitorView {
	v := monitorView{
		Connected:       s.Connected,
		BrokerID:        s.BrokerID,
		Known:           s.Known,
		LastError:       s.LastError,
		Failures:        s.ConsecutiveFailures,
		PendingMessages: s.PendingMessages,
		CheckedAt:       s.CheckedAt.UTC().Format(time.RFC3339),
	}
	if s.LastSnapshot != nil {
		v.Snapshot = s.LastSnapshot
	}
	return v
}

func init() {
	for _, c := range []*cobra.Command{heartbeatCmd, monitorCmd} {
		addScopeFlags(c)
		rootCmd.AddCommand(c)
	}
	monitorCmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Heartbeat interval")
}
