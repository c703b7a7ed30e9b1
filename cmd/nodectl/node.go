package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomorepassword/bclient/internal/client"
	"github.com/nomorepassword/bclient/internal/domain/model"
)

var level string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this node as the authority for its scope",
	Long: `Register this node with the broker. The most recent registration for a
scope wins; the previous authority is notified.

Examples:
  nodectl register --domain d1 --node-id n1 --ip 10.0.0.5 --port 9000
  nodectl register --level cluster --domain d1 --cluster c1 --node-id n1 --ip 10.0.0.5 --port 9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nodeID == "" || domainID == "" {
			return fmt.Errorf("--node-id and --domain are required")
		}
		resp, err := newClient().RegisterNode(cmd.Context(), client.Registration{
			Level:   model.NodeLevel(level),
			Scope:   scope(),
			NodeID:  nodeID,
			Address: address(),
		})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <domain|cluster|channel>",
	Short: "Resolve the authoritative node for a scope",
	Long: `Resolve the authoritative node for a scope. Cluster and channel
authorities are elected on first use.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"domain", "cluster", "channel"},
	RunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := model.ParseNodeLevel(args[0])
		if err != nil {
			return err
		}
		resp, err := newClient().ForwardToScope(cmd.Context(), client.Registration{
			Level:   lvl,
			Scope:   scope(),
			NodeID:  nodeID,
			Address: address(),
		})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

var mainNodeCmd = &cobra.Command{
	Use:   "main-node",
	Short: "Show the authoritative nodes for a scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().MainNode(cmd.Context(), scope())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

var (
	oldNodeID string
	reason    string
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Hand domain authority to another node",
	Long: `Hand domain authority to the node given by --node-id, --ip and --port.
The old node receives an authority_transferred message in its mailbox.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nodeID == "" || domainID == "" {
			return fmt.Errorf("--node-id and --domain are required")
		}
		resp, err := newClient().Transfer(cmd.Context(), domainID, oldNodeID, nodeID, address(), reason)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List pending mailbox messages for a node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nodeID == "" {
			return fmt.Errorf("--node-id is required")
		}
		c := newClient()
		msgs, err := c.PendingMessages(cmd.Context(), nodeID)
		if err != nil {
			return err
		}
		if ackAll {
			for _, m := range msgs {
				if err := c.AckMessage(cmd.Context(), m.MessageID); err != nil {
					return fmt.Errorf("ack %s: %w", m.MessageID, err)
				}
			}
		}
		return printResult(cmd.OutOrStdout(), msgs)
	},
}

var ackAll bool

func init() {
	for _, c := range []*cobra.Command{registerCmd, resolveCmd, mainNodeCmd, transferCmd, messagesCmd} {
		addScopeFlags(c)
		rootCmd.AddCommand(c)
	}
	registerCmd.Flags().StringVar(&level, "level", "domain", "Level to register at (domain, cluster, channel)")
	transferCmd.Flags().StringVar(&oldNodeID, "from", "", "Node currently holding authority")
	transferCmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the notification")
	messagesCmd.Flags().BoolVar(&ackAll, "ack", false, "Acknowledge every listed message")
}
