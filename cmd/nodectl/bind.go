package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomorepassword/bclient/internal/client"
	"github.com/nomorepassword/bclient/internal/domain/model"
)

var (
	userID      string
	userName    string
	site        string
	account     string
	password    string
	autoRefresh bool
	operation   string
)

var operations = map[string]model.Operation{
	"auto-register": model.OpAutoRegister,
	"bind":          model.OpBindExistingUser,
	"clear":         model.OpClearCookies,
}

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Obtain, refresh or clear a target-site session for a user",
	Long: `Send a bind request for --user.

Operations:
  auto-register  create an account on the target site and log in
  bind           log in with --account/--password or stored credentials
  clear          remove the user's stored sessions

Examples:
  nodectl bind --user u1 --site site-A --account traveller1 --password 'Password1!'
  nodectl bind --op clear --user u1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		op, ok := operations[operation]
		if !ok {
			return fmt.Errorf("unknown operation %q", operation)
		}
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		res, err := newClient().Bind(cmd.Context(), client.BindParams{
			SiteKey:     site,
			UserID:      userID,
			UserName:    userName,
			NodeID:      nodeID,
			Operation:   op,
			AutoRefresh: autoRefresh,
			Account:     account,
			Password:    password,
			Callback:    address(),
		})
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s: %s", res.ErrorType, res.Error)
		}
		return nil
	},
}

var queryCookieCmd = &cobra.Command{
	Use:   "query-cookie",
	Short: "Ask whether a user has a stored session",
	Long: `Ask the broker whether --user has a stored session. When one exists the
broker pushes it to --ip/--port.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		resp, err := newClient().QueryCookie(cmd.Context(), userID, address())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), resp)
	},
}

func init() {
	for _, c := range []*cobra.Command{bindCmd, queryCookieCmd} {
		f := c.Flags()
		f.StringVar(&userID, "user", "", "User id")
		f.StringVar(&ipAddress, "ip", "", "Callback address of the client API")
		f.IntVar(&port, "port", 0, "Callback port of the client API")
		rootCmd.AddCommand(c)
	}
	f := bindCmd.Flags()
	f.StringVar(&operation, "op", "bind", "Operation (auto-register, bind, clear)")
	f.StringVar(&userName, "username", "", "User display name")
	f.StringVar(&site, "site", "", "Target site name or domain")
	f.StringVar(&account, "account", "", "Target-site account")
	f.StringVar(&password, "password", "", "Target-site password")
	f.StringVar(&nodeID, "node-id", "", "Requesting node id")
	f.BoolVar(&autoRefresh, "auto-refresh", false, "Keep the session refreshed")
}
