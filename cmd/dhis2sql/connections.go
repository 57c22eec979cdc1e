package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

type uriFlags struct {
	baseURL  string
	user     string
	password string
	token    string
	timeout  time.Duration
}

var uriOpts uriFlags

// uriCmd builds a dhis2:// connection string from its parts.
var uriCmd = &cobra.Command{
	Use:   "uri",
	Short: "Build a dhis2:// connection string",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connectionFromFlags()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dhis2.BuildURI(conn))
		return nil
	},
}

func connectionFromFlags() (types.Connection, error) {
	conn := types.Connection{
		BaseURL:  uriOpts.baseURL,
		AuthMode: types.AuthBasic,
		Username: uriOpts.user,
		Password: uriOpts.password,
		Timeout:  uriOpts.timeout,
	}
	if uriOpts.token != "" {
		conn.AuthMode = types.AuthToken
		conn.Token = uriOpts.token
		conn.Username, conn.Password = "", ""
	}
	if err := conn.Validate(); err != nil {
		return types.Connection{}, err
	}
	return conn, nil
}

// testConnectionCmd checks that a DHIS2 server accepts the credentials.
var testConnectionCmd = &cobra.Command{
	Use:   "test-connection [uri]",
	Short: "Check a dhis2:// connection string against the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		conn, err := dhis2.ParseURI(args[0])
		if err != nil {
			return err
		}
		if err := dhis2.TestConnection(cmd.Context(), conn, dhis2.WithLogger(logger)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", conn.APIBase())
		return nil
	},
}

// connectionsCmd manages the connections stored in the catalog.
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage stored DHIS2 connections",
}

var addConnectionCmd = &cobra.Command{
	Use:   "add [name] [uri]",
	Short: "Store a connection under a name",
	Long:  `Store a connection, replacing any connection with the same name. The server is checked first unless --no-check is set.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := dhis2.ParseURI(args[1])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if noCheck, _ := cmd.Flags().GetBool("no-check"); !noCheck {
			if err := dhis2.TestConnection(cmd.Context(), conn, dhis2.WithLogger(logger)); err != nil {
				return err
			}
		}
		id, err := a.Catalog().PutConnection(cmd.Context(), args[0], conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %q as database %d\n", args[0], id)
		return nil
	},
}

var listConnectionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		dbs, err := a.Catalog().ListConnections(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tURL\tAUTH")
		for _, db := range dbs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", db.ID, db.Name, db.Connection.APIBase(), db.Connection.Mode())
		}
		return tw.Flush()
	},
}

var deleteConnectionCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a stored connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscan(args[0], &id); err != nil {
			return fmt.Errorf("invalid database id %q", args[0])
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		// Cached boundaries of id are dropped by the catalog watcher.
		return a.Catalog().DeleteConnection(cmd.Context(), id)
	},
}

func init() {
	f := uriCmd.Flags()
	f.StringVar(&uriOpts.baseURL, "base-url", "", "DHIS2 server URL")
	f.StringVar(&uriOpts.user, "user", "", "Username for basic auth")
	f.StringVar(&uriOpts.password, "password", "", "Password for basic auth")
	f.StringVar(&uriOpts.token, "token", "", "Personal access token")
	f.DurationVar(&uriOpts.timeout, "timeout", 0, "Request timeout")

	addConnectionCmd.Flags().Bool("no-check", false, "Store without contacting the server")
	connectionsCmd.AddCommand(addConnectionCmd)
	connectionsCmd.AddCommand(listConnectionsCmd)
	connectionsCmd.AddCommand(deleteConnectionCmd)
}
