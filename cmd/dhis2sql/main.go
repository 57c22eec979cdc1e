// Command dhis2sql queries DHIS2 servers with SQL, serves the HTTP
// gateway and manages the connection catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/internal/app"
	"github.com/hmis-ug/dhis2sql/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Persistent flags.
var (
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
	logFormat  string
)

var logger = logrus.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "dhis2sql",
	Short:         "SQL over DHIS2 analytics",
	Long:          "Run SQL against DHIS2 analytics and data value sets, serve org-unit boundaries as GeoJSON and expose both over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dhis2sql %s (commit %s, %s %s/%s)\n",
			version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&envFile, "env-file", ".env", "Environment file loaded before DHIS2SQL_* variables are read")
	flags.StringVar(&dataDir, "data-dir", "", "Base directory for the catalog and boundary archive")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	logger.SetOutput(os.Stderr)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(boundariesCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(uriCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(datasetsCmd)
}

// loadConfig layers defaults, the config file, the env file, DHIS2SQL_*
// variables and flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.ConfigureLogger(logger); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and opens the shared resources without
// starting the gateway.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Open(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}

// resolveDatabase picks the --database id, or the configured connection.
func resolveDatabase(a *app.App, id int64) (int64, error) {
	if id > 0 {
		return id, nil
	}
	if def := a.DefaultDatabaseID(); def > 0 {
		return def, nil
	}
	return 0, fmt.Errorf("no database selected: pass --database or configure a connection")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
