package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mmuslimabdulj/goat-space/internal/config"
)

// cliOptions are the flags shared by every command
type cliOptions struct {
	configPath string
	envFile    string
	port       string
}

// load resolves the configuration: defaults, config file, env file, environment, then flags
func (o *cliOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.port != "" {
		cfg.Port = o.port
	}
	return cfg, nil
}

func main() {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "goat-space",
		Short: "goat-space - real-time presence and routing hub",
		Long: `A WebSocket hub for shared spatial/audio spaces.

Clients publish their presence (position, name, status) and subscribe to
each other's data through a directed listening graph. The hub:
  - Broadcasts presence changes to every participant
  - Routes data payloads to the participants listening to the sender
  - Pings every connection on a heartbeat
  - Snapshots presence to disk (CSV or SQLite)
  - Relays server logs to monitoring dashboards`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file (ignored if missing)")
	rootCmd.PersistentFlags().StringVarP(&opts.port, "port", "p", "", "Port to listen on (overrides config and PORT)")

	rootCmd.AddCommand(createServeCmd(opts))
	rootCmd.AddCommand(createStatusCmd(opts))
	rootCmd.AddCommand(createSnapshotCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ Error: %v\n", err)
		os.Exit(1)
	}
}
