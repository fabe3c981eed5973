package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	httpHandler "github.com/mmuslimabdulj/goat-space/internal/delivery/http"
	"github.com/mmuslimabdulj/goat-space/internal/persistence"
)

func createStatusCmd(opts *cliOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the health of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				addr = "http://localhost:" + cfg.Port
			}
			return printStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Base URL of the server (default http://localhost:<port>)")
	return cmd
}

func printStatus(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/healthz")
	if err != nil {
		return fmt.Errorf("server is not running at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var health httpHandler.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("unexpected response from %s: %w", addr, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server at %s is %s (HTTP %d)", addr, health.Status, resp.StatusCode)
	}

	color.Green("✓ Server is running at %s", addr)
	fmt.Printf("  Users:       %d\n", health.NumUsers)
	fmt.Printf("  Connections: %d\n", health.Connections)
	if health.LastSaveTime != nil {
		fmt.Printf("  Last save:   %s\n", health.LastSaveTime.Format(time.RFC3339))
	} else {
		color.Yellow("  Last save:   never")
	}
	return nil
}

func createSnapshotCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the last saved presence snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			store, err := persistence.Open(cfg.SnapshotBackend, cfg.SnapshotPath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Load()
			if err != nil {
				return fmt.Errorf("failed to load snapshot: %w", err)
			}
			if len(records) == 0 {
				color.Yellow("No records in %s snapshot %s", cfg.SnapshotBackend, cfg.SnapshotPath)
				return nil
			}

			color.Cyan("%d records in %s snapshot %s", len(records), cfg.SnapshotBackend, cfg.SnapshotPath)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPOSITION\tAFK\tLISTENING")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t(%.2f, %.2f, %.2f)\t%t\t%d\n",
					r.ID, r.DisplayName, r.Position.TX, r.Position.TY, r.Position.TZ, r.AFK, len(r.ListeningTo))
			}
			return w.Flush()
		},
	}
}
