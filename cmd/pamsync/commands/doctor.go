package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/pamsync/internal/config"
	"github.com/systmms/pamsync/internal/pam360"
	"github.com/systmms/pamsync/internal/token"
)

// checkResult is one row in the doctor report.
type checkResult struct {
	Name    string
	Status  string
	Message string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, dependencies and PAM360 connectivity",
		Long: `Verify that a rotation run would have everything it needs.

This command checks:
- Configuration file validity (including the API token)
- chpasswd availability for local rotation
- PAM360 reachability with the configured token
- OS keyring availability for token storage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cfg)
		},
	}

	return cmd
}

func runDoctor(cfg *config.Config) error {
	logger := cfg.Logger
	results := make([]checkResult, 0, 4)

	logger.Info("Checking pamsync configuration...")
	loadErr := cfg.Load()
	if loadErr != nil {
		results = append(results, checkResult{"configuration", "error", loadErr.Error()})
	} else {
		results = append(results, checkResult{"configuration", "ok", "loaded and valid"})
	}

	if path, err := exec.LookPath("chpasswd"); err != nil {
		results = append(results, checkResult{"chpasswd", "error", "not found in PATH; local rotation would fail"})
	} else {
		results = append(results, checkResult{"chpasswd", "ok", path})
	}

	if loadErr == nil {
		client, err := pam360.NewClient(cfg.Settings.PAMConfig())
		if err != nil {
			results = append(results, checkResult{"pam360", "error", err.Error()})
		} else if _, err := client.ListResources(context.Background()); err != nil {
			results = append(results, checkResult{"pam360", "error", err.Error()})
		} else {
			results = append(results, checkResult{"pam360", "ok", "resource listing succeeded"})
		}
	} else {
		results = append(results, checkResult{"pam360", "skipped", "configuration failed to load"})
	}

	switch _, err := token.Load(); {
	case err == nil:
		results = append(results, checkResult{"keyring", "ok", "token present"})
	case errors.Is(err, token.ErrNotFound):
		results = append(results, checkResult{"keyring", "ok", "available, no stored token"})
	default:
		results = append(results, checkResult{"keyring", "warn", "unavailable (headless host?); use " + config.EnvToken + " instead"})
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
	failures := 0
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status, r.Message)
		if r.Status == "error" {
			failures++
		}
	}
	tw.Flush()

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	logger.Info("All checks passed")
	return nil
}
