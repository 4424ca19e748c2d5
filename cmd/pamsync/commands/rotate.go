package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/pamsync/internal/config"
	pamerrors "github.com/systmms/pamsync/internal/errors"
	"github.com/systmms/pamsync/internal/hostinfo"
	"github.com/systmms/pamsync/internal/localpw"
	"github.com/systmms/pamsync/internal/pam360"
	"github.com/systmms/pamsync/internal/rotation"
)

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Generate, sync and apply new passwords for the target accounts",
		Long: `Run one full rotation: generate a fresh password per target account,
create or update this host's resource and accounts in PAM360, grant the
configured share, then apply the passwords locally via chpasswd.

The run exits non-zero only when a local password change fails (or on a
fatal error such as missing configuration); PAM360-side failures are
reported as warnings because the local credential has still been rotated.

Examples:
  # Normal scheduled run
  pamsync rotate

  # Show what would change without touching PAM360 or the host
  pamsync rotate --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(cfg, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Read-only run: no PAM360 writes, no local changes")

	return cmd
}

func runRotate(cfg *config.Config, dryRun bool) error {
	if err := cfg.Load(); err != nil {
		return err
	}
	settings := cfg.Settings
	logger := cfg.Logger

	hostname, err := hostinfo.Hostname()
	if err != nil {
		return pamerrors.UserError{
			Message: "Cannot determine this host's name",
			Details: err.Error(),
			Err:     err,
		}
	}
	address := hostinfo.OutboundIP()
	logger.Info("System: %s (%s)", hostname, address)

	client, err := pam360.NewClient(settings.PAMConfig())
	if err != nil {
		return err
	}

	var metrics *rotation.Metrics
	if settings.MetricsFile != "" {
		metrics = rotation.NewMetrics()
	}

	engine, err := rotation.NewEngine(rotation.Options{
		Server:                 client,
		Rotator:                localpw.NewChpasswdRotator(),
		Logger:                 logger,
		Metrics:                metrics,
		ResourceName:           hostname,
		NetworkAddress:         address,
		Accounts:               settings.Accounts,
		ResourceGroup:          settings.ResourceGroup,
		ShareUserID:            settings.Share.UserID,
		ShareAccessType:        settings.Share.AccessType,
		AccountShareAccessType: settings.Share.AccountAccessType,
		Reason:                 "Rotated by pamsync",
		DryRun:                 dryRun,
	})
	if err != nil {
		return err
	}

	result, err := engine.Run(context.Background())
	if err != nil {
		return err
	}

	result.Render(os.Stdout)

	if metrics != nil {
		if err := metrics.WriteTextfile(settings.MetricsFile); err != nil {
			logger.Warn("Cannot write metrics file %s: %v", settings.MetricsFile, err)
		}
	}

	if result.Failed() {
		return pamerrors.UserError{
			Message:    fmt.Sprintf("%d local password rotation(s) failed", result.LocalFailures()),
			Suggestion: "Check the account list and that pamsync runs as root; the summary above names the affected accounts",
		}
	}
	return nil
}
