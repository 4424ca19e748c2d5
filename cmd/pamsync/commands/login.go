package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/systmms/pamsync/internal/config"
	pamerrors "github.com/systmms/pamsync/internal/errors"
	"github.com/systmms/pamsync/internal/token"
)

func NewLoginCommand(cfg *config.Config) *cobra.Command {
	var deleteToken bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the PAM360 API token in the system keyring",
		Long: `Save the PAM360 REST API token in the operating system keyring so it
does not have to live in the config file or a unit file.

The token is read from a hidden prompt, or from stdin when piped:

  pamsync login
  echo "$TOKEN" | pamsync login

On hosts without a keyring daemon, set ` + config.EnvToken + ` instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteToken {
				return runLogout(cfg)
			}
			return runLogin(cfg)
		},
	}

	cmd.Flags().BoolVar(&deleteToken, "delete", false, "Remove the stored token from the keyring")

	return cmd
}

func runLogin(cfg *config.Config) error {
	value, err := readToken()
	if err != nil {
		return err
	}
	if value == "" {
		return pamerrors.UserError{
			Message:    "No token provided",
			Suggestion: "Paste the PAM360 REST API token at the prompt, or pipe it on stdin",
		}
	}

	if err := token.Store(value); err != nil {
		return pamerrors.UserError{
			Message:    "Cannot store the token in the system keyring",
			Details:    err.Error(),
			Suggestion: "On headless hosts without a keyring daemon, set " + config.EnvToken + " or use the config file",
			Err:        err,
		}
	}

	cfg.Logger.Info("Token stored in the system keyring")
	return nil
}

func runLogout(cfg *config.Config) error {
	if err := token.Delete(); err != nil {
		return pamerrors.UserError{
			Message: "Cannot remove the token from the system keyring",
			Details: err.Error(),
			Err:     err,
		}
	}
	cfg.Logger.Info("Token removed from the system keyring")
	return nil
}

// readToken prompts without echo when stdin is a terminal, otherwise
// reads one line from stdin so the token can be piped in.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "PAM360 API token: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
