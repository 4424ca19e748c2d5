package config

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"time"

	pamerrors "github.com/systmms/pamsync/internal/errors"
	"github.com/systmms/pamsync/internal/logging"
	"github.com/systmms/pamsync/internal/pam360"
	"github.com/systmms/pamsync/internal/token"
	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment says
// otherwise. The account list and group mirror the fleet-wide policy this
// tool was built for.
var defaultAccounts = []string{"root", "admin"}

const (
	defaultResourceGroup = "Linux Servers"
	defaultShareUserID   = "1"
	defaultTimeoutMs     = 30000
)

// Environment variables honored as overrides. PAM_URL and PAM_TOKEN are
// the names the fleet's unit files already export.
const (
	EnvServerURL     = "PAM_URL"
	EnvToken         = "PAM_TOKEN"
	EnvAccounts      = "PAM_TARGET_USERS"
	EnvResourceGroup = "PAM_RESOURCE_GROUP"
	EnvShareUserID   = "PAM_SHARE_USER_ID"
)

// Config holds the runtime configuration shared by all commands.
type Config struct {
	Path     string
	Logger   *logging.Logger
	Settings *Settings
}

// Settings is the immutable per-run configuration. It is constructed once
// by Load and passed by reference into every component; nothing reads
// ambient environment state after that.
type Settings struct {
	ServerURL     string        `yaml:"server_url"`
	Token         string        `yaml:"token"`
	Accounts      []string      `yaml:"accounts"`
	ResourceGroup string        `yaml:"resource_group"`
	Share         ShareSettings `yaml:"share"`
	TLS           TLSSettings   `yaml:"tls"`
	TimeoutMs     int           `yaml:"timeout_ms"`
	MetricsFile   string        `yaml:"metrics_file"`
	// Parallel is reserved; rotation is strictly sequential.
	Parallel bool `yaml:"parallel"`
}

// ShareSettings configures the post-sync access grant.
type ShareSettings struct {
	UserID     string `yaml:"user_id"`
	AccessType string `yaml:"access_type"`
	// AccountAccessType, when set, additionally grants this (typically
	// lower) level on each synced account.
	AccountAccessType string `yaml:"account_access_type"`
}

// TLSSettings configures transport security toward the PAM360 server.
type TLSSettings struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CACert             string `yaml:"ca_cert"`
}

// Load builds Settings from the config file (optional), the environment,
// and the OS keyring, in that precedence order for the token: environment,
// keyring, file. Missing server URL or token is fatal.
func (c *Config) Load() error {
	settings := &Settings{}

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		switch {
		case err == nil:
			if err := validateSchema(data); err != nil {
				return err
			}
			if err := yaml.Unmarshal(data, settings); err != nil {
				return pamerrors.ConfigError{
					Field:   "file",
					Value:   c.Path,
					Message: "invalid YAML: " + err.Error(),
				}
			}
		case os.IsNotExist(err):
			// Environment-only operation is supported; the default
			// path simply may not exist.
			c.Logger.Debug("config file %s not found, using environment and defaults", c.Path)
		default:
			return pamerrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}
	}

	applyEnvironment(settings)
	applyDefaults(settings)

	if settings.Token == "" {
		stored, err := token.Load()
		switch {
		case err == nil:
			settings.Token = stored
		case errors.Is(err, token.ErrNotFound):
			// fall through to validation, which reports it properly
		default:
			c.Logger.Debug("keyring unavailable: %v", err)
		}
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	c.Settings = settings
	return nil
}

func applyEnvironment(s *Settings) {
	if v := os.Getenv(EnvServerURL); v != "" {
		s.ServerURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		s.Token = v
	}
	if v := os.Getenv(EnvAccounts); v != "" {
		var accounts []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				accounts = append(accounts, name)
			}
		}
		s.Accounts = accounts
	}
	if v := os.Getenv(EnvResourceGroup); v != "" {
		s.ResourceGroup = v
	}
	if v := os.Getenv(EnvShareUserID); v != "" {
		s.Share.UserID = v
	}
}

func applyDefaults(s *Settings) {
	if len(s.Accounts) == 0 {
		s.Accounts = append([]string(nil), defaultAccounts...)
	}
	if s.ResourceGroup == "" {
		s.ResourceGroup = defaultResourceGroup
	}
	if s.Share.UserID == "" {
		s.Share.UserID = defaultShareUserID
	}
	if s.Share.AccessType == "" {
		s.Share.AccessType = pam360.AccessFullAccess
	}
	if s.TimeoutMs == 0 {
		s.TimeoutMs = defaultTimeoutMs
	}
}

// Validate enforces the fatal configuration rules from the error policy:
// a run with no server URL or no token must stop before any side effect.
func (s *Settings) Validate() error {
	if s.ServerURL == "" {
		return pamerrors.ConfigError{
			Field:      "server_url",
			Message:    "PAM360 server URL is required",
			Suggestion: "Set server_url in pamsync.yaml or export " + EnvServerURL,
		}
	}
	parsed, err := url.Parse(s.ServerURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return pamerrors.ConfigError{
			Field:      "server_url",
			Value:      s.ServerURL,
			Message:    "must be an http(s) URL",
			Suggestion: "Set server_url to e.g. https://pam.example.com:8282",
		}
	}
	if s.Token == "" {
		return pamerrors.ConfigError{
			Field:      "token",
			Message:    "PAM360 API token is required",
			Suggestion: "Export " + EnvToken + " or store the token with 'pamsync login'",
		}
	}
	if len(s.Accounts) == 0 {
		return pamerrors.ConfigError{
			Field:   "accounts",
			Message: "at least one target account is required",
		}
	}
	seen := make(map[string]bool, len(s.Accounts))
	for _, name := range s.Accounts {
		if seen[name] {
			return pamerrors.ConfigError{
				Field:   "accounts",
				Value:   name,
				Message: "duplicate target account",
			}
		}
		seen[name] = true
	}
	if !pam360.ValidAccessType(s.Share.AccessType) {
		return pamerrors.ConfigError{
			Field:      "share.access_type",
			Value:      s.Share.AccessType,
			Message:    "unknown access type",
			Suggestion: "Use one of: view, modify, fullaccess",
		}
	}
	if s.Share.AccountAccessType != "" && !pam360.ValidAccessType(s.Share.AccountAccessType) {
		return pamerrors.ConfigError{
			Field:      "share.account_access_type",
			Value:      s.Share.AccountAccessType,
			Message:    "unknown access type",
			Suggestion: "Use one of: view, modify, fullaccess",
		}
	}
	if s.TimeoutMs < 0 {
		return pamerrors.ConfigError{
			Field:   "timeout_ms",
			Value:   s.TimeoutMs,
			Message: "timeout must be positive",
		}
	}
	if s.Parallel {
		return pamerrors.ConfigError{
			Field:      "parallel",
			Value:      true,
			Message:    "parallel runs are reserved and not implemented",
			Suggestion: "Remove the parallel setting; rotation is strictly sequential",
		}
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// PAMConfig assembles the client configuration for the PAM360 server.
func (s *Settings) PAMConfig() pam360.Config {
	return pam360.Config{
		BaseURL:            s.ServerURL,
		Token:              s.Token,
		Timeout:            s.Timeout(),
		InsecureSkipVerify: s.TLS.InsecureSkipVerify,
		CACert:             s.TLS.CACert,
	}
}
