package rotation

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/systmms/pamsync/internal/localpw"
	"github.com/systmms/pamsync/internal/logging"
	"github.com/systmms/pamsync/internal/pam360"
	"github.com/systmms/pamsync/internal/password"
	"github.com/systmms/pamsync/internal/secure"
)

// Server is the slice of the PAM360 API one rotation run needs. The
// concrete implementation is pam360.Client; tests substitute a fake.
type Server interface {
	ListResources(ctx context.Context) ([]pam360.Resource, error)
	GetResourceIDByName(ctx context.Context, name string) (pam360.ID, error)
	CreateResource(ctx context.Context, req pam360.CreateResourceRequest) (string, error)
	ListAccounts(ctx context.Context, resourceID pam360.ID) ([]pam360.Account, error)
	CreateAccount(ctx context.Context, resourceID pam360.ID, name, password string) error
	UpdateAccountPassword(ctx context.Context, resourceID, accountID pam360.ID, password, reason string) error
	ShareResource(ctx context.Context, resourceID pam360.ID, userID, accessType string) error
	ShareAccount(ctx context.Context, resourceID, accountID pam360.ID, userID, accessType string) error
}

// Options configures one rotation run.
type Options struct {
	Server    Server
	Rotator   localpw.Rotator
	Generator *password.Generator
	Logger    *logging.Logger
	Metrics   *Metrics // optional

	// ResourceName keys the host's resource on the server; it must be
	// stable across runs (the hostname).
	ResourceName string
	// NetworkAddress is informational, recorded on resource creation.
	NetworkAddress string
	Accounts       []string
	ResourceGroup  string

	ShareUserID     string
	ShareAccessType string
	// AccountShareAccessType, when non-empty, additionally grants this
	// level on each account individually.
	AccountShareAccessType string

	// Reason is recorded with password updates on the server.
	Reason string

	// DryRun restricts the run to read-only server calls and no local
	// changes.
	DryRun bool
}

// Engine executes the rotation sequence: generate, resolve the resource,
// sync accounts, share, rotate locally, aggregate. Strictly sequential;
// each remote call is attempted once and classified at the call site.
type Engine struct {
	opts  Options
	vault *secure.Vault
}

// NewEngine validates opts and builds an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Server == nil {
		return nil, fmt.Errorf("rotation: server client is required")
	}
	if opts.Rotator == nil {
		return nil, fmt.Errorf("rotation: local rotator is required")
	}
	if opts.Generator == nil {
		opts.Generator = password.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewWithWriter(io.Discard, false, true)
	}
	if opts.ResourceName == "" {
		return nil, fmt.Errorf("rotation: resource name is required")
	}
	if len(opts.Accounts) == 0 {
		return nil, fmt.Errorf("rotation: at least one target account is required")
	}
	return &Engine{opts: opts, vault: secure.NewVault()}, nil
}

// Run executes the whole sequence. The returned error is only ever a
// fatal, run-aborting condition (entropy failure, undeterminable resource
// state, unresolvable resource id). Per-account failures land in the
// RunResult instead and the run continues past them.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	defer e.vault.Destroy()

	result := &RunResult{
		ResourceName: e.opts.ResourceName,
		DryRun:       e.opts.DryRun,
		Share:        OutcomeSkipped,
	}

	if err := e.generate(); err != nil {
		return nil, err
	}

	if err := e.resolveResource(ctx, result); err != nil {
		return nil, err
	}

	if result.ResourceID != "" {
		e.syncAccounts(ctx, result)
		e.shareAccess(ctx, result)
	}

	e.rotateLocal(ctx, result)

	result.Duration = time.Since(start)
	if e.opts.Metrics != nil {
		e.opts.Metrics.Observe(result)
	}
	return result, nil
}

// generate fills the vault with one fresh password per target account
// before any network call happens. Entropy trouble aborts the run; a weak
// fallback source is never an option.
func (e *Engine) generate() error {
	e.opts.Logger.Info("Generating passwords for %d target accounts", len(e.opts.Accounts))
	for _, name := range e.opts.Accounts {
		pw, err := e.opts.Generator.Generate()
		if err != nil {
			return err
		}
		e.vault.Put(name, []byte(pw))
		e.opts.Logger.Debug("Generated password for %s: %s", name, logging.Secret(pw))
	}
	return nil
}

// resolveResource finds the host's resource by exact name, creating it
// (with the first target account bundled in) when absent. A lookup failure
// is fatal: creating blindly could duplicate the resource.
func (e *Engine) resolveResource(ctx context.Context, result *RunResult) error {
	logger := e.opts.Logger
	name := e.opts.ResourceName

	logger.Info("Checking if resource '%s' exists on the server...", name)
	resources, err := e.opts.Server.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("cannot determine whether resource %q exists: %w", name, err)
	}

	for _, r := range resources {
		if r.Name == name {
			result.ResourceID = r.ID
			result.State = ResourceExisting
			logger.Info("Resource found (ID: %s)", r.ID)
			return nil
		}
	}

	if e.opts.DryRun {
		logger.Info("Resource '%s' not found; a real run would create it with account '%s' bundled", name, e.opts.Accounts[0])
		result.State = ResourceCreated
		for _, account := range e.opts.Accounts {
			result.Accounts = append(result.Accounts, AccountResult{
				Name:    account,
				PAMSync: OutcomeSkipped,
				PAMNote: "dry run: would create",
			})
		}
		return nil
	}

	logger.Info("Resource '%s' not found. Creating...", name)
	first := e.opts.Accounts[0]
	var message string
	err = e.vault.Use(first, func(pw string) error {
		var createErr error
		message, createErr = e.opts.Server.CreateResource(ctx, pam360.CreateResourceRequest{
			ResourceName:           name,
			AccountName:            first,
			ResourceType:           pam360.ResourceTypeLinux,
			Password:               pw,
			DNSName:                e.opts.NetworkAddress,
			ResourcePasswordPolicy: pam360.PolicyStrong,
			AccountPasswordPolicy:  pam360.PolicyStrong,
			ResourceGroupName:      e.opts.ResourceGroup,
		})
		return createErr
	})
	if err != nil {
		// The server may still have created the resource; the
		// re-resolution below is authoritative either way.
		logger.Warn("Resource creation reported: %v", err)
	} else if message != "" {
		logger.Info("Resource creation: %s", message)
	}

	// Creation responses do not reliably carry the new id.
	id, err := e.opts.Server.GetResourceIDByName(ctx, name)
	if err != nil {
		return fmt.Errorf("resolve resource id after creation: %w", err)
	}
	if id == "" {
		return fmt.Errorf("resource %q has no id after creation attempt", name)
	}

	logger.Info("New resource ID: %s", id)
	result.ResourceID = id
	result.State = ResourceCreated
	return nil
}

// syncAccounts ensures the server holds every target account with its
// fresh password. One list call serves all targets; duplicates in the
// remote list resolve to the first match. Per-account failures are
// warnings and the loop continues.
func (e *Engine) syncAccounts(ctx context.Context, result *RunResult) {
	logger := e.opts.Logger

	existing, err := e.opts.Server.ListAccounts(ctx, result.ResourceID)
	if err != nil {
		logger.Warn("Cannot list accounts under resource %s: %v", result.ResourceID, err)
		for i, name := range e.opts.Accounts {
			if result.State == ResourceCreated && i == 0 {
				result.Accounts = append(result.Accounts, AccountResult{
					Name:    name,
					PAMSync: OutcomeSucceeded,
					PAMNote: "created with resource",
				})
				continue
			}
			result.Accounts = append(result.Accounts, AccountResult{
				Name:    name,
				PAMSync: OutcomeFailed,
				PAMNote: "account listing failed",
			})
		}
		return
	}

	// First match wins when the remote list holds duplicate names.
	index := make(map[string]pam360.ID, len(existing))
	for _, acc := range existing {
		if _, seen := index[acc.Name]; !seen {
			index[acc.Name] = acc.ID
		}
	}

	for i, name := range e.opts.Accounts {
		// The bundled account was created together with the resource;
		// touching it again would duplicate or spuriously update it.
		if result.State == ResourceCreated && i == 0 {
			logger.Info("Account '%s' was bundled into the resource creation, skipping sync", name)
			result.Accounts = append(result.Accounts, AccountResult{
				Name:    name,
				PAMSync: OutcomeSucceeded,
				PAMNote: "created with resource",
			})
			continue
		}

		accountID, exists := index[name]
		var res AccountResult
		res.Name = name

		switch {
		case e.opts.DryRun && exists:
			res.PAMSync = OutcomeSkipped
			res.PAMNote = "dry run: would update"
		case e.opts.DryRun:
			res.PAMSync = OutcomeSkipped
			res.PAMNote = "dry run: would create"
		case exists:
			logger.Info("Updating password for account '%s' (ID: %s)...", name, accountID)
			err := e.vault.Use(name, func(pw string) error {
				return e.opts.Server.UpdateAccountPassword(ctx, result.ResourceID, accountID, pw, e.opts.Reason)
			})
			if err != nil {
				logger.Warn("Password update for '%s' failed: %v", name, err)
				res.PAMSync = OutcomeFailed
				res.PAMNote = "update failed"
			} else {
				logger.Info("Password updated for '%s'", name)
				res.PAMSync = OutcomeSucceeded
				res.PAMNote = "updated"
			}
		default:
			logger.Info("Account '%s' not found. Creating...", name)
			err := e.vault.Use(name, func(pw string) error {
				return e.opts.Server.CreateAccount(ctx, result.ResourceID, name, pw)
			})
			if err != nil {
				logger.Warn("Account creation for '%s' failed: %v", name, err)
				res.PAMSync = OutcomeFailed
				res.PAMNote = "create failed"
			} else {
				logger.Info("Account '%s' created", name)
				res.PAMSync = OutcomeSucceeded
				res.PAMNote = "created"
			}
		}
		result.Accounts = append(result.Accounts, res)
	}
}

// shareAccess grants the configured principal access on the resource and,
// when configured, on each account. Grants upsert server-side so no
// existence check happens first; failures are warnings only because the
// credentials themselves have already been rotated correctly.
func (e *Engine) shareAccess(ctx context.Context, result *RunResult) {
	logger := e.opts.Logger

	if e.opts.ShareUserID == "" {
		result.Share = OutcomeSkipped
		result.ShareNote = "no share principal configured"
		return
	}
	if e.opts.DryRun {
		result.Share = OutcomeSkipped
		result.ShareNote = "dry run"
		return
	}

	logger.Info("Sharing resource %s with user ID %s (%s)...", result.ResourceID, e.opts.ShareUserID, e.opts.ShareAccessType)
	if err := e.opts.Server.ShareResource(ctx, result.ResourceID, e.opts.ShareUserID, e.opts.ShareAccessType); err != nil {
		logger.Warn("Resource share failed: %v", err)
		result.Share = OutcomeFailed
		result.ShareNote = err.Error()
	} else {
		result.Share = OutcomeSucceeded
	}

	if e.opts.AccountShareAccessType == "" {
		return
	}

	// Accounts created earlier in this run only have ids in a fresh
	// listing, so fetch once more before the per-account grants.
	accounts, err := e.opts.Server.ListAccounts(ctx, result.ResourceID)
	if err != nil {
		logger.Warn("Cannot list accounts for per-account shares: %v", err)
		return
	}
	targets := make(map[string]bool, len(e.opts.Accounts))
	for _, name := range e.opts.Accounts {
		targets[name] = true
	}
	shared := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		if !targets[acc.Name] || shared[acc.Name] {
			continue
		}
		shared[acc.Name] = true
		if err := e.opts.Server.ShareAccount(ctx, result.ResourceID, acc.ID, e.opts.ShareUserID, e.opts.AccountShareAccessType); err != nil {
			logger.Warn("Account share for '%s' failed: %v", acc.Name, err)
		}
	}
}

// rotateLocal applies the fresh passwords to the real OS accounts. This
// runs strictly after the server sync so an observer never sees a live
// local password the server has no record of. Target names with no local
// account are skipped, not failed.
func (e *Engine) rotateLocal(ctx context.Context, result *RunResult) {
	logger := e.opts.Logger

	if !e.opts.Rotator.Supported() {
		logger.Warn("Local password changes are not supported on this platform, skipping")
		e.markLocalAll(result, OutcomeSkipped, "platform unsupported")
		return
	}
	if e.opts.DryRun {
		e.markLocalAll(result, OutcomeSkipped, "dry run")
		return
	}

	logger.Info("Updating local passwords...")
	for i := range result.Accounts {
		acc := &result.Accounts[i]
		if !e.opts.Rotator.UserExists(acc.Name) {
			logger.Info("No local account '%s' on this host, skipping", acc.Name)
			acc.Local = OutcomeSkipped
			acc.LocalNote = "no local account"
			continue
		}
		err := e.vault.Use(acc.Name, func(pw string) error {
			return e.opts.Rotator.SetPassword(ctx, acc.Name, pw)
		})
		if err != nil {
			logger.Error("Could not change local password for '%s': %v", acc.Name, err)
			acc.Local = OutcomeFailed
			acc.LocalNote = "rotation failed"
			continue
		}
		logger.Info("Changed local password for '%s'", acc.Name)
		acc.Local = OutcomeSucceeded
	}
}

func (e *Engine) markLocalAll(result *RunResult, outcome Outcome, note string) {
	for i := range result.Accounts {
		result.Accounts[i].Local = outcome
		result.Accounts[i].LocalNote = note
	}
}
