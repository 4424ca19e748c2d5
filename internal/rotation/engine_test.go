package rotation

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/systmms/pamsync/internal/logging"
	"github.com/systmms/pamsync/internal/pam360"
	"github.com/systmms/pamsync/internal/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(server *fakeServer, rotator *fakeRotator) Options {
	return Options{
		Server:          server,
		Rotator:         rotator,
		Logger:          logging.NewWithWriter(io.Discard, false, true),
		ResourceName:    "host1",
		NetworkAddress:  "10.0.0.5",
		Accounts:        []string{"root", "admin"},
		ResourceGroup:   "Linux Servers",
		ShareUserID:     "1",
		ShareAccessType: pam360.AccessFullAccess,
		Reason:          "Scheduled rotation",
	}
}

func mustRun(t *testing.T, opts Options) *RunResult {
	t.Helper()
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	return result
}

func accountByName(t *testing.T, result *RunResult, name string) AccountResult {
	t.Helper()
	for _, acc := range result.Accounts {
		if acc.Name == name {
			return acc
		}
	}
	t.Fatalf("account %q missing from result", name)
	return AccountResult{}
}

// Scenario: PAM360 has no resource for this host. The run creates it with
// the first account bundled, creates the second account separately, shares,
// and rotates both local passwords.
func TestRunCreatesResourceWhenAbsent(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	rotator := newFakeRotator(log, "root", "admin")

	result := mustRun(t, testOptions(server, rotator))

	assert.Equal(t, ResourceCreated, result.State)
	assert.NotEmpty(t, result.ResourceID)
	assert.False(t, result.Failed())

	calls := log.all()
	assert.Equal(t, []string{
		"ListResources",
		"CreateResource:host1",
		"GetResourceIDByName:host1",
		"ListAccounts:" + result.ResourceID.String(),
		"CreateAccount:" + result.ResourceID.String() + "/admin",
		"ShareResource:" + result.ResourceID.String() + "/1/fullaccess",
		"SetPassword:root",
		"SetPassword:admin",
	}, calls)

	// The bundled account is never re-created or updated.
	assert.Zero(t, log.count("UpdateAccountPassword"))
	assert.Equal(t, 1, log.count("CreateAccount"))

	root := accountByName(t, result, "root")
	assert.Equal(t, OutcomeSucceeded, root.PAMSync)
	assert.Equal(t, "created with resource", root.PAMNote)
	assert.Equal(t, OutcomeSucceeded, root.Local)

	admin := accountByName(t, result, "admin")
	assert.Equal(t, OutcomeSucceeded, admin.PAMSync)
	assert.Equal(t, "created", admin.PAMNote)
}

// Scenario: the resource and both accounts already exist. The run updates
// both stored passwords and never creates anything.
func TestRunUpdatesExistingAccounts(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	rotator := newFakeRotator(log, "root", "admin")

	result := mustRun(t, testOptions(server, rotator))

	assert.Equal(t, ResourceExisting, result.State)
	assert.Equal(t, pam360.ID("7"), result.ResourceID)
	assert.False(t, result.Failed())

	assert.Equal(t, []string{
		"ListResources",
		"ListAccounts:7",
		"UpdateAccountPassword:7/5",
		"UpdateAccountPassword:7/6",
		"ShareResource:7/1/fullaccess",
		"SetPassword:root",
		"SetPassword:admin",
	}, log.all())
	assert.Zero(t, log.count("CreateResource"))
	assert.Zero(t, log.count("CreateAccount"))
}

// The password the server records and the password applied locally must be
// the same value for every account.
func TestServerAndLocalPasswordsAgree(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	rotator := newFakeRotator(log, "root", "admin")

	mustRun(t, testOptions(server, rotator))

	for _, name := range []string{"root", "admin"} {
		require.NotEmpty(t, server.passwords[name])
		assert.Equal(t, server.passwords[name], rotator.passwords[name], "account %s", name)
		assert.Len(t, server.passwords[name], password.Length)
	}
	assert.NotEqual(t, server.passwords["root"], server.passwords["admin"])
}

// Resolving twice in a row must not create a second resource with the same
// name and must yield the same id both times.
func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	rotator := newFakeRotator(log, "root", "admin")
	opts := testOptions(server, rotator)

	first := mustRun(t, opts)
	require.Equal(t, 1, log.count("CreateResource"))

	second := mustRun(t, opts)
	assert.Equal(t, 1, log.count("CreateResource"), "second run must not create again")
	assert.Equal(t, first.ResourceID, second.ResourceID)
	assert.Equal(t, ResourceExisting, second.State)
}

// Known account names get password updates, unknown ones get creates,
// never the other way around.
func TestAccountUpsert(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")})
	rotator := newFakeRotator(log, "root")

	opts := testOptions(server, rotator)
	opts.Accounts = []string{"root", "svc-new"}
	result := mustRun(t, opts)

	assert.Equal(t, 1, log.count("UpdateAccountPassword:7/5"))
	assert.Equal(t, 1, log.count("CreateAccount:7/svc-new"))
	assert.Zero(t, log.count("CreateAccount:7/root"))

	assert.Equal(t, "updated", accountByName(t, result, "root").PAMNote)
	assert.Equal(t, "created", accountByName(t, result, "svc-new").PAMNote)
}

// Duplicate names in the remote listing resolve to the first match.
func TestDuplicateRemoteAccountsFirstMatchWins(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "root", ID: pam360.ID("9")})
	rotator := newFakeRotator(log, "root")

	opts := testOptions(server, rotator)
	opts.Accounts = []string{"root"}
	mustRun(t, opts)

	assert.Equal(t, 1, log.count("UpdateAccountPassword:7/5"))
	assert.Zero(t, log.count("UpdateAccountPassword:7/9"))
}

// A failed update for one account must not stop the remaining accounts
// from syncing, and local rotation must still run for everything.
func TestPAMFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	server.updateErrFor = map[pam360.ID]error{"5": errors.New("policy violation")}
	rotator := newFakeRotator(log, "root", "admin")

	result := mustRun(t, testOptions(server, rotator))

	assert.Equal(t, 1, log.count("UpdateAccountPassword:7/6"), "admin still synced")
	assert.Equal(t, 1, log.count("SetPassword:root"))
	assert.Equal(t, 1, log.count("SetPassword:admin"))

	assert.Equal(t, OutcomeFailed, accountByName(t, result, "root").PAMSync)
	assert.Equal(t, OutcomeSucceeded, accountByName(t, result, "admin").PAMSync)
	assert.Equal(t, 1, result.PAMFailures())
	// Server-side failures alone never fail the run.
	assert.False(t, result.Failed())
}

// A single failed local rotation fails the whole run, and the summary
// names exactly that account.
func TestLocalFailureFailsRun(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	rotator := newFakeRotator(log, "root", "admin")
	rotator.setErrFor = map[string]error{"admin": errors.New("permission denied")}

	result := mustRun(t, testOptions(server, rotator))

	assert.True(t, result.Failed())
	assert.Equal(t, 1, result.LocalFailures())
	assert.Equal(t, OutcomeFailed, accountByName(t, result, "admin").Local)
	assert.Equal(t, OutcomeSucceeded, accountByName(t, result, "root").Local)
}

// Target names with no local account are skipped, never failed, and no
// rotation attempt happens for them.
func TestMissingLocalUserSkips(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	rotator := newFakeRotator(log, "root") // no local admin

	result := mustRun(t, testOptions(server, rotator))

	assert.Zero(t, log.count("SetPassword:admin"))
	admin := accountByName(t, result, "admin")
	assert.Equal(t, OutcomeSkipped, admin.Local)
	assert.Equal(t, "no local account", admin.LocalNote)
	assert.False(t, result.Failed())
	assert.Zero(t, result.LocalFailures())
}

func TestUnsupportedPlatformSkipsLocalRotation(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	rotator := newFakeRotator(log, "root", "admin")
	rotator.unsupported = true

	result := mustRun(t, testOptions(server, rotator))

	assert.Zero(t, log.count("SetPassword"))
	assert.False(t, result.Failed())
	for _, acc := range result.Accounts {
		assert.Equal(t, OutcomeSkipped, acc.Local)
	}
}

func TestUnresolvableResourceIDIsFatal(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.dropIDOnReResolve = true
	rotator := newFakeRotator(log, "root", "admin")

	engine, err := NewEngine(testOptions(server, rotator))
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id after creation")

	// Nothing past the resolver may run.
	assert.Zero(t, log.count("ListAccounts"))
	assert.Zero(t, log.count("SetPassword"))
}

func TestResourceLookupFailureIsFatal(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.listResourcesErr = errors.New("connection refused")
	rotator := newFakeRotator(log, "root", "admin")

	engine, err := NewEngine(testOptions(server, rotator))
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
	// Creating blindly after a failed lookup could duplicate the resource.
	assert.Zero(t, log.count("CreateResource"))
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy pool drained")
}

func TestEntropyFailureIsFatalBeforeAnyNetworkCall(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	rotator := newFakeRotator(log, "root", "admin")

	opts := testOptions(server, rotator)
	opts.Generator = password.NewWithSource(brokenReader{})

	engine, err := NewEngine(opts)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, log.all())
}

func TestAccountListingFailureMarksAllFailed(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"))
	server.listAccountsErr = errors.New("timeout")
	rotator := newFakeRotator(log, "root", "admin")

	result := mustRun(t, testOptions(server, rotator))

	assert.Equal(t, 2, result.PAMFailures())
	// Local rotation still proceeds: local posture beats bookkeeping.
	assert.Equal(t, 1, log.count("SetPassword:root"))
	assert.Equal(t, 1, log.count("SetPassword:admin"))
	assert.False(t, result.Failed())
}

func TestShareFailureIsWarningOnly(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")})
	server.shareResourceErr = errors.New("no such user")
	rotator := newFakeRotator(log, "root", "admin")

	result := mustRun(t, testOptions(server, rotator))

	assert.Equal(t, OutcomeFailed, result.Share)
	assert.False(t, result.Failed())
	assert.Equal(t, 1, log.count("SetPassword:root"))
}

func TestPerAccountShareGrants(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")},
		pam360.Account{Name: "admin", ID: pam360.ID("6")},
		pam360.Account{Name: "unmanaged", ID: pam360.ID("8")})
	rotator := newFakeRotator(log, "root", "admin")

	opts := testOptions(server, rotator)
	opts.AccountShareAccessType = pam360.AccessView
	mustRun(t, opts)

	assert.Equal(t, 1, log.count("ShareAccount:7/5/1/view"))
	assert.Equal(t, 1, log.count("ShareAccount:7/6/1/view"))
	// Accounts outside the target list get no grant.
	assert.Zero(t, log.count("ShareAccount:7/8"))
}

func TestDryRunMakesNoChanges(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	server.addResource("host1", pam360.ID("7"),
		pam360.Account{Name: "root", ID: pam360.ID("5")})
	rotator := newFakeRotator(log, "root", "admin")

	opts := testOptions(server, rotator)
	opts.DryRun = true
	result := mustRun(t, opts)

	assert.Zero(t, log.count("CreateResource"))
	assert.Zero(t, log.count("CreateAccount"))
	assert.Zero(t, log.count("UpdateAccountPassword"))
	assert.Zero(t, log.count("ShareResource"))
	assert.Zero(t, log.count("SetPassword"))

	assert.Equal(t, "dry run: would update", accountByName(t, result, "root").PAMNote)
	assert.Equal(t, "dry run: would create", accountByName(t, result, "admin").PAMNote)
	assert.False(t, result.Failed())
}

func TestDryRunAbsentResource(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	server := newFakeServer(log)
	rotator := newFakeRotator(log, "root", "admin")

	opts := testOptions(server, rotator)
	opts.DryRun = true
	result := mustRun(t, opts)

	assert.Equal(t, []string{"ListResources"}, log.all())
	assert.Equal(t, ResourceCreated, result.State)
	assert.Empty(t, result.ResourceID)
	for _, acc := range result.Accounts {
		assert.Equal(t, OutcomeSkipped, acc.PAMSync)
	}
}
