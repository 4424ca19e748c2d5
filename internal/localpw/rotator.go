package localpw

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
	"time"

	pamerrors "github.com/systmms/pamsync/internal/errors"
)

// Rotator applies generated passwords to real operating-system accounts.
// The engine depends on this interface so its tests can substitute a fake.
type Rotator interface {
	// UserExists reports whether the named account exists on this host.
	UserExists(name string) bool
	// SetPassword sets the account's password. Requires root.
	SetPassword(ctx context.Context, name, password string) error
	// Supported reports whether this platform allows local rotation at
	// all. macOS hosts sync against PAM360 without touching local state.
	Supported() bool
}

// ChpasswdRotator changes passwords by piping "user:password" lines into
// chpasswd, the same path the shadow toolchain uses.
type ChpasswdRotator struct {
	// Timeout bounds each chpasswd invocation.
	Timeout time.Duration
	// run is swappable for tests.
	run func(ctx context.Context, stdin []byte) error
}

// NewChpasswdRotator returns a rotator with a 10 second command timeout.
func NewChpasswdRotator() *ChpasswdRotator {
	r := &ChpasswdRotator{Timeout: 10 * time.Second}
	r.run = r.runChpasswd
	return r
}

// UserExists checks the host's account database via os/user.
func (r *ChpasswdRotator) UserExists(name string) bool {
	_, err := user.Lookup(name)
	return err == nil
}

// Supported reports false on non-Linux platforms.
func (r *ChpasswdRotator) Supported() bool {
	return runtime.GOOS == "linux"
}

// SetPassword rotates one account. The password travels only through the
// chpasswd stdin pipe; it never appears in argv or the environment.
func (r *ChpasswdRotator) SetPassword(ctx context.Context, name, password string) error {
	if strings.ContainsAny(name, ":\n") {
		return fmt.Errorf("localpw: account name %q not usable with chpasswd", name)
	}
	line := fmt.Sprintf("%s:%s\n", name, password)
	return r.run(ctx, []byte(line))
}

func (r *ChpasswdRotator) runChpasswd(ctx context.Context, stdin []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "chpasswd")
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return pamerrors.CommandError{
			Command:    "chpasswd",
			ExitCode:   exitCode,
			Message:    msg,
			Suggestion: "Local rotation needs root. Check the unit or cron entry runs pamsync as root",
		}
	}
	return nil
}
