package rotation

import (
	"time"

	"github.com/systmms/pamsync/internal/pam360"
)

// ResourceState records whether the run found the host's resource on the
// server or had to create it. The synchronizer branches on this: a created
// resource already carries the first target account bundled into it.
type ResourceState int

const (
	// ResourceExisting means the resource resolved on the first lookup.
	ResourceExisting ResourceState = iota
	// ResourceCreated means this run created the resource.
	ResourceCreated
)

func (s ResourceState) String() string {
	if s == ResourceCreated {
		return "created"
	}
	return "existing"
}

// Outcome classifies one attempted operation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// AccountResult is the per-account bookkeeping for the summary: what
// happened on the server side and what happened locally, with a short
// human-readable note each.
type AccountResult struct {
	Name      string
	PAMSync   Outcome
	PAMNote   string
	Local     Outcome
	LocalNote string
}

// RunResult aggregates everything one run did. It lives only in memory;
// its final render is the summary and the exit status.
type RunResult struct {
	ResourceName string
	ResourceID   pam360.ID
	State        ResourceState
	Accounts     []AccountResult
	Share        Outcome
	ShareNote    string
	Duration     time.Duration
	DryRun       bool
}

// LocalFailures counts accounts whose local rotation failed. Per the exit
// policy these are the only per-item failures that fail the run: a fresh
// local password matters more than bookkeeping parity with the server.
func (r *RunResult) LocalFailures() int {
	n := 0
	for _, a := range r.Accounts {
		if a.Local == OutcomeFailed {
			n++
		}
	}
	return n
}

// PAMFailures counts accounts whose server sync failed. Surfaced as
// warnings only.
func (r *RunResult) PAMFailures() int {
	n := 0
	for _, a := range r.Accounts {
		if a.PAMSync == OutcomeFailed {
			n++
		}
	}
	return n
}

// Failed reports whether the run must exit non-zero.
func (r *RunResult) Failed() bool {
	return r.LocalFailures() > 0
}
