package rotation

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Render writes the human-readable run summary. It goes to stdout while
// all leveled logging goes to stderr, so operators can grep one without
// the other.
func (r *RunResult) Render(w io.Writer) {
	title := "PAM360 rotation summary"
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "Resource: %s", r.ResourceName)
	if r.ResourceID != "" {
		fmt.Fprintf(w, " (ID: %s, %s)", r.ResourceID, r.State)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tPAM SYNC\tLOCAL")
	for _, acc := range r.Accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			acc.Name,
			outcomeCell(acc.PAMSync, acc.PAMNote),
			outcomeCell(acc.Local, acc.LocalNote))
	}
	tw.Flush()

	fmt.Fprintf(w, "Share grant: %s", r.Share)
	if r.ShareNote != "" {
		fmt.Fprintf(w, " (%s)", r.ShareNote)
	}
	fmt.Fprintln(w)

	if n := r.PAMFailures(); n > 0 {
		fmt.Fprintf(w, "PAM sync failures: %d (warnings only)\n", n)
	}
	fmt.Fprintf(w, "Local rotation failures: %d\n", r.LocalFailures())
}

func outcomeCell(o Outcome, note string) string {
	if o == "" {
		o = OutcomeSkipped
	}
	if note == "" {
		return string(o)
	}
	return fmt.Sprintf("%s (%s)", o, note)
}
