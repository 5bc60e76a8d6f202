package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/report"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func check(ok bool) string {
	if ok {
		return green("✓")
	}

	return yellow("-")
}

// section prints a titled list of ids, nothing when empty.
func section(w io.Writer, title string, paint func(a ...any) string, ids []string) {
	if len(ids) == 0 {
		return
	}

	fmt.Fprintf(w, "%s (%d):\n", paint(title), len(ids))

	for _, id := range ids {
		fmt.Fprintf(w, "  - %s\n", id)
	}
}

func failures(w io.Writer, failed []workflow.Failure) {
	if len(failed) == 0 {
		return
	}

	fmt.Fprintf(w, "%s (%d):\n", red("Failed"), len(failed))

	for _, f := range failed {
		fmt.Fprintf(w, "  - %s: %s\n", f.ID, f.Error)
	}
}

func skips(w io.Writer, skipped []workflow.Skip) {
	if len(skipped) == 0 {
		return
	}

	fmt.Fprintf(w, "%s (%d):\n", yellow("Skipped"), len(skipped))

	for _, s := range skipped {
		fmt.Fprintf(w, "  - %s: %s\n", s.ID, s.Reason)
	}
}

func renderInvite(w io.Writer, r *workflow.InviteResult) {
	fmt.Fprintf(w, "%s %s (run %s)\n", bold("Invite"), r.Environment, r.RunID)
	section(w, "Invited", green, r.Invited)
	section(w, "Already existed", blue, r.AlreadyExisted)
	section(w, "Previously invited", blue, r.PreviouslyInvited)

	if len(r.Invited)+len(r.AlreadyExisted)+len(r.PreviouslyInvited) == 0 {
		fmt.Fprintln(w, "Nothing to do.")
	}
}

func renderSetup(w io.Writer, r *workflow.SetupResult) {
	fmt.Fprintf(w, "%s %s (run %s)\n", bold("Setup"), r.Environment, r.RunID)
	section(w, "Succeeded", green, r.Succeeded)
	section(w, "Already done", blue, r.AlreadyDone)
	section(w, "Not ready (no credential)", yellow, r.NotReady)
	skips(w, r.Skipped)
	failures(w, r.Failed)
}

func renderCleanup(w io.Writer, r *workflow.CleanupResult) {
	fmt.Fprintf(w, "%s %s (run %s)\n", bold("Cleanup"), r.Environment, r.RunID)
	section(w, "Cleaned", green, r.Cleaned)
	skips(w, r.Skipped)
	failures(w, r.Failed)
}

func renderStatus(w io.Writer, snap *report.Snapshot) {
	fmt.Fprintf(w, "%s %s: %d users, %d invited, %d groups, %d sources, %d complete\n\n",
		bold("Status"), snap.Environment, snap.Summary.Total, snap.Summary.Invited,
		snap.Summary.GroupCreated, snap.Summary.SourceCreated, snap.Summary.Complete)

	if len(snap.Users) == 0 {
		fmt.Fprintln(w, "No users recorded.")

		return
	}

	t := newTable(w)
	fmt.Fprintln(t, "USER\tEMAIL\tINVITED\tGROUP\tSOURCE")

	for _, s := range snap.Users {
		fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%s\n",
			s.UserID, s.Email, check(s.Invited),
			withID(s.GroupCreated, s.GroupAPIID), withID(s.SourceCreated, s.SourceAPIID))
	}

	_ = t.Flush()
}

func withID(ok bool, id string) string {
	if !ok || id == "" {
		return check(ok)
	}

	return check(ok) + " " + id
}

func renderGroups(w io.Writer, groups *catalog.GroupsFile) {
	if len(groups.Groups) == 0 {
		fmt.Fprintln(w, "No groups defined.")

		return
	}

	t := newTable(w)
	fmt.Fprintln(t, "ID\tGROUP\tSOURCE\tDESCRIPTION")

	for _, g := range groups.Groups {
		fmt.Fprintf(t, "%s\t%s\t%s\t%s\n", g.ID, g.GroupName(), g.SourceName(), g.Description)
	}

	_ = t.Flush()
}

func renderOperations(w io.Writer, entries []state.OperationLog) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No operations recorded.")

		return
	}

	t := newTable(w)
	fmt.Fprintln(t, "TIME\tOPERATION\tUSER\tSTATUS\tMESSAGE\tRUN")

	for _, e := range entries {
		msg := ""
		if e.ErrorMessage != nil {
			msg = *e.ErrorMessage
		}

		fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.OperationType, e.UserID,
			paintStatus(e.Status), truncate(msg, 60), shortRun(e.RunID))
	}

	_ = t.Flush()
}

func paintStatus(s state.OperationStatus) string {
	switch s {
	case state.StatusSuccess:
		return green(string(s))
	case state.StatusSkipped:
		return yellow(string(s))
	default:
		return red(string(s))
	}
}

func renderTokens(w io.Writer, statuses []credentials.TokenStatus) {
	t := newTable(w)
	fmt.Fprintln(t, "USER\tKEY\tTOKEN")

	for _, s := range statuses {
		value := yellow("missing")

		switch {
		case s.Skipped:
			value = blue("skipped")
		case s.Configured:
			value = green(s.Preview)
		}

		fmt.Fprintf(t, "%s\t%s\t%s\n", s.UserID, s.Key, value)
	}

	_ = t.Flush()
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}
