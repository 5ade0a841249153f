package dashboard

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Write renders v as plain-text tables.
func Write(w io.Writer, v View) error {
	bw := &errWriter{w: w}
	role := "User"
	if v.IsAdmin() {
		role = "Admin"
	}
	bw.printf("%s dashboard for %s <%s>\n\n", role, v.User.Name, v.User.Email)

	if v.Stats != nil {
		bw.printf("Total tasks: %d   Pending: %d   Users: %d\n\n",
			v.Stats.TotalTasks, v.Stats.PendingTasks, v.Stats.TotalUsers)
	}

	if len(v.Cards) == 0 {
		bw.printf("No tasks yet.\n")
	} else {
		tw := tabwriter.NewWriter(bw, 0, 4, 2, ' ', 0)
		header := "ID\tTITLE\tPRIORITY\tSTATUS\tDEADLINE\tASSIGNEE"
		if !v.IsAdmin() {
			header += "\tACTIONS"
		}
		fmt.Fprintln(tw, header)
		for _, c := range v.Cards {
			t := c.Task
			assignee := "-"
			if t.AssignedTo != nil {
				assignee = t.AssignedTo.Name
			}
			line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s", t.ID, t.Title, t.Priority, t.Status, t.Deadline, assignee)
			if !v.IsAdmin() {
				line += "\t" + actionLabels(c.Actions)
			}
			fmt.Fprintln(tw, line)
			if t.Comments != "" {
				fmt.Fprintf(tw, "\t  %s\t\t\t\t\n", t.Comments)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if v.IsAdmin() && len(v.Assignees) > 0 {
		bw.printf("\nAssignable users:\n")
		for _, a := range v.Assignees {
			bw.printf("  %d  %s\n", a.ID, a.Name)
		}
	}
	return bw.err
}

func actionLabels(actions []Action) string {
	if len(actions) == 0 {
		return "-"
	}
	labels := make([]string, len(actions))
	for i, a := range actions {
		labels[i] = a.Label()
	}
	return strings.Join(labels, ", ")
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
