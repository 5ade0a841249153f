package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"taskmate/internal/dashboard"
	"taskmate/internal/gateway"
	"taskmate/internal/models"
	"taskmate/internal/tour"
	"taskmate/internal/view"
)

const helpText = `Commands:
  login <email> <password>
  register <admin|user> <email> <password> <full name>
  logout
  create <assignee-id> <priority> <yyyy-mm-dd> <title> [| description [| comments]]
  start <task-id>
  complete <task-id>
  refresh
  show
  tour
  health
  help
  quit`

var errQuit = errors.New("quit")

// health is the part of the gateway the shell pings directly.
type health interface {
	Health(ctx context.Context) error
}

// shell is the terminal front end: it reads one command per line and
// redraws the dashboard whenever the controller reports a change.
type shell struct {
	in    io.Reader
	out   io.Writer
	ctl   *view.Controller
	api   health
	tour  *tour.Runner
	outMu sync.Mutex
}

func newShell(in io.Reader, out io.Writer, api health) *shell {
	return &shell{in: in, out: out, api: api}
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) notify(n view.Notification) {
	s.printf("[%s] %s\n", n.Level, n.Message)
}

func (s *shell) progress(p tour.Progress) {
	s.printf("== %s ==\n   %s\n", p, p.Step.Description)
}

func (s *shell) redraw(st view.State) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	switch {
	case st.Region.IsDashboard() && st.View != nil:
		fmt.Fprintln(s.out)
		if err := dashboard.Write(s.out, *st.View); err != nil {
			fmt.Fprintln(s.out, "Error:", err)
		}
	case st.Region == view.RegionLanding:
		fmt.Fprintln(s.out, "Welcome to TaskMate. Type 'login', 'register' or 'tour' to begin, 'help' for commands.")
	case st.Region == view.RegionLoginRegister:
		fmt.Fprintf(s.out, "(%s form)\n", st.Form)
	}
}

// loop reads commands until EOF, quit or ctx is cancelled.
func (s *shell) loop(ctx context.Context) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		s.printf("> ")
		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			s.report(err)
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "help", "?":
		s.printf("%s\n", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "login":
		if len(args) != 2 {
			return usage("login <email> <password>")
		}
		_ = s.ctl.OpenForm(view.FormLogin)
		return s.ctl.Login(ctx, models.Credentials{Email: args[0], Password: args[1]})
	case "register":
		if len(args) < 4 {
			return usage("register <admin|user> <email> <password> <full name>")
		}
		role, err := models.ParseRole(args[0])
		if err != nil {
			return err
		}
		_ = s.ctl.OpenForm(view.FormRegister)
		return s.ctl.Register(ctx, role, models.Registration{
			Name:     strings.Join(args[3:], " "),
			Email:    args[1],
			Password: args[2],
		})
	case "logout":
		s.ctl.Logout()
		return nil
	case "create":
		details, assignee, err := parseCreate(line)
		if err != nil {
			return err
		}
		_, err = s.ctl.CreateTask(ctx, details, assignee)
		return err
	case "start", "complete":
		if len(args) != 1 {
			return usage(cmd + " <task-id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		action := dashboard.ActionStart
		if cmd == "complete" {
			action = dashboard.ActionComplete
		}
		_, err = s.ctl.AdvanceTask(ctx, id, action)
		return err
	case "refresh":
		return s.ctl.Refresh(ctx)
	case "show":
		s.redraw(s.ctl.Snapshot())
		return nil
	case "tour":
		s.runTour(ctx)
		return nil
	case "health":
		if err := s.api.Health(ctx); err != nil {
			return err
		}
		s.printf("Backend is up.\n")
		return nil
	}
	return fmt.Errorf("unknown command %q, type 'help'", cmd)
}

func (s *shell) runTour(ctx context.Context) {
	rep, err := s.tour.Run(ctx)
	if err != nil {
		s.printf("Tour stopped: %v\n", err)
		return
	}
	if len(rep.Failed) > 0 {
		s.printf("Tour finished with %d failed step(s).\n", len(rep.Failed))
	}
}

// report prints err unless the controller already notified the user of it.
func (s *shell) report(err error) {
	var ge *gateway.Error
	if err == nil || errors.As(err, &ge) || errors.Is(err, view.ErrStaleSession) {
		return
	}
	s.printf("Error: %s\n", view.ErrorMessage(err))
}

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func usage(u string) error { return usageError(u) }

// parseCreate reads
//
//	create <assignee-id> <priority> <yyyy-mm-dd> <title> [| description [| comments]]
func parseCreate(line string) (models.TaskDetails, int64, error) {
	const form = "create <assignee-id> <priority> <yyyy-mm-dd> <title> [| description [| comments]]"
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return models.TaskDetails{}, 0, usage(form)
	}
	assignee, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return models.TaskDetails{}, 0, fmt.Errorf("invalid assignee id %q", fields[1])
	}
	priority, err := models.ParsePriority(fields[2])
	if err != nil {
		return models.TaskDetails{}, 0, err
	}
	deadline, err := models.ParseDate(fields[3])
	if err != nil {
		return models.TaskDetails{}, 0, err
	}

	rest := line
	for i := 0; i < 4; i++ {
		rest = strings.TrimSpace(rest)
		rest = strings.TrimSpace(rest[len(fields[i]):])
	}
	parts := strings.SplitN(rest, "|", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	details := models.TaskDetails{Title: parts[0], Deadline: deadline, Priority: priority}
	if len(parts) > 1 {
		details.Description = parts[1]
	}
	if len(parts) > 2 {
		details.Comments = parts[2]
	}
	return details, assignee, nil
}
