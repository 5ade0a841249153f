package tour

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskmate/internal/dashboard"
	"taskmate/internal/gateway"
	"taskmate/internal/models"
	"taskmate/internal/utils"
	"taskmate/internal/view"
)

// Accounts registers demo users and looks up their ids.
type Accounts interface {
	Register(ctx context.Context, role models.Role, reg models.Registration) (string, error)
	ListUsers(ctx context.Context) ([]models.UserProfile, error)
}

// Driver is the view controller the tour clicks through.
type Driver interface {
	Login(ctx context.Context, creds models.Credentials) error
	Logout()
	CreateTask(ctx context.Context, details models.TaskDetails, assigneeID int64) (models.Task, error)
	AdvanceTask(ctx context.Context, taskID int64, action dashboard.Action) (models.Task, error)
	Snapshot() view.State
}

// Progress is reported before each step runs.
type Progress struct {
	Index int // 1-based
	Total int
	Step  Step
}

func (p Progress) String() string {
	return fmt.Sprintf("Step %d of %d: %s", p.Index, p.Total, p.Step.Title)
}

// Report summarises a finished run.
type Report struct {
	RunID  string
	Ran    int
	Failed map[string]error
}

type Runner struct {
	accounts Accounts
	driver   Driver
	steps    []Step
	progress func(Progress)
	wait     func(ctx context.Context, d time.Duration) error
	log      *logrus.Entry
}

type Option func(*Runner)

func WithSteps(steps []Step) Option {
	return func(r *Runner) { r.steps = steps }
}

func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithWait replaces the pause between steps.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.wait = fn }
}

func WithLogger(log *logrus.Entry) Option {
	return func(r *Runner) { r.log = log }
}

func NewRunner(accounts Accounts, driver Driver, opts ...Option) *Runner {
	r := &Runner{
		accounts: accounts,
		driver:   driver,
		steps:    DefaultSteps(),
		progress: func(Progress) {},
		wait:     sleep,
		log:      logrus.NewEntry(utils.NewDiscardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NoWait skips the pauses between steps.
func NoWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes every step in order. A failing step is logged and the tour
// moves on; only cancellation stops it early.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Failed: map[string]error{}}
	log := r.log.WithField("tour_run", rep.RunID)
	log.Info("demo tour started")

	for i, step := range r.steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r.progress(Progress{Index: i + 1, Total: len(r.steps), Step: step})

		if err := r.perform(ctx, step.Action); err != nil {
			rep.Failed[step.Action] = err
			log.WithError(err).WithField("step", step.Action).Warn("tour step failed, continuing")
		}
		rep.Ran++
		if err := r.wait(ctx, step.Duration); err != nil {
			return rep, err
		}
	}
	log.WithField("failed_steps", len(rep.Failed)).Info("demo tour finished")
	return rep, nil
}

func (r *Runner) perform(ctx context.Context, action string) error {
	switch action {
	case ActionWelcome, ActionComplete:
		return nil
	case ActionCreateUsers:
		return r.createUsers(ctx)
	case ActionAdminLogin:
		return r.switchTo(ctx, adminEmail)
	case ActionCreateTasks:
		return r.createTasks(ctx)
	case ActionUserLogin:
		return r.switchTo(ctx, userEmail)
	case ActionUpdateStatus:
		return r.startFirstTask(ctx)
	case ActionShowRealTime:
		return r.switchTo(ctx, adminEmail)
	}
	return fmt.Errorf("unknown tour action %q", action)
}

// createUsers tolerates accounts left over from an earlier run.
func (r *Runner) createUsers(ctx context.Context) error {
	var errs []error
	for _, u := range DemoUsers {
		_, err := r.accounts.Register(ctx, u.Role, models.Registration{Name: u.Name, Email: u.Email, Password: DemoPassword})
		if err != nil && !gateway.IsKind(err, gateway.KindRegistrationConflict) {
			errs = append(errs, fmt.Errorf("register %s: %w", u.Email, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) switchTo(ctx context.Context, email string) error {
	if r.driver.Snapshot().Session.Active() {
		r.driver.Logout()
	}
	return r.driver.Login(ctx, models.Credentials{Email: email, Password: DemoPassword})
}

func (r *Runner) createTasks(ctx context.Context) error {
	users, err := r.accounts.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	ids := make(map[string]int64, len(users))
	for _, u := range users {
		ids[strings.ToLower(u.Email)] = u.ID
	}

	var errs []error
	for _, t := range DemoTasks {
		id, ok := ids[t.Assignee]
		if !ok {
			errs = append(errs, fmt.Errorf("no account for %s", t.Assignee))
			continue
		}
		if _, err := r.driver.CreateTask(ctx, t.Details(), id); err != nil {
			errs = append(errs, fmt.Errorf("create %q: %w", t.Title, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) startFirstTask(ctx context.Context) error {
	v := r.driver.Snapshot().View
	if v == nil {
		return errors.New("no dashboard loaded")
	}
	for _, c := range v.Cards {
		if v.Allows(c.Task.ID, dashboard.ActionStart) {
			_, err := r.driver.AdvanceTask(ctx, c.Task.ID, dashboard.ActionStart)
			return err
		}
	}
	return errors.New("no task to start")
}
