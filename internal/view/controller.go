package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskmate/internal/dashboard"
	"taskmate/internal/gateway"
	"taskmate/internal/models"
	"taskmate/internal/push"
	"taskmate/internal/session"
	"taskmate/internal/utils"
)

type Region string

const (
	RegionInit          Region = "INIT"
	RegionLanding       Region = "LANDING"
	RegionLoginRegister Region = "LOGIN_REGISTER"
	RegionAdmin         Region = "DASHBOARD_ADMIN"
	RegionUser          Region = "DASHBOARD_USER"
)

func (r Region) IsDashboard() bool { return r == RegionAdmin || r == RegionUser }

func regionFor(u models.UserProfile) Region {
	if u.IsAdmin() {
		return RegionAdmin
	}
	return RegionUser
}

type Form string

const (
	FormLogin    Form = "login"
	FormRegister Form = "register"
)

var (
	// ErrBusy is returned while another user action is in flight.
	ErrBusy = errors.New("another action is in progress")
	// ErrInvalidTransition is returned for actions the current region does
	// not offer.
	ErrInvalidTransition = errors.New("action not available in the current view")
	// ErrStaleSession is returned when the session ended while the call was
	// in flight; the result was discarded.
	ErrStaleSession = session.ErrStaleSession
)

// Sessions is the part of the session store the controller drives.
type Sessions interface {
	Login(ctx context.Context, creds models.Credentials) (session.Session, error)
	Register(ctx context.Context, role models.Role, reg models.Registration) (session.Session, error)
	Restore(ctx context.Context) (session.Session, error)
	Logout()
	Snapshot() session.Session
	IsCurrent(gen uint64) bool
	OnLogout(fn func())
}

// Gateway is the part of the backend client the dashboards need.
type Gateway interface {
	ListAllTasks(ctx context.Context) ([]models.Task, error)
	ListUserTasks(ctx context.Context, email string) ([]models.Task, error)
	ListUsers(ctx context.Context) ([]models.UserProfile, error)
	CreateTask(ctx context.Context, details models.TaskDetails, assigneeID int64) (models.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status models.Status) (models.Task, error)
}

// Subscriber is the push channel.
type Subscriber interface {
	Open(ctx context.Context, userID int64, h push.Handler) error
	Close()
}

// State is a copy of what the controller currently shows.
type State struct {
	Region  Region
	Form    Form
	Session session.Session
	View    *dashboard.View
	Busy    bool
}

// Controller runs the client's state machine. All methods are safe for
// concurrent use; push events refresh the dashboard from their own goroutine.
type Controller struct {
	sessions       Sessions
	api            Gateway
	push           Subscriber
	notifier       Notifier
	onChange       func(State)
	refreshTimeout time.Duration
	log            *logrus.Entry

	mu         sync.Mutex
	region     Region
	form       Form
	view       *dashboard.View
	busy       bool
	action     uint64
	seqIssued  uint64
	seqApplied uint64

	events sync.WaitGroup
}

type Option func(*Controller)

func WithPush(s Subscriber) Option {
	return func(c *Controller) { c.push = s }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithOnChange registers fn to run after every region or view change.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithRefreshTimeout bounds refreshes triggered by push events.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Controller) { c.refreshTimeout = d }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) { c.log = log }
}

func New(sessions Sessions, api Gateway, opts ...Option) *Controller {
	c := &Controller{
		sessions:       sessions,
		api:            api,
		refreshTimeout: 30 * time.Second,
		log:            logrus.NewEntry(utils.NewDiscardLogger()),
		region:         RegionInit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier(c.log)
	}
	sessions.OnLogout(c.onLogout)
	return c
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{Region: c.region, Form: c.form, Session: c.sessions.Snapshot(), Busy: c.busy}
	if c.view != nil {
		v := *c.view
		st.View = &v
	}
	return st
}

// Start resolves INIT: a stored token is restored and hydrated before any
// dashboard is shown, otherwise the landing page is shown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.region != RegionInit {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.mu.Unlock()

	sess, err := c.sessions.Restore(ctx)
	if err != nil {
		c.log.WithError(err).Debug("no session to restore")
		c.setRegion(RegionLanding, "")
		return nil
	}
	return c.enterDashboard(ctx, sess)
}

// OpenForm shows the login or register form.
func (c *Controller) OpenForm(f Form) error {
	if f != FormLogin && f != FormRegister {
		return ErrInvalidTransition
	}
	c.mu.Lock()
	if c.region != RegionLanding && c.region != RegionLoginRegister {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.mu.Unlock()
	c.setRegion(RegionLoginRegister, f)
	return nil
}

func (c *Controller) CancelForm() error {
	c.mu.Lock()
	if c.region != RegionLoginRegister {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.mu.Unlock()
	c.setRegion(RegionLanding, "")
	return nil
}

// Login is offered on the landing page and the forms only.
func (c *Controller) Login(ctx context.Context, creds models.Credentials) error {
	id, err := c.begin(RegionLanding, RegionLoginRegister)
	if err != nil {
		return err
	}
	defer c.end(id)

	sess, err := c.sessions.Login(ctx, creds)
	if err != nil {
		return c.reportAuthFailure(err)
	}
	return c.enterDashboard(ctx, sess)
}

// Register creates an account with role and signs in. It is also offered
// on a dashboard; a rejected registration leaves the current session
// untouched.
func (c *Controller) Register(ctx context.Context, role models.Role, reg models.Registration) error {
	id, err := c.begin(RegionLanding, RegionLoginRegister, RegionAdmin, RegionUser)
	if err != nil {
		return err
	}
	defer c.end(id)

	sess, err := c.sessions.Register(ctx, role, reg)
	if err != nil {
		return c.reportAuthFailure(err)
	}
	c.notify(LevelSuccess, "Registration successful!")
	return c.enterDashboard(ctx, sess)
}

// CreateTask creates and assigns a task, then re-fetches the dashboard.
func (c *Controller) CreateTask(ctx context.Context, details models.TaskDetails, assigneeID int64) (models.Task, error) {
	id, snap, err := c.beginIn(RegionAdmin)
	if err != nil {
		return models.Task{}, err
	}
	defer c.end(id)

	task, err := c.api.CreateTask(ctx, details, assigneeID)
	if err != nil {
		return models.Task{}, c.callFailed(snap.Generation, err)
	}
	if !c.sessions.IsCurrent(snap.Generation) {
		return models.Task{}, ErrStaleSession
	}
	c.log.WithField("task_id", task.ID).Info("task created")
	c.notify(LevelSuccess, "Task created successfully!")
	if err := c.Refresh(ctx); errors.Is(err, ErrStaleSession) {
		return task, err
	}
	return task, nil
}

// AdvanceTask applies a card action offered by the current USER view.
func (c *Controller) AdvanceTask(ctx context.Context, taskID int64, action dashboard.Action) (models.Task, error) {
	id, snap, err := c.beginIn(RegionUser)
	if err != nil {
		return models.Task{}, err
	}
	defer c.end(id)

	var (
		card    dashboard.Card
		allowed bool
	)
	c.mu.Lock()
	if c.view != nil {
		var ok bool
		card, ok = c.view.Card(taskID)
		allowed = ok && c.view.Allows(taskID, action)
	}
	c.mu.Unlock()
	if !allowed || !card.Task.Status.CanAdvanceTo(action.Target()) {
		return models.Task{}, ErrInvalidTransition
	}

	task, err := c.api.UpdateTaskStatus(ctx, taskID, action.Target())
	if err != nil {
		return models.Task{}, c.callFailed(snap.Generation, err)
	}
	if !c.sessions.IsCurrent(snap.Generation) {
		c.log.WithField("task_id", taskID).Debug("discarding status update for ended session")
		return models.Task{}, ErrStaleSession
	}
	c.notify(LevelSuccess, "Task status updated!")
	if err := c.Refresh(ctx); errors.Is(err, ErrStaleSession) {
		return task, err
	}
	return task, nil
}

// Refresh re-fetches the role-scoped task list and replaces the view. It may
// run concurrently with itself; only a result newer than the one on screen
// is applied.
func (c *Controller) Refresh(ctx context.Context) error {
	snap := c.sessions.Snapshot()
	if !snap.Hydrated() {
		return session.ErrNoSession
	}

	c.mu.Lock()
	c.seqIssued++
	seq := c.seqIssued
	c.mu.Unlock()

	user := *snap.User
	var (
		tasks []models.Task
		users []models.UserProfile
		err   error
	)
	if user.IsAdmin() {
		tasks, err = c.api.ListAllTasks(ctx)
		if err == nil {
			users, err = c.api.ListUsers(ctx)
			if err != nil && !gateway.IsKind(err, gateway.KindAuthorization) {
				c.log.WithError(err).Warn("user list unavailable, showing zero users")
				users, err = nil, nil
			}
		}
	} else {
		tasks, err = c.api.ListUserTasks(ctx, user.Email)
	}
	if err != nil {
		return c.callFailed(snap.Generation, err)
	}

	v := dashboard.Render(tasks, user, users)

	c.mu.Lock()
	if !c.sessions.IsCurrent(snap.Generation) {
		c.mu.Unlock()
		return ErrStaleSession
	}
	if seq <= c.seqApplied {
		c.mu.Unlock()
		return nil
	}
	c.seqApplied = seq
	c.view = &v
	st := c.stateLocked()
	c.mu.Unlock()

	c.changed(st)
	return nil
}

// Logout always succeeds, also while another call is in flight; that call's
// result is discarded when it lands.
func (c *Controller) Logout() {
	c.sessions.Logout()
	c.notify(LevelInfo, "Logged out successfully")
}

// Close stops the push channel and waits for event-triggered refreshes.
func (c *Controller) Close() {
	if c.push != nil {
		c.push.Close()
	}
	c.events.Wait()
}

func (c *Controller) enterDashboard(ctx context.Context, sess session.Session) error {
	if !sess.Hydrated() {
		return session.ErrNoSession
	}
	c.mu.Lock()
	if !c.sessions.IsCurrent(sess.Generation) {
		c.mu.Unlock()
		return ErrStaleSession
	}
	c.region = regionFor(*sess.User)
	c.form = ""
	c.view = nil
	c.seqApplied = c.seqIssued
	st := c.stateLocked()
	c.mu.Unlock()
	c.changed(st)

	c.log.WithFields(logrus.Fields{"user_id": sess.User.ID, "region": st.Region}).Info("dashboard shown")
	c.notify(LevelSuccess, "Welcome, "+sess.User.Name+"!")

	if c.push != nil {
		err := c.push.Open(ctx, sess.User.ID, c.handleEvent)
		switch {
		case err != nil:
			c.log.WithError(err).Warn("push channel unavailable")
			c.notify(LevelInfo, "Live updates are unavailable; use refresh to reload tasks.")
		case !c.sessions.IsCurrent(sess.Generation):
			// The logout hook ran while the connection was being opened.
			c.push.Close()
			return ErrStaleSession
		}
	}
	err := c.Refresh(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return ErrStaleSession
	case errors.Is(err, ErrStaleSession), gateway.IsKind(err, gateway.KindAuthorization):
		return err
	}
	return nil
}

// handleEvent runs on the push reader goroutine, so the refresh is handed to
// a goroutine of its own.
func (c *Controller) handleEvent(ev push.Event) {
	c.notify(LevelInfo, EventMessage(ev))
	c.events.Add(1)
	go func() {
		defer c.events.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleSession) {
			c.log.WithError(err).Debug("push-triggered refresh failed")
		}
	}()
}

// callFailed handles a failed protected call made under session gen.
func (c *Controller) callFailed(gen uint64, err error) error {
	if !c.sessions.IsCurrent(gen) {
		return ErrStaleSession
	}
	if gateway.IsKind(err, gateway.KindAuthorization) {
		c.log.WithError(err).Warn("authorization rejected, logging out")
		c.sessions.Logout()
	}
	c.notify(LevelError, ErrorMessage(err))
	return err
}

func (c *Controller) reportAuthFailure(err error) error {
	if errors.Is(err, ErrStaleSession) {
		return err
	}
	c.notify(LevelError, ErrorMessage(err))
	return err
}

func (c *Controller) onLogout() {
	if c.push != nil {
		c.push.Close()
	}
	c.mu.Lock()
	c.region = RegionLanding
	c.form = ""
	c.view = nil
	c.busy = false
	c.seqApplied = c.seqIssued
	st := c.stateLocked()
	c.mu.Unlock()
	c.changed(st)
}

// begin marks a user action in flight. The action must be offered in the
// current region.
func (c *Controller) begin(offered ...Region) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return 0, ErrBusy
	}
	allowed := false
	for _, r := range offered {
		if c.region == r {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, ErrInvalidTransition
	}
	c.busy = true
	c.action++
	return c.action, nil
}

// beginIn is begin restricted to region and a hydrated session.
func (c *Controller) beginIn(region Region) (uint64, session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region != region {
		return 0, session.Session{}, ErrInvalidTransition
	}
	if c.busy {
		return 0, session.Session{}, ErrBusy
	}
	snap := c.sessions.Snapshot()
	if !snap.Hydrated() {
		return 0, session.Session{}, session.ErrNoSession
	}
	c.busy = true
	c.action++
	return c.action, snap, nil
}

// end clears the busy flag unless a logout already reset it and a newer
// action took over.
func (c *Controller) end(id uint64) {
	c.mu.Lock()
	if c.action == id {
		c.busy = false
	}
	c.mu.Unlock()
}

func (c *Controller) setRegion(r Region, f Form) {
	c.mu.Lock()
	c.region = r
	c.form = f
	if !r.IsDashboard() {
		c.view = nil
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.changed(st)
}

func (c *Controller) changed(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

func (c *Controller) notify(level Level, msg string) {
	c.notifier.Notify(Notification{Level: level, Message: msg})
}
