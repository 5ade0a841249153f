package tour

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskmate/internal/api"
	"taskmate/internal/files"
	"taskmate/internal/gateway"
	"taskmate/internal/models"
	"taskmate/internal/session"
	"taskmate/internal/view"
)

type harness struct {
	backend *api.Server
	client  *gateway.Client
	ctl     *view.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := api.NewServer(api.WithBcryptCost(bcrypt.MinCost))
	srv := httptest.NewServer(api.NewRouter(backend))
	t.Cleanup(srv.Close)

	client := gateway.New(srv.URL)
	store := session.New(client, &files.MemoryTokenStore{})
	client.SetTokenSource(store)
	ctl := view.New(store, client, view.WithNotifier(view.NotifierFunc(func(view.Notification) {})))
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ctl.Close)
	return &harness{backend: backend, client: client, ctl: ctl}
}

func TestDefaultSteps(t *testing.T) {
	steps := DefaultSteps()
	if len(steps) != 8 || steps[0].Action != ActionWelcome || steps[7].Action != ActionComplete {
		t.Fatalf("unexpected steps %+v", steps)
	}
	var total time.Duration
	for _, s := range steps {
		total += s.Duration
	}
	if total != 29*time.Second {
		t.Fatalf("unexpected total duration %v", total)
	}
}

func TestRunCompletesTour(t *testing.T) {
	h := newHarness(t)
	var seen []Progress
	r := NewRunner(h.client, h.ctl, WithWait(NoWait), WithProgress(func(p Progress) { seen = append(seen, p) }))

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(rep.Failed) != 0 || rep.Ran != 8 || rep.RunID == "" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(seen) != 8 || seen[3].String() != "Step 4 of 8: Creating Sample Tasks" {
		t.Fatalf("unexpected progress %v", seen)
	}

	st := h.ctl.Snapshot()
	if st.Region != view.RegionAdmin || st.View == nil {
		t.Fatalf("tour must end on the admin dashboard, got %+v", st)
	}
	if st.View.Stats.TotalTasks != 3 || st.View.Stats.TotalUsers != 4 || st.View.Stats.PendingTasks != 2 {
		t.Fatalf("unexpected stats %+v", st.View.Stats)
	}
	for _, c := range st.View.Cards {
		want := models.StatusPending
		if c.Task.AssignedTo != nil && c.Task.AssignedTo.Email == "sarah@demo.com" {
			want = models.StatusInProgress
		}
		if c.Task.Status != want {
			t.Fatalf("task %q: status %s, want %s", c.Task.Title, c.Task.Status, want)
		}
	}
}

func TestRerunToleratesExistingAccounts(t *testing.T) {
	h := newHarness(t)
	r := NewRunner(h.client, h.ctl, WithWait(NoWait))
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, failed := rep.Failed[ActionCreateUsers]; failed {
		t.Fatalf("existing demo accounts must not fail the step: %v", rep.Failed)
	}
}

type brokenAccounts struct{ Accounts }

func (brokenAccounts) ListUsers(context.Context) ([]models.UserProfile, error) {
	return nil, errors.New("boom")
}

func TestFailedStepDoesNotStopTour(t *testing.T) {
	h := newHarness(t)
	r := NewRunner(brokenAccounts{h.client}, h.ctl, WithWait(NoWait))
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Ran != 8 {
		t.Fatalf("all steps must run, ran %d", rep.Ran)
	}
	if rep.Failed[ActionCreateTasks] == nil || rep.Failed[ActionUpdateStatus] == nil {
		t.Fatalf("expected task steps to fail, got %v", rep.Failed)
	}
	if st := h.ctl.Snapshot(); st.Region != view.RegionAdmin {
		t.Fatalf("later steps must still run, region %s", st.Region)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRunner(h.client, h.ctl, WithWait(NoWait), WithProgress(func(p Progress) {
		if p.Index == 3 {
			cancel()
		}
	}))

	rep, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rep.Ran != 3 {
		t.Fatalf("expected to stop after step 3, ran %d", rep.Ran)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
