package dashboard

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"taskmate/internal/models"
)

var (
	admin = models.UserProfile{ID: 1, Name: "Ada", Email: "ada@x.com", Role: models.RoleAdmin}
	user  = models.UserProfile{ID: 2, Name: "Sam", Email: "sam@x.com", Role: models.RoleUser}
)

func tasks() []models.Task {
	return []models.Task{
		{ID: 1, Title: "a", Status: models.StatusPending, Priority: models.PriorityLow, AssignedTo: &user},
		{ID: 2, Title: "b", Status: models.StatusInProgress, Priority: models.PriorityHigh, AssignedTo: &user},
		{ID: 3, Title: "c", Status: models.StatusCompleted, Priority: models.PriorityUrgent, Comments: "done early"},
		{ID: 4, Title: "d", Status: models.StatusPending, Priority: models.PriorityMedium},
	}
}

func TestActionsFor(t *testing.T) {
	cases := map[models.Status][]Action{
		models.StatusPending:    {ActionStart},
		models.StatusInProgress: {ActionComplete},
		models.StatusCompleted:  nil,
	}
	for status, want := range cases {
		if got := ActionsFor(status); !reflect.DeepEqual(got, want) {
			t.Errorf("ActionsFor(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestUserViewHasActionsAndNoStats(t *testing.T) {
	v := Render(tasks(), user, nil)
	if v.Stats != nil || v.Assignees != nil {
		t.Fatal("user view must not carry admin data")
	}
	if len(v.Cards) != 4 {
		t.Fatalf("user view must show tasks as returned, got %d", len(v.Cards))
	}
	for _, c := range v.Cards {
		if !reflect.DeepEqual(c.Actions, ActionsFor(c.Task.Status)) {
			t.Fatalf("task %d: unexpected actions %v", c.Task.ID, c.Actions)
		}
	}
	if !v.Allows(1, ActionStart) || v.Allows(1, ActionComplete) {
		t.Fatal("pending task offers start only")
	}
	if v.Allows(3, ActionStart) || v.Allows(3, ActionComplete) {
		t.Fatal("completed task offers nothing")
	}
	if v.Allows(99, ActionStart) {
		t.Fatal("unknown task offers nothing")
	}
}

func TestAdminViewHasStatsAndNoActions(t *testing.T) {
	users := []models.UserProfile{admin, user, {ID: 3, Name: "Lee", Role: models.RoleUser}}
	v := Render(tasks(), admin, users)

	want := Stats{TotalTasks: 4, PendingTasks: 2, TotalUsers: 3}
	if v.Stats == nil || *v.Stats != want {
		t.Fatalf("stats = %+v, want %+v", v.Stats, want)
	}
	for _, c := range v.Cards {
		if len(c.Actions) != 0 {
			t.Fatalf("admin card %d must have no actions", c.Task.ID)
		}
	}
	if len(v.Assignees) != 3 || v.Assignees[1] != (Assignee{ID: 2, Name: "Sam"}) {
		t.Fatalf("unexpected assignees %+v", v.Assignees)
	}
}

func TestActionTargets(t *testing.T) {
	if ActionStart.Target() != models.StatusInProgress || ActionComplete.Target() != models.StatusCompleted {
		t.Fatal("unexpected action targets")
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Render(tasks(), user, nil)); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"User dashboard for Sam", "ACTIONS", "Start", "Complete", "done early"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := Write(&buf, Render(nil, admin, []models.UserProfile{admin})); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	for _, want := range []string{"Admin dashboard", "Total tasks: 0", "No tasks yet.", "Assignable users:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
