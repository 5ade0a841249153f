package dashboard

import "taskmate/internal/models"

// Action is a status change a USER can trigger from a task card.
type Action string

const (
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
)

// Target is the status the action moves a task to.
func (a Action) Target() models.Status {
	switch a {
	case ActionStart:
		return models.StatusInProgress
	case ActionComplete:
		return models.StatusCompleted
	}
	return ""
}

func (a Action) Label() string {
	switch a {
	case ActionStart:
		return "Start"
	case ActionComplete:
		return "Complete"
	}
	return string(a)
}

// ActionsFor derives card actions from status. The two checks are
// independent of each other.
func ActionsFor(status models.Status) []Action {
	var out []Action
	if status != models.StatusCompleted && status != models.StatusInProgress {
		out = append(out, ActionStart)
	}
	if status == models.StatusInProgress {
		out = append(out, ActionComplete)
	}
	return out
}

type Card struct {
	Task    models.Task
	Actions []Action
}

// Stats is the admin summary row.
type Stats struct {
	TotalTasks   int
	PendingTasks int
	TotalUsers   int
}

// Assignee is one entry of the admin's create-task select list.
type Assignee struct {
	ID   int64
	Name string
}

// View is everything a dashboard shows for one user.
type View struct {
	User      models.UserProfile
	Cards     []Card
	Stats     *Stats
	Assignees []Assignee
}

func (v View) IsAdmin() bool { return v.User.IsAdmin() }

// Render builds the dashboard for user. Tasks are shown in the order given;
// the backend has already scoped them for USER accounts. users only feeds
// admin stats and the assignee list.
func Render(tasks []models.Task, user models.UserProfile, users []models.UserProfile) View {
	v := View{User: user, Cards: make([]Card, 0, len(tasks))}

	if user.IsAdmin() {
		stats := &Stats{TotalTasks: len(tasks), TotalUsers: len(users)}
		for _, t := range tasks {
			if t.Status == models.StatusPending {
				stats.PendingTasks++
			}
			v.Cards = append(v.Cards, Card{Task: t})
		}
		v.Stats = stats
		v.Assignees = make([]Assignee, 0, len(users))
		for _, u := range users {
			v.Assignees = append(v.Assignees, Assignee{ID: u.ID, Name: u.Name})
		}
		return v
	}

	for _, t := range tasks {
		v.Cards = append(v.Cards, Card{Task: t, Actions: ActionsFor(t.Status)})
	}
	return v
}

// Card returns the card for taskID.
func (v View) Card(taskID int64) (Card, bool) {
	for _, c := range v.Cards {
		if c.Task.ID == taskID {
			return c, true
		}
	}
	return Card{}, false
}

// Allows reports whether a is offered on the card for taskID.
func (v View) Allows(taskID int64, a Action) bool {
	c, ok := v.Card(taskID)
	if !ok {
		return false
	}
	for _, have := range c.Actions {
		if have == a {
			return true
		}
	}
	return false
}
