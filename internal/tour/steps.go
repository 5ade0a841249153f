package tour

import (
	"time"

	"taskmate/internal/models"
)

// Step actions, in tour order.
const (
	ActionWelcome      = "showWelcome"
	ActionCreateUsers  = "createUsers"
	ActionAdminLogin   = "adminLogin"
	ActionCreateTasks  = "createTasks"
	ActionUserLogin    = "userLogin"
	ActionUpdateStatus = "updateTaskStatus"
	ActionShowRealTime = "showRealTime"
	ActionComplete     = "completeTour"
)

type Step struct {
	Action      string
	Title       string
	Description string
	Duration    time.Duration
}

func DefaultSteps() []Step {
	return []Step{
		{ActionWelcome, "Welcome to TaskMate Demo", "Let's walk through a complete task management workflow!", 3 * time.Second},
		{ActionCreateUsers, "Creating Demo Users", "Setting up admin and team members...", 4 * time.Second},
		{ActionAdminLogin, "Admin Login", "Logging in as administrator...", 2 * time.Second},
		{ActionCreateTasks, "Creating Sample Tasks", "Admin is creating and assigning tasks to team members...", 5 * time.Second},
		{ActionUserLogin, "User Login", "Switching to user view to see assigned tasks...", 3 * time.Second},
		{ActionUpdateStatus, "Updating Task Status", "User is updating task status from Pending to In Progress...", 4 * time.Second},
		{ActionShowRealTime, "Real-time Updates", "Watch how changes appear instantly in admin dashboard!", 5 * time.Second},
		{ActionComplete, "Demo Complete!", "You've seen the complete TaskMate workflow!", 3 * time.Second},
	}
}

const DemoPassword = "demo123"

type DemoUser struct {
	Name  string
	Email string
	Role  models.Role
}

type DemoTask struct {
	Title       string
	Description string
	Priority    models.Priority
	DaysAhead   int
	Comments    string
	Assignee    string // email
}

// Details builds the create-task payload with the deadline relative to today.
func (t DemoTask) Details() models.TaskDetails {
	return models.TaskDetails{
		Title:       t.Title,
		Description: t.Description,
		Deadline:    models.DaysFromNow(t.DaysAhead),
		Priority:    t.Priority,
		Comments:    t.Comments,
	}
}

const (
	adminEmail = "admin@demo.com"
	userEmail  = "sarah@demo.com"
)

var DemoUsers = []DemoUser{
	{"John Admin", adminEmail, models.RoleAdmin},
	{"Sarah Developer", userEmail, models.RoleUser},
	{"Mike Designer", "mike@demo.com", models.RoleUser},
	{"Lisa Tester", "lisa@demo.com", models.RoleUser},
}

var DemoTasks = []DemoTask{
	{
		Title:       "Design User Interface",
		Description: "Create modern, responsive UI designs for the mobile app",
		Priority:    models.PriorityHigh,
		DaysAhead:   5,
		Comments:    "Focus on user experience and accessibility",
		Assignee:    userEmail,
	},
	{
		Title:       "Implement Backend API",
		Description: "Develop RESTful APIs for user authentication and data management",
		Priority:    models.PriorityUrgent,
		DaysAhead:   7,
		Comments:    "Use Spring Boot with JWT authentication",
		Assignee:    "mike@demo.com",
	},
	{
		Title:       "Write Unit Tests",
		Description: "Create comprehensive test coverage for all modules",
		Priority:    models.PriorityMedium,
		DaysAhead:   3,
		Comments:    "Aim for 90% code coverage",
		Assignee:    "lisa@demo.com",
	},
}
