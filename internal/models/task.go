package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether next is a forward move from s. The server is
// the authority; this only gates what the client offers.
func (s Status) CanAdvanceTo(next Status) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to > from
}

const dateLayout = "2006-01-02"

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DaysFromNow returns the date n days after today (UTC).
func DaysFromNow(n int) Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day()+n)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	// Some backends send full timestamps for LocalDate columns.
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Task is a read-through snapshot of a backend task.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Deadline    Date         `json:"deadline"`
	Priority    Priority     `json:"priority"`
	Status      Status       `json:"status"`
	Comments    string       `json:"comments,omitempty"`
	AssignedTo  *UserProfile `json:"assignedTo,omitempty"`
}

// TaskDetails is the create-task payload: task fields minus id and status.
type TaskDetails struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Deadline    Date     `json:"deadline"`
	Priority    Priority `json:"priority"`
	Comments    string   `json:"comments,omitempty"`
}

var (
	ErrTitleRequired    = errors.New("title is required")
	ErrDeadlineRequired = errors.New("deadline is required")
)

// Validate checks required fields and fills the default priority.
func (d *TaskDetails) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if d.Deadline.IsZero() {
		return ErrDeadlineRequired
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
		return nil
	}
	if _, err := ParsePriority(string(d.Priority)); err != nil {
		return err
	}
	return nil
}
