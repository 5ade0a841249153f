package view

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"taskmate/internal/gateway"
	"taskmate/internal/push"
	"taskmate/internal/session"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient message for the user. Nothing the controller
// reports is fatal.
type Notification struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger; used when no UI is attached.
func LogNotifier(log *logrus.Entry) Notifier {
	return NotifierFunc(func(n Notification) {
		entry := log.WithField("level_hint", n.Level)
		if n.Level == LevelError {
			entry.Warn(n.Message)
			return
		}
		entry.Info(n.Message)
	})
}

// ErrorMessage turns an error into the text shown to the user.
func ErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "Please wait for the current action to finish."
	case errors.Is(err, ErrInvalidTransition):
		return "That action is not available right now."
	case errors.Is(err, session.ErrNoSession):
		return "Please log in first."
	}

	var ge *gateway.Error
	if !errors.As(err, &ge) {
		return err.Error()
	}
	switch ge.Kind {
	case gateway.KindAuthentication:
		return "Invalid email or password."
	case gateway.KindRegistrationConflict:
		if ge.Conflict == gateway.ConflictAdminExists {
			return "An admin account already exists. Only one admin is allowed."
		}
		return "An account with this email already exists."
	case gateway.KindValidation:
		return ge.Message
	case gateway.KindNetwork:
		return "Cannot reach the TaskMate server. Check your connection."
	case gateway.KindAuthorization:
		return "Your session has expired. Please log in again."
	case gateway.KindNotFound:
		return "The requested item was not found."
	}
	if ge.Message != "" {
		return fmt.Sprintf("Server error: %s", ge.Message)
	}
	return "Server error."
}

// EventMessage describes a push event.
func EventMessage(ev push.Event) string {
	switch ev.Topic {
	case push.TopicTaskCreated:
		return "Task updated: " + ev.Task.Title
	case push.TopicTaskStatusChanged:
		return fmt.Sprintf("Task status changed: %s is now %s", ev.Task.Title, ev.Task.Status)
	case push.TopicTaskAssigned:
		return "New task assigned: " + ev.Task.Title
	}
	return "Tasks changed"
}
