package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskmate/internal/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, opts...)
}

func TestAuthenticateSendsNoToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("login must not carry a token, got %q", got)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("missing request id")
		}
		var creds models.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Email != "a@x.com" || creds.Password != "pw" {
			t.Errorf("unexpected body %+v", creds)
		}
		_ = json.NewEncoder(w).Encode(models.AuthResponse{Token: "tok"})
	}), WithTokenSource(staticToken("stale")))

	tok, err := c.Authenticate(context.Background(), models.Credentials{Email: "a@x.com", Password: "pw"})
	if err != nil || tok != "tok" {
		t.Fatalf("Authenticate() = %q, %v", tok, err)
	}
}

func TestAuthenticateFailureKinds(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := c.Authenticate(context.Background(), models.Credentials{Email: "a@x.com", Password: "bad"})
	if !IsKind(err, KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestProtectedCallAttachesBearer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Path != "/api/profile/a@x.com" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(models.UserProfile{ID: 3, Name: "A", Email: "a@x.com", Role: models.RoleAdmin})
	}), WithTokenSource(staticToken("tok-1")))

	u, err := c.FetchProfile(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FetchProfile() failed: %v", err)
	}
	if u.ID != 3 || !u.IsAdmin() {
		t.Fatalf("unexpected profile %+v", u)
	}
}

func TestErrorBodyIsRawText(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"looks":"like json"}`)
	}), WithTokenSource(staticToken("t")))

	_, err := c.ListAllTasks(context.Background())
	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ge.Kind != KindValidation || ge.Status != http.StatusBadRequest || ge.Message != `{"looks":"like json"}` {
		t.Fatalf("unexpected error %+v", ge)
	}
}

func TestAuthorizationAndNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/user/tasks") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	if _, err := c.ListUsers(context.Background()); !IsKind(err, KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := c.ListUserTasks(context.Background(), "ghost@x.com"); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterConflicts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if r.URL.Path == "/api/auth/register-admin" {
			_, _ = io.WriteString(w, "Admin already exists. Only one admin is allowed.")
			return
		}
		_, _ = io.WriteString(w, "User already exists with this email")
	}))

	_, err := c.Register(context.Background(), models.RoleAdmin, models.Registration{Name: "A", Email: "b@x.com", Password: "pw"})
	if !IsKind(err, KindRegistrationConflict) || ConflictOf(err) != ConflictAdminExists {
		t.Fatalf("expected admin conflict, got %v", err)
	}
	_, err = c.Register(context.Background(), models.RoleUser, models.Registration{Name: "A", Email: "b@x.com", Password: "pw"})
	if !IsKind(err, KindRegistrationConflict) || ConflictOf(err) != ConflictUserExists {
		t.Fatalf("expected user conflict, got %v", err)
	}
}

func TestNetworkErrorIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	_, err := c.Authenticate(context.Background(), models.Credentials{Email: "a@x.com", Password: "pw"})
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	var ge *Error
	if errors.As(err, &ge) && ge.Status != 0 {
		t.Fatalf("network error must not carry a status, got %d", ge.Status)
	}
}

func TestCreateTaskValidatesBeforeCalling(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	details := models.TaskDetails{Title: "Ship it", Deadline: models.DaysFromNow(1)}
	if _, err := c.CreateTask(context.Background(), details, 0); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.CreateTask(context.Background(), models.TaskDetails{}, 4); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("validation errors must not reach the network, got %d calls", n)
	}
}

func TestCreateTaskAndUpdateStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/task/create-task":
			if r.URL.Query().Get("userId") != "4" {
				t.Errorf("unexpected userId %q", r.URL.Query().Get("userId"))
			}
			var d models.TaskDetails
			_ = json.NewDecoder(r.Body).Decode(&d)
			_ = json.NewEncoder(w).Encode(models.Task{ID: 11, Title: d.Title, Status: models.StatusPending, Priority: d.Priority})
		case r.Method == http.MethodPut && r.URL.Path == "/api/user/task/11":
			if r.URL.Query().Get("status") != "IN_PROGRESS" {
				t.Errorf("unexpected status %q", r.URL.Query().Get("status"))
			}
			if r.ContentLength > 0 {
				t.Error("status update must not send a body")
			}
			_ = json.NewEncoder(w).Encode(models.Task{ID: 11, Status: models.StatusInProgress})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}), WithTokenSource(staticToken("t")))

	task, err := c.CreateTask(context.Background(), models.TaskDetails{Title: "Ship it", Deadline: models.DaysFromNow(1)}, 4)
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if task.ID != 11 || task.Priority != models.PriorityMedium {
		t.Fatalf("unexpected task %+v", task)
	}
	updated, err := c.UpdateTaskStatus(context.Background(), 11, models.StatusInProgress)
	if err != nil || updated.Status != models.StatusInProgress {
		t.Fatalf("UpdateTaskStatus() = %+v, %v", updated, err)
	}
	if _, err := c.UpdateTaskStatus(context.Background(), 11, "DONE"); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestMetricsCountFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), WithMetrics(m))

	if _, err := c.ListAllTasks(context.Background()); !IsKind(err, KindServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("list_all_tasks", "server")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("get", "500")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"UP"}`)
	}))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() failed: %v", err)
	}
}
