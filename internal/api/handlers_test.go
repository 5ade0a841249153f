package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"taskmate/internal/gateway"
	"taskmate/internal/models"
	"taskmate/internal/push"
)

type tokenVar struct{ v string }

func (t *tokenVar) Token() string { return t.v }

func newBackend(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(WithBcryptCost(bcrypt.MinCost), WithSecret([]byte("test")))
	srv := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		s.Hub().Close()
		srv.Close()
	})
	return s, srv
}

func newClient(srv *httptest.Server) (*gateway.Client, *tokenVar) {
	tok := &tokenVar{}
	return gateway.New(srv.URL, gateway.WithTokenSource(tok)), tok
}

func TestRegisterLoginAndProfile(t *testing.T) {
	_, srv := newBackend(t)
	c, tok := newClient(srv)
	ctx := context.Background()

	token, err := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "Ada", Email: "ada@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	token, err = c.Authenticate(ctx, models.Credentials{Email: "ada@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	tok.v = token

	u, err := c.FetchProfile(ctx, "ada@x.com")
	if err != nil {
		t.Fatalf("FetchProfile() failed: %v", err)
	}
	if u.Name != "Ada" || !u.IsAdmin() || u.ID == 0 {
		t.Fatalf("unexpected profile %+v", u)
	}
}

func TestBadCredentials(t *testing.T) {
	_, srv := newBackend(t)
	c, _ := newClient(srv)
	if _, err := c.Register(context.Background(), models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Authenticate(context.Background(), models.Credentials{Email: "u@x.com", Password: "wrong"})
	if !gateway.IsKind(err, gateway.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestRegistrationConflicts(t *testing.T) {
	_, srv := newBackend(t)
	c, _ := newClient(srv)
	ctx := context.Background()

	if _, err := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "A", Email: "a@x.com", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "B", Email: "b@x.com", Password: "pw"})
	if gateway.ConflictOf(err) != gateway.ConflictAdminExists {
		t.Fatalf("expected admin-exists conflict, got %v", err)
	}
	_, err = c.Register(ctx, models.RoleUser, models.Registration{Name: "A2", Email: "A@x.com", Password: "pw"})
	if gateway.ConflictOf(err) != gateway.ConflictUserExists {
		t.Fatalf("expected user-exists conflict, got %v", err)
	}
}

func TestRoleScopedRoutes(t *testing.T) {
	_, srv := newBackend(t)
	c, tok := newClient(srv)
	ctx := context.Background()

	adminTok, _ := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "A", Email: "a@x.com", Password: "pw"})
	userTok, _ := c.Register(ctx, models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"})

	if _, err := c.ListAllTasks(ctx); !gateway.IsKind(err, gateway.KindAuthorization) {
		t.Fatalf("missing token must be rejected, got %v", err)
	}
	tok.v = "garbage"
	if _, err := c.ListUsers(ctx); !gateway.IsKind(err, gateway.KindAuthorization) {
		t.Fatalf("invalid token must be rejected, got %v", err)
	}
	tok.v = userTok
	if _, err := c.ListAllTasks(ctx); !gateway.IsKind(err, gateway.KindAuthorization) {
		t.Fatalf("user must not list all tasks, got %v", err)
	}
	if users, err := c.ListUsers(ctx); err != nil || len(users) != 2 {
		t.Fatalf("ListUsers() = %v, %v", users, err)
	}
	tok.v = adminTok
	if tasks, err := c.ListAllTasks(ctx); err != nil || len(tasks) != 0 {
		t.Fatalf("ListAllTasks() = %v, %v", tasks, err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	_, srv := newBackend(t)
	c, tok := newClient(srv)
	ctx := context.Background()

	adminTok, _ := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "A", Email: "a@x.com", Password: "pw"})
	userTok, _ := c.Register(ctx, models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"})
	_, _ = c.Register(ctx, models.RoleUser, models.Registration{Name: "V", Email: "v@x.com", Password: "pw"})

	tok.v = adminTok
	u, err := c.FetchProfile(ctx, "u@x.com")
	if err != nil {
		t.Fatal(err)
	}
	created, err := c.CreateTask(ctx, models.TaskDetails{
		Title:    "Write docs",
		Deadline: models.DaysFromNow(3),
		Priority: models.PriorityHigh,
	}, u.ID)
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if created.Status != models.StatusPending || created.AssignedTo == nil || created.AssignedTo.ID != u.ID {
		t.Fatalf("unexpected task %+v", created)
	}

	if _, err := c.CreateTask(ctx, models.TaskDetails{Title: "x", Deadline: models.DaysFromNow(1)}, 999); !gateway.IsKind(err, gateway.KindValidation) {
		t.Fatalf("unknown assignee must be a validation error, got %v", err)
	}

	tok.v = userTok
	mine, err := c.ListUserTasks(ctx, "u@x.com")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListUserTasks() = %v, %v", mine, err)
	}
	other, err := c.ListUserTasks(ctx, "v@x.com")
	if err != nil || len(other) != 0 {
		t.Fatalf("tasks must be scoped by assignee, got %v, %v", other, err)
	}

	updated, err := c.UpdateTaskStatus(ctx, created.ID, models.StatusInProgress)
	if err != nil || updated.Status != models.StatusInProgress {
		t.Fatalf("UpdateTaskStatus() = %+v, %v", updated, err)
	}
	if _, err := c.UpdateTaskStatus(ctx, 4242, models.StatusCompleted); !gateway.IsKind(err, gateway.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.ListUserTasks(ctx, "ghost@x.com"); !gateway.IsKind(err, gateway.KindNotFound) {
		t.Fatalf("expected not found for unknown email, got %v", err)
	}
}

func TestHealthAndReset(t *testing.T) {
	s, srv := newBackend(t)
	c, _ := newClient(srv)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() failed: %v", err)
	}

	_, _ = c.Register(context.Background(), models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"})
	resp, err := http.Post(srv.URL+"/api/demo/reset", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected reset status %d", resp.StatusCode)
	}
	if n := len(s.Store().Users()); n != 0 {
		t.Fatalf("expected empty store after reset, got %d users", n)
	}
}

func waitSubscribers(t *testing.T, h *Hub, dest string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.Subscribers(dest) < n {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber on %s", dest)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversTaskEvents(t *testing.T) {
	s, srv := newBackend(t)
	c, tok := newClient(srv)
	ctx := context.Background()

	adminTok, _ := c.Register(ctx, models.RoleAdmin, models.Registration{Name: "A", Email: "a@x.com", Password: "pw"})
	userTok, _ := c.Register(ctx, models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"})
	tok.v = userTok
	u, _ := c.FetchProfile(ctx, "u@x.com")

	events := make(chan push.Event, 8)
	ch := push.New("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws",
		push.WithTokenSource(tok), push.WithReconnect(false))
	if err := ch.Open(ctx, u.ID, func(ev push.Event) { events <- ev }); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer ch.Close()
	waitSubscribers(t, s.Hub(), push.DefaultDestinations.UserQueue(u.ID), 1)

	tok.v = adminTok
	task, err := c.CreateTask(ctx, models.TaskDetails{Title: "t", Deadline: models.DaysFromNow(1)}, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	tok.v = userTok
	if _, err := c.UpdateTaskStatus(ctx, task.ID, models.StatusInProgress); err != nil {
		t.Fatal(err)
	}

	seen := map[push.Topic]int{}
	for i := 0; i < 4; i++ {
		select {
		case ev := <-events:
			if ev.Task.ID != task.ID {
				t.Fatalf("unexpected task in event %+v", ev)
			}
			seen[ev.Topic]++
		case <-time.After(3 * time.Second):
			t.Fatalf("missing events, saw %v", seen)
		}
	}
	if seen[push.TopicTaskCreated] != 1 || seen[push.TopicTaskStatusChanged] != 1 || seen[push.TopicTaskAssigned] != 2 {
		t.Fatalf("unexpected topic counts %v", seen)
	}
}

func TestHubRejectsInvalidToken(t *testing.T) {
	_, srv := newBackend(t)
	ch := push.New("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws",
		push.WithTokenSource(&tokenVar{v: "forged"}), push.WithReconnect(false))
	if err := ch.Open(context.Background(), 1, func(push.Event) {}); err == nil {
		ch.Close()
		t.Fatal("expected handshake to fail")
	}
}

func TestHubRequiresToken(t *testing.T) {
	_, srv := newBackend(t)
	ch := push.New("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", push.WithReconnect(false))
	if err := ch.Open(context.Background(), 1, func(push.Event) {}); err == nil {
		ch.Close()
		t.Fatal("expected a connection without a token to be refused")
	}
}

// stompDial opens a raw STOMP session carrying token.
func stompDial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	send(t, ws, push.NewFrame(push.CmdConnect, "accept-version", "1.2", "host", "localhost", "Authorization", "Bearer "+token))
	if f := recv(t, ws); f.Command != push.CmdConnected {
		t.Fatalf("expected CONNECTED, got %s %v", f.Command, f.Headers)
	}
	return ws
}

func send(t *testing.T, ws *websocket.Conn, f push.Frame) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, f.Encode()); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) push.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	f, err := push.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestHubRefusesForeignUserQueue(t *testing.T) {
	s, srv := newBackend(t)
	c, _ := newClient(srv)
	ctx := context.Background()
	if _, err := c.Register(ctx, models.RoleUser, models.Registration{Name: "U", Email: "u@x.com", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	token, err := c.Register(ctx, models.RoleUser, models.Registration{Name: "V", Email: "v@x.com", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	owner, _ := s.Store().UserByEmail("u@x.com")
	self, _ := s.Store().UserByEmail("v@x.com")

	ws := stompDial(t, srv, token)
	own := push.DefaultDestinations.UserQueue(self.ID)
	send(t, ws, push.NewFrame(push.CmdSubscribe, "id", "sub-0", "destination", own))
	waitSubscribers(t, s.Hub(), own, 1)

	foreign := push.DefaultDestinations.UserQueue(owner.ID)
	send(t, ws, push.NewFrame(push.CmdSubscribe, "id", "sub-1", "destination", foreign))
	if f := recv(t, ws); f.Command != push.CmdError {
		t.Fatalf("expected ERROR for %s, got %s", foreign, f.Command)
	}
	if n := s.Hub().Subscribers(foreign); n != 0 {
		t.Fatalf("foreign queue has %d subscribers", n)
	}
}
