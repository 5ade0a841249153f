package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskmate/internal/models"
	"taskmate/internal/utils"
)

// RequestIDHeader carries a per-call id the backend can log.
const RequestIDHeader = "X-Request-ID"

// TokenSource supplies the bearer token of the current session, or "".
type TokenSource interface {
	Token() string
}

// Client is a thin wrapper around the TaskMate REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	metrics *Metrics
	log     *logrus.Entry
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics instruments the client's transport. Apply it after
// WithHTTPClient.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
		hc := *c.http
		hc.Transport = m.RoundTripper(hc.Transport)
		c.http = &hc
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New returns a client for the backend at baseURL (scheme://host[:port]).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logrus.NewEntry(utils.NewDiscardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource attaches the session once it exists. The session depends on
// the client for login, so the link is made after construction.
func (c *Client) SetTokenSource(ts TokenSource) { c.tokens = ts }

func (c *Client) BaseURL() string { return c.baseURL }

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	auth   bool
	kindOf func(status int) Kind
}

// do sends the request and decodes a 2xx JSON body into out (if non-nil and
// the body is not empty). Error statuses become *Error with the raw body.
func (c *Client) do(ctx context.Context, cl call, out any) (*Error, []byte) {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return &Error{Op: cl.op, Kind: KindValidation, Err: fmt.Errorf("encode body: %w", err)}, nil
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return &Error{Op: cl.op, Kind: KindValidation, Err: err}, nil
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.auth && c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	logEntry := c.log.WithFields(logrus.Fields{
		"op":         cl.op,
		"request_id": requestID,
		"method":     cl.method,
		"path":       cl.path,
	})
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logEntry.WithError(err).Warn("backend unreachable")
		return &Error{Op: cl.op, Kind: KindNetwork, Err: err}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: cl.op, Kind: KindNetwork, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}, nil
	}
	logEntry.WithFields(logrus.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("backend call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kindOf := cl.kindOf
		if kindOf == nil {
			kindOf = kindForProtected
		}
		return &Error{
			Op:      cl.op,
			Kind:    kindOf(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(raw)),
		}, raw
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: cl.op, Kind: KindServer, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}, raw
		}
	}
	return nil, raw
}

// run wraps do so that a nil *Error never becomes a non-nil error interface.
func (c *Client) run(ctx context.Context, cl call, out any) error {
	if gerr, _ := c.do(ctx, cl, out); gerr != nil {
		c.metrics.observeFailure(gerr.Op, gerr.Kind)
		return gerr
	}
	return nil
}

// Authenticate exchanges credentials for a token.
func (c *Client) Authenticate(ctx context.Context, creds models.Credentials) (string, error) {
	var out models.AuthResponse
	err := c.run(ctx, call{
		op:     "authenticate",
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   creds,
		kindOf: kindForLogin,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &Error{Op: "authenticate", Kind: KindServer, Message: "empty token in response"}
	}
	return out.Token, nil
}

// Register creates an account with the given role and returns its token.
func (c *Client) Register(ctx context.Context, role models.Role, reg models.Registration) (string, error) {
	const op = "register"
	if strings.TrimSpace(reg.Email) == "" || reg.Password == "" {
		return "", ValidationError(op, "email and password are required")
	}
	path := "/api/auth/register-user"
	if role == models.RoleAdmin {
		path = "/api/auth/register-admin"
	}

	var out models.AuthResponse
	gerr, _ := c.do(ctx, call{op: op, method: http.MethodPost, path: path, body: reg}, &out)
	if gerr != nil {
		if gerr.Status != 0 {
			if conflict := classifyConflict(gerr.Message); conflict != ConflictNone {
				gerr.Kind = KindRegistrationConflict
				gerr.Conflict = conflict
			}
		}
		c.metrics.observeFailure(op, gerr.Kind)
		return "", gerr
	}
	if out.Token == "" {
		return "", &Error{Op: op, Kind: KindServer, Message: "empty token in response"}
	}
	return out.Token, nil
}

func (c *Client) FetchProfile(ctx context.Context, email string) (models.UserProfile, error) {
	var out models.UserProfile
	if strings.TrimSpace(email) == "" {
		return out, ValidationError("fetch_profile", "email is required")
	}
	err := c.run(ctx, call{
		op:     "fetch_profile",
		method: http.MethodGet,
		path:   "/api/profile/" + url.PathEscape(email),
		auth:   true,
	}, &out)
	return out, err
}

func (c *Client) ListUsers(ctx context.Context) ([]models.UserProfile, error) {
	var out []models.UserProfile
	err := c.run(ctx, call{op: "list_users", method: http.MethodGet, path: "/api/profile/users", auth: true}, &out)
	return out, err
}

// ListAllTasks is the admin-scoped task list.
func (c *Client) ListAllTasks(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := c.run(ctx, call{op: "list_all_tasks", method: http.MethodGet, path: "/api/task", auth: true}, &out)
	return out, err
}

// ListUserTasks is the user-scoped task list; the server does the scoping.
func (c *Client) ListUserTasks(ctx context.Context, email string) ([]models.Task, error) {
	var out []models.Task
	err := c.run(ctx, call{
		op:     "list_user_tasks",
		method: http.MethodGet,
		path:   "/api/user/tasks",
		query:  url.Values{"email": {email}},
		auth:   true,
	}, &out)
	return out, err
}

// CreateTask validates details locally, then creates and assigns the task.
func (c *Client) CreateTask(ctx context.Context, details models.TaskDetails, assigneeID int64) (models.Task, error) {
	const op = "create_task"
	var out models.Task
	if assigneeID <= 0 {
		return out, ValidationError(op, "select a user to assign the task to")
	}
	if err := details.Validate(); err != nil {
		return out, ValidationError(op, err.Error())
	}
	err := c.run(ctx, call{
		op:     op,
		method: http.MethodPost,
		path:   "/api/task/create-task",
		query:  url.Values{"userId": {strconv.FormatInt(assigneeID, 10)}},
		body:   details,
		auth:   true,
	}, &out)
	return out, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, taskID int64, status models.Status) (models.Task, error) {
	const op = "update_task_status"
	var out models.Task
	if _, err := models.ParseStatus(string(status)); err != nil {
		return out, ValidationError(op, err.Error())
	}
	err := c.run(ctx, call{
		op:     op,
		method: http.MethodPut,
		path:   "/api/user/task/" + strconv.FormatInt(taskID, 10),
		query:  url.Values{"status": {string(status)}},
		auth:   true,
	}, &out)
	return out, err
}

// Health checks /api/health.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.run(ctx, call{op: "health", method: http.MethodGet, path: "/api/health"}, &out); err != nil {
		return err
	}
	if out.Status != "UP" {
		return &Error{Op: "health", Kind: KindServer, Message: "status " + out.Status}
	}
	return nil
}
