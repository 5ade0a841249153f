package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskmate/internal/models"
	"taskmate/internal/push"
	"taskmate/internal/utils"
)

// Server is the in-memory TaskMate backend used for local runs, the demo
// tour and end-to-end tests.
type Server struct {
	store  *Store
	issuer *Issuer
	hub    *Hub
	dest   push.Destinations
	log    *logrus.Entry
}

type Option func(*serverOptions)

type serverOptions struct {
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	log        *logrus.Entry
}

func WithSecret(secret []byte) Option {
	return func(o *serverOptions) { o.secret = secret }
}

func WithTokenTTL(d time.Duration) Option {
	return func(o *serverOptions) { o.tokenTTL = d }
}

// WithBcryptCost lowers the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(o *serverOptions) { o.bcryptCost = cost }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *serverOptions) { o.log = log }
}

func NewServer(opts ...Option) *Server {
	o := serverOptions{
		secret: []byte("taskmate-dev-secret"),
		log:    logrus.NewEntry(utils.NewDiscardLogger()),
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		store:  NewStore(o.bcryptCost),
		issuer: NewIssuer(o.secret, o.tokenTTL),
		dest:   push.DefaultDestinations,
		log:    o.log,
	}
	s.hub = NewHub(s.dest, func(token string) (models.UserProfile, error) {
		email, err := s.issuer.Subject(token)
		if err != nil {
			return models.UserProfile{}, err
		}
		return s.store.UserByEmail(email)
	}, o.log.WithField("component", "hub"))
	return s
}

func (s *Server) Store() *Store { return s.store }
func (s *Server) Hub() *Hub     { return s.hub }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("Malformed request body")
	}
	return nil
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"message":   "TaskMate API is running",
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
	})
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.store.Authenticate(creds)
	if err != nil {
		s.log.WithField("email", creds.Email).Info("login rejected")
		writeError(w, err)
		return
	}
	s.respondToken(w, user)
}

// RegisterHandler returns a handler registering accounts with role.
func (s *Server) RegisterHandler(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg models.Registration
		if err := decodeBody(r, &reg); err != nil {
			writeError(w, err)
			return
		}
		user, err := s.store.Register(role, reg)
		if err != nil {
			writeError(w, err)
			return
		}
		s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("account registered")
		s.respondToken(w, user)
	}
}

func (s *Server) respondToken(w http.ResponseWriter, user models.UserProfile) {
	token, err := s.issuer.Issue(user)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Token: token})
}

func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByEmail(mux.Vars(r)["email"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Users())
}

func (s *Server) ListAllTasksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Tasks(0))
}

func (s *Server) ListUserTasksHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByEmail(r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Tasks(user.ID))
}

func (s *Server) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		writeError(w, errBadRequest("Failed to create task: userId is required"))
		return
	}
	var details models.TaskDetails
	if err := decodeBody(r, &details); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.CreateTask(details, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"task_id": task.ID, "user_id": userID}).Info("task created")

	s.hub.Publish(s.dest.Tasks, task)
	s.hub.Publish(s.dest.UserQueue(userID), task)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, errBadRequest("Invalid task id"))
		return
	}
	status, err := models.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, errBadRequest(err.Error()))
		return
	}
	task, err := s.store.SetStatus(taskID, status)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"task_id": task.ID, "status": status}).Info("task status changed")

	s.hub.Publish(s.dest.TaskStatus, task)
	if task.AssignedTo != nil {
		s.hub.Publish(s.dest.UserQueue(task.AssignedTo.ID), task)
	}
	writeJSON(w, http.StatusOK, task)
}

// ResetHandler wipes all data so a demo can start fresh.
func (s *Server) ResetHandler(w http.ResponseWriter, r *http.Request) {
	s.store.Reset()
	s.log.Info("demo data reset")
	w.WriteHeader(http.StatusNoContent)
}
