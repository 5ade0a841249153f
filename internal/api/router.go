package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskmate/internal/models"
)

func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/api/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/api/auth/login", s.LoginHandler).Methods("POST")
	r.HandleFunc("/api/auth/register-admin", s.RegisterHandler(models.RoleAdmin)).Methods("POST")
	r.HandleFunc("/api/auth/register-user", s.RegisterHandler(models.RoleUser)).Methods("POST")
	r.HandleFunc("/api/demo/reset", s.ResetHandler).Methods("POST")
	r.Handle("/ws", s.hub)

	admin := r.PathPrefix("/api/task").Subrouter()
	admin.Use(s.requireAuth(models.RoleAdmin))
	admin.HandleFunc("", s.ListAllTasksHandler).Methods("GET")
	admin.HandleFunc("/create-task", s.CreateTaskHandler).Methods("POST")

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(s.requireAuth())
	// /users must be registered before /{email}.
	authed.HandleFunc("/profile/users", s.ListUsersHandler).Methods("GET")
	authed.HandleFunc("/profile/{email}", s.ProfileHandler).Methods("GET")
	authed.HandleFunc("/user/tasks", s.ListUserTasksHandler).Methods("GET")
	authed.HandleFunc("/user/task/{id:[0-9]+}", s.UpdateStatusHandler).Methods("PUT")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  r.Header.Get("X-Request-ID"),
		}).Info("request")
	})
}
