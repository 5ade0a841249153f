package api

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"taskmate/internal/models"
)

type account struct {
	profile models.UserProfile
	hash    []byte
}

// Store is the backend's in-memory user and task repository.
type Store struct {
	cost int

	mu       sync.RWMutex
	byEmail  map[string]*account
	byID     map[int64]*account
	tasks    map[int64]*models.Task
	nextUser int64
	nextTask int64
}

// NewStore creates an empty store. cost is the bcrypt cost; zero means
// bcrypt.DefaultCost.
func NewStore(cost int) *Store {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	s := &Store{cost: cost}
	s.Reset()
	return s
}

// Reset drops all users and tasks.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail = map[string]*account{}
	s.byID = map[int64]*account{}
	s.tasks = map[int64]*models.Task{}
	s.nextUser = 0
	s.nextTask = 0
}

func normEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register enforces unique emails and a single admin.
func (s *Store) Register(role models.Role, reg models.Registration) (models.UserProfile, error) {
	if normEmail(reg.Email) == "" || reg.Password == "" {
		return models.UserProfile{}, errBadRequest("Email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return models.UserProfile{}, errInternal("Registration failed: " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := normEmail(reg.Email)
	if _, ok := s.byEmail[key]; ok {
		return models.UserProfile{}, errBadRequest(msgUserExists)
	}
	if role == models.RoleAdmin {
		for _, a := range s.byID {
			if a.profile.Role == models.RoleAdmin {
				return models.UserProfile{}, errBadRequest(msgAdminExists)
			}
		}
	}
	s.nextUser++
	a := &account{
		profile: models.UserProfile{ID: s.nextUser, Name: reg.Name, Email: strings.TrimSpace(reg.Email), Role: role},
		hash:    hash,
	}
	s.byEmail[key] = a
	s.byID[a.profile.ID] = a
	return a.profile, nil
}

func (s *Store) Authenticate(creds models.Credentials) (models.UserProfile, error) {
	s.mu.RLock()
	a, ok := s.byEmail[normEmail(creds.Email)]
	s.mu.RUnlock()
	if !ok {
		return models.UserProfile{}, errUnauthorized("Bad credentials")
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(creds.Password)); err != nil {
		return models.UserProfile{}, errUnauthorized("Bad credentials")
	}
	return a.profile, nil
}

func (s *Store) UserByEmail(email string) (models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byEmail[normEmail(email)]
	if !ok {
		return models.UserProfile{}, errNotFound("User not found with email: " + email)
	}
	return a.profile, nil
}

// Users returns all profiles ordered by id.
func (s *Store) Users() []models.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UserProfile, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateTask assigns a new PENDING task to userID.
func (s *Store) CreateTask(details models.TaskDetails, userID int64) (models.Task, error) {
	if err := details.Validate(); err != nil {
		return models.Task{}, errBadRequest("Failed to create task: " + err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[userID]
	if !ok {
		return models.Task{}, errBadRequest("Failed to create task: User not found with ID: " + itoa(userID))
	}
	s.nextTask++
	assignee := a.profile
	t := &models.Task{
		ID:          s.nextTask,
		Title:       details.Title,
		Description: details.Description,
		Deadline:    details.Deadline,
		Priority:    details.Priority,
		Status:      models.StatusPending,
		Comments:    details.Comments,
		AssignedTo:  &assignee,
	}
	s.tasks[t.ID] = t
	return copyTask(t), nil
}

// Tasks returns every task, or only those assigned to userID when userID > 0.
func (s *Store) Tasks(userID int64) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if userID > 0 && (t.AssignedTo == nil || t.AssignedTo.ID != userID) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus overwrites the status; ordering rules are left to clients.
func (s *Store) SetStatus(taskID int64, status models.Status) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return models.Task{}, errNotFound("Task not found")
	}
	t.Status = status
	return copyTask(t), nil
}

func copyTask(t *models.Task) models.Task {
	out := *t
	if t.AssignedTo != nil {
		u := *t.AssignedTo
		out.AssignedTo = &u
	}
	return out
}
