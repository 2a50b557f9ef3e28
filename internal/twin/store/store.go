// Package store is the data layer of the reference backend: users with
// bcrypt-hashed passwords and tasks, held in memory.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	base "github.com/wondertwin-ai/apiconform/pkg/store"
	"golang.org/x/crypto/bcrypt"
)

// Defaults for the seeded account.
const (
	DefaultEmail    = "admin@example.com"
	DefaultPassword = "admin123"
)

// Task statuses and priorities.
var (
	Statuses   = []string{"TODO", "IN_PROGRESS", "IN_REVIEW", "DONE"}
	Priorities = []string{"LOW", "MEDIUM", "HIGH", "URGENT"}
)

// ErrEmailTaken is returned when a user with the same email exists.
var ErrEmailTaken = errors.New("email already registered")

// User is a stored account.
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	FullName       *string   `json:"full_name"`
	HashedPassword string    `json:"hashed_password"`
	IsActive       bool      `json:"is_active"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Task is a stored task.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	ProjectID   *int64    `json:"project_id"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskPatch is a partial update; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	ProjectID   *int64
}

// TaskFilter narrows a task listing. Zero values match everything.
type TaskFilter struct {
	OwnerID   int64
	Search    string
	Status    string
	Priority  string
	ProjectID int64
}

// MemoryStore holds all backend state.
type MemoryStore struct {
	Users *base.Table[User]
	Tasks *base.Table[Task]
	Clock *base.Clock

	mu       sync.Mutex // serializes user creation so emails stay unique
	hashCost int
	seed     []byte
}

// New creates a store seeded with the default admin account. hashCost is
// the bcrypt cost; zero means bcrypt.DefaultCost.
func New(clock *base.Clock, hashCost int) *MemoryStore {
	if clock == nil {
		clock = base.NewClock()
	}
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	s := &MemoryStore{
		Users:    base.NewTable[User](),
		Tasks:    base.NewTable[Task](),
		Clock:    clock,
		hashCost: hashCost,
	}
	s.Reset()
	return s
}

// SetSeed loads data as the initial state and keeps it for later resets.
func (s *MemoryStore) SetSeed(data []byte) error {
	if err := s.LoadState(data); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	s.seed = data
	return nil
}

// Reset clears all state and restores the seed (or the default account).
func (s *MemoryStore) Reset() {
	s.Users.Reset()
	s.Tasks.Reset()
	if s.seed != nil {
		if err := s.LoadState(s.seed); err == nil {
			return
		}
	}
	name := "Admin"
	if _, err := s.CreateUser(DefaultEmail, DefaultPassword, &name, "admin"); err != nil {
		panic(fmt.Sprintf("seeding default user: %v", err))
	}
}

type snapshot struct {
	Users map[string]User `json:"users"`
	Tasks map[string]Task `json:"tasks"`
}

// Snapshot returns the full state.
func (s *MemoryStore) Snapshot() any {
	return snapshot{Users: s.Users.Snapshot(), Tasks: s.Tasks.Snapshot()}
}

// seedUser accepts a plaintext password in seed files.
type seedUser struct {
	User
	Password string `json:"password,omitempty"`
}

// LoadState replaces the full state. Users may carry a plaintext
// "password", which is hashed on load.
func (s *MemoryStore) LoadState(data []byte) error {
	var in struct {
		Users map[string]seedUser `json:"users"`
		Tasks map[string]Task     `json:"tasks"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}

	users := make(map[string]User, len(in.Users))
	for k, su := range in.Users {
		u := su.User
		if su.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), s.hashCost)
			if err != nil {
				return fmt.Errorf("hashing password for %s: %w", u.Email, err)
			}
			u.HashedPassword = string(hash)
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.Clock.Now().UTC()
		}
		users[k] = u
	}
	if err := s.Users.Restore(users); err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	if in.Tasks == nil {
		in.Tasks = map[string]Task{}
	}
	if err := s.Tasks.Restore(in.Tasks); err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	return nil
}

// CreateUser adds an active user.
func (s *MemoryStore) CreateUser(email, password string, fullName *string, role string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.UserByEmail(email); ok {
		return User{}, ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}
	now := s.Clock.Now().UTC()
	return s.Users.Insert(func(id int64) User {
		return User{
			ID:             id,
			Email:          email,
			FullName:       fullName,
			HashedPassword: string(hash),
			IsActive:       true,
			Role:           role,
			CreatedAt:      now,
		}
	}), nil
}

// UserByEmail finds a user by case-insensitive email.
func (s *MemoryStore) UserByEmail(email string) (User, bool) {
	matches := s.Users.Select(func(u User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if len(matches) == 0 {
		return User{}, false
	}
	return matches[0], true
}

// Authenticate returns the active user whose password matches.
func (s *MemoryStore) Authenticate(email, password string) (User, bool) {
	u, ok := s.UserByEmail(email)
	if !ok || !u.IsActive {
		return User{}, false
	}
	if bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) != nil {
		return User{}, false
	}
	return u, true
}

// CreateTask stores a new task owned by owner.
func (s *MemoryStore) CreateTask(owner int64, t Task) Task {
	now := s.Clock.Now().UTC()
	return s.Tasks.Insert(func(id int64) Task {
		t.ID = id
		t.OwnerID = owner
		t.CreatedAt = now
		t.UpdatedAt = now
		return t
	})
}

// GetTask returns a task visible to owner.
func (s *MemoryStore) GetTask(owner, id int64) (Task, bool) {
	t, ok := s.Tasks.Get(id)
	if !ok || t.OwnerID != owner {
		return Task{}, false
	}
	return t, true
}

// UpdateTask applies patch. updated_at always moves forward, even when two
// updates land within the clock's resolution.
func (s *MemoryStore) UpdateTask(owner, id int64, patch TaskPatch) (Task, bool) {
	if _, ok := s.GetTask(owner, id); !ok {
		return Task{}, false
	}
	return s.Tasks.Update(id, func(t *Task) {
		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = patch.Description
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.ProjectID != nil {
			t.ProjectID = patch.ProjectID
		}
		now := s.Clock.Now().UTC()
		if !now.After(t.UpdatedAt) {
			now = t.UpdatedAt.Add(time.Microsecond)
		}
		t.UpdatedAt = now
	})
}

// DeleteTask removes a task visible to owner.
func (s *MemoryStore) DeleteTask(owner, id int64) bool {
	if _, ok := s.GetTask(owner, id); !ok {
		return false
	}
	return s.Tasks.Delete(id)
}

// ListTasks returns matching tasks in creation order.
func (s *MemoryStore) ListTasks(f TaskFilter) []Task {
	search := strings.ToLower(f.Search)
	return s.Tasks.Select(func(t Task) bool {
		if f.OwnerID != 0 && t.OwnerID != f.OwnerID {
			return false
		}
		if f.Status != "" && t.Status != f.Status {
			return false
		}
		if f.Priority != "" && t.Priority != f.Priority {
			return false
		}
		if f.ProjectID != 0 && (t.ProjectID == nil || *t.ProjectID != f.ProjectID) {
			return false
		}
		if search != "" {
			inTitle := strings.Contains(strings.ToLower(t.Title), search)
			inDesc := t.Description != nil && strings.Contains(strings.ToLower(*t.Description), search)
			if !inTitle && !inDesc {
				return false
			}
		}
		return true
	})
}
