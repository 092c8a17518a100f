package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"minder/internal/models"
)

// Storage handles all data persistence using JSON files
type Storage struct {
	dataDir string
	mu      sync.RWMutex

	// In-memory cache
	users []*models.User
}

// New creates a new Storage instance
func New(dataDir string) (*Storage, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	s := &Storage{
		dataDir: dataDir,
		users:   make([]*models.User, 0),
	}

	// Load existing data
	if err := s.loadAll(); err != nil {
		return nil, err
	}

	return s, nil
}

// loadAll loads all data from JSON files
func (s *Storage) loadAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, err := os.ReadFile(s.filePath("users.json")); err == nil {
		json.Unmarshal(data, &s.users)
	}

	return nil
}

// filePath returns the full path for a data file
func (s *Storage) filePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

// saveFile atomically writes data to a JSON file
func (s *Storage) saveFile(filename string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath(filename)
	tmpPath := path + ".tmp"

	// Write to temp file first
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, path)
}

// ============ User Methods ============

// ListUsers returns deep copies of all users
func (s *Storage) ListUsers() []*models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.User, len(s.users))
	for i, u := range s.users {
		result[i] = u.Clone()
	}
	return result
}

// GetUser returns a deep copy of a user by ID. Callers mutate the copy
// and persist it with SaveUser; the cached instance is never shared.
func (s *Storage) GetUser(id string) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			return u.Clone()
		}
	}
	return nil
}

// SaveUser saves or updates a user. The cache keeps its own copy, so
// later mutations of the argument do not leak into it.
func (s *Storage) SaveUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := user.Clone()
	found := false
	for i, u := range s.users {
		if u.ID == user.ID {
			s.users[i] = stored
			found = true
			break
		}
	}
	if !found {
		s.users = append(s.users, stored)
	}

	return s.saveFile("users.json", s.users)
}

// UserCount returns the number of users
func (s *Storage) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
