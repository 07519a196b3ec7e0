package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory is an in-process user directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory returns a directory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(_ context.Context, u User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return nil
}

// FindApprovers returns active and inactive approvers of a department, ordered by id.
func (d *MemoryDirectory) FindApprovers(_ context.Context, dept Department) ([]Approver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Approver
	for _, u := range d.users {
		if u.Role == RoleApprover && u.Department != nil && *u.Department == dept {
			out = append(out, Approver{ID: u.ID, Email: u.Email, IsActive: u.IsActive})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsActive reports whether the user exists and is active.
func (d *MemoryDirectory) IsActive(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	return ok && u.IsActive, nil
}
