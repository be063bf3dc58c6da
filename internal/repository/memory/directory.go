package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/iliyamo/caregiver-booking/internal/model"
	"github.com/iliyamo/caregiver-booking/internal/repository"
)

// Directory is an in-memory repository.Directory.
type Directory struct {
	mu    sync.RWMutex
	users map[uint64]model.User
}

func NewDirectory(users ...model.User) *Directory {
	d := &Directory{users: make(map[uint64]model.User)}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add registers or replaces a user.
func (d *Directory) Add(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	d.users[u.ID] = u
}

func (d *Directory) CaregiverExists(_ context.Context, id uint64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return ok && u.IsActive && u.Role == model.RoleCaregiver, nil
}

func (d *Directory) ParentIDByEmail(_ context.Context, email string) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Email == email && u.IsActive && u.Role == model.RoleParent {
			return u.ID, nil
		}
	}
	return 0, repository.ErrNotFound
}
