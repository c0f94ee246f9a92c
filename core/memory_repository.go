package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryAccountRepository keeps accounts in process memory. Username
// uniqueness is enforced under the same lock as the write.
type MemoryAccountRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{byID: make(map[int64]Account)}
}

func (r *MemoryAccountRepository) FindByUsername(_ context.Context, username string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Username == username {
			cp := a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryAccountRepository) FindByUserID(_ context.Context, userID string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.UserID == userID {
			cp := a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryAccountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *MemoryAccountRepository) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usernameTakenLocked(a.Username, 0) {
		return ErrDuplicate
	}
	r.nextID++
	now := time.Now()
	a.ID = r.nextID
	a.CreatedAt = now
	a.UpdatedAt = now
	r.byID[a.ID] = *a
	return nil
}

func (r *MemoryAccountRepository) Save(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	if r.usernameTakenLocked(a.Username, a.ID) {
		return ErrDuplicate
	}
	cur.Username = a.Username
	cur.Role = a.Role
	cur.Disabled = a.Disabled
	cur.PasswordHash = a.PasswordHash
	cur.UpdatedAt = time.Now()
	r.byID[a.ID] = cur
	a.UserID = cur.UserID
	a.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *MemoryAccountRepository) Delete(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.ID]; !ok {
		return ErrNotFound
	}
	delete(r.byID, a.ID)
	return nil
}

func (r *MemoryAccountRepository) HasAdmin(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAccountRepository) List(_ context.Context, page, perPage int) ([]Account, int, error) {
	start, err := pageOffset(page, perPage)
	if err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	all := make([]Account, 0, len(r.byID))
	for _, a := range r.byID {
		all = append(all, a)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if start >= len(all) {
		return []Account{}, len(all), nil
	}
	end := len(all)
	if perPage < end-start {
		end = start + perPage
	}
	return all[start:end], len(all), nil
}

func (r *MemoryAccountRepository) usernameTakenLocked(username string, exceptID int64) bool {
	for id, a := range r.byID {
		if id != exceptID && a.Username == username {
			return true
		}
	}
	return false
}
