// Package auth resolves bearer tokens to API users, caching lookups so a
// request does not open a database connection each time.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"hsync/entity"
)

const defaultTTL = time.Minute

type Database interface {
	GetUser(token string) (*entity.User, error)
}

type cached struct {
	user    *entity.User
	expires time.Time
}

type Auth struct {
	db    Database
	ttl   time.Duration
	mu    sync.Mutex
	cache map[string]cached
	now   func() time.Time
}

func New(db Database) *Auth {
	return &Auth{
		db:    db,
		ttl:   defaultTTL,
		cache: make(map[string]cached),
		now:   time.Now,
	}
}

func (a *Auth) UserByToken(token string) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	if token == "" {
		return nil, entity.ErrNotFound
	}

	a.mu.Lock()
	entry, ok := a.cache[token]
	a.mu.Unlock()
	if ok && a.now().Before(entry.expires) {
		return entry.user, nil
	}

	user, err := a.db.GetUser(token)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			a.forget(token)
		}
		return nil, err
	}
	if user.Role != entity.RoleOperator && !user.IsReseller() {
		return nil, fmt.Errorf("user %s has no usable role", user.Username)
	}

	a.mu.Lock()
	a.cache[token] = cached{user: user, expires: a.now().Add(a.ttl)}
	a.mu.Unlock()
	return user, nil
}

func (a *Auth) forget(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, token)
}
