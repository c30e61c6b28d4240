// Package gatewaytest provides an in-memory controller for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hsync/internal/gateway"
)

// Controller mimics the hotspot controller. Err, when set, is returned by
// every call; counters record attempted mutations.
type Controller struct {
	mu       sync.Mutex
	users    map[string]gateway.User
	sessions map[string]bool
	err      error
	nextId   int

	Creates int
	Deletes int
}

func New() *Controller {
	return &Controller{
		users:    make(map[string]gateway.User),
		sessions: make(map[string]bool),
	}
}

// Fail makes every following call return err; nil heals the controller
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Unreachable is the error a dead controller produces
func Unreachable() error {
	return &gateway.ConnectionError{Op: "test", Class: gateway.Transient, Cause: gateway.CauseUnreachable, Err: fmt.Errorf("connection refused")}
}

// Rejected is a permanent refusal of a single command
func Rejected() error {
	return &gateway.ConnectionError{Op: "test", Class: gateway.Permanent, Cause: gateway.CauseRejected, Err: fmt.Errorf("input does not match any value of profile")}
}

// Put places a user record directly, bypassing counters
func (c *Controller) Put(u gateway.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.Id == "" {
		c.nextId++
		u.Id = fmt.Sprintf("*%d", c.nextId)
	}
	c.users[u.Name] = u
}

// Use simulates a login: the user gets uptime and traffic
func (c *Controller) Use(code string, uptime time.Duration, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[code]
	if !ok {
		return
	}
	u.Uptime = uptime
	u.BytesIn += 1024
	c.users[code] = u
	if open {
		c.sessions[code] = true
	}
}

func (c *Controller) CloseSession(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, code)
}

func (c *Controller) Has(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[code]
	return ok
}

func (c *Controller) User(code string) (gateway.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[code]
	return u, ok
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *Controller) Mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Creates + c.Deletes
}

func (c *Controller) CreateUser(_ context.Context, spec gateway.UserSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.Creates++
	if _, ok := c.users[spec.Code]; ok {
		return gateway.ErrUserExists
	}
	c.nextId++
	u := gateway.User{
		Id:      fmt.Sprintf("*%d", c.nextId),
		Name:    spec.Code,
		Profile: spec.Profile,
	}
	if spec.VoucherId > 0 {
		u.Comment = fmt.Sprintf("hsync:%d", spec.VoucherId)
	}
	c.users[spec.Code] = u
	return nil
}

func (c *Controller) GetUser(_ context.Context, code string) (*gateway.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	u, ok := c.users[code]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (c *Controller) DeleteUser(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	c.Deletes++
	if _, ok := c.users[code]; !ok {
		return false, nil
	}
	delete(c.users, code)
	delete(c.sessions, code)
	return true, nil
}

func (c *Controller) ListUsers(_ context.Context) ([]gateway.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	users := make([]gateway.User, 0, len(c.users))
	for _, u := range c.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (c *Controller) ListActiveSessions(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	sessions := make([]string, 0, len(c.sessions))
	for code := range c.sessions {
		sessions = append(sessions, code)
	}
	sort.Strings(sessions)
	return sessions, nil
}

func (c *Controller) TestConnection(_ context.Context) (*gateway.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &gateway.Identity{Name: "gatewaytest"}, nil
}
