package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hsync/lib/sl"
)

const commentPrefix = "hsync:"

// UserSpec is what CreateUser provisions; the code is both name and password
type UserSpec struct {
	Code        string
	Profile     string
	LimitUptime string
	VoucherId   int64
}

// User is a hotspot user record as listed by the controller
type User struct {
	Id       string
	Name     string
	Profile  string
	Uptime   time.Duration
	BytesIn  int64
	BytesOut int64
	Comment  string

	// Unreadable is set when a usage counter could not be parsed
	Unreadable bool
}

// VoucherId returns the ledger id written into the comment at creation
func (u User) VoucherId() (int64, bool) {
	if !strings.HasPrefix(u.Comment, commentPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(u.Comment, commentPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// LooksConsumed reports whether the record shows any sign of a login.
// Counters that could not be read count as a login.
func LooksConsumed(u User) bool {
	return u.Unreadable || u.Uptime > 0 || u.BytesIn > 0 || u.BytesOut > 0
}

type restUser struct {
	Id          string `json:".id,omitempty"`
	Name        string `json:"name"`
	Password    string `json:"password,omitempty"`
	Profile     string `json:"profile,omitempty"`
	Server      string `json:"server,omitempty"`
	LimitUptime string `json:"limit-uptime,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
	BytesIn     string `json:"bytes-in,omitempty"`
	BytesOut    string `json:"bytes-out,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

func (r restUser) user(log *slog.Logger) User {
	u := User{
		Id:      r.Id,
		Name:    r.Name,
		Profile: r.Profile,
		Comment: r.Comment,
	}
	var errs []error
	var err error
	if u.Uptime, err = ParseUptime(r.Uptime); err != nil {
		errs = append(errs, err)
	}
	if u.BytesIn, err = parseCounter(r.BytesIn); err != nil {
		errs = append(errs, fmt.Errorf("bytes-in: %w", err))
	}
	if u.BytesOut, err = parseCounter(r.BytesOut); err != nil {
		errs = append(errs, fmt.Errorf("bytes-out: %w", err))
	}
	if len(errs) > 0 {
		u.Unreadable = true
		log.With(sl.Code(r.Name)).Debug("unreadable user counters", sl.Err(errors.Join(errs...)))
	}
	return u
}

func parseCounter(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}

type restSession struct {
	Id      string `json:".id"`
	User    string `json:"user"`
	Address string `json:"address"`
}

func (c *Client) CreateUser(ctx context.Context, u UserSpec) error {
	body := restUser{
		Name:        u.Code,
		Password:    u.Code,
		Profile:     u.Profile,
		Server:      c.server,
		LimitUptime: u.LimitUptime,
	}
	if u.VoucherId > 0 {
		body.Comment = fmt.Sprintf("%s%d", commentPrefix, u.VoucherId)
	}
	err := c.request(ctx, "create_user", http.MethodPut, "/ip/hotspot/user", body, nil)
	if err != nil {
		return err
	}
	c.log.With(sl.Code(u.Code), slog.String("profile", u.Profile)).Debug("user created")
	return nil
}

// GetUser looks a user up by name; nil without error when absent
func (c *Client) GetUser(ctx context.Context, code string) (*User, error) {
	var users []restUser
	path := "/ip/hotspot/user?name=" + url.QueryEscape(code)
	if err := c.request(ctx, "get_user", http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	for _, r := range users {
		if r.Name == code {
			u := r.user(c.log)
			return &u, nil
		}
	}
	return nil, nil
}

// DeleteUser removes the user named code and reports whether it existed
func (c *Client) DeleteUser(ctx context.Context, code string) (bool, error) {
	user, err := c.GetUser(ctx, code)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	err = c.request(ctx, "delete_user", http.MethodDelete, "/ip/hotspot/user/"+url.PathEscape(user.Id), nil, nil)
	if err != nil {
		// removed between lookup and delete
		var ce *ConnectionError
		if errors.As(err, &ce) && ce.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	c.log.With(sl.Code(code)).Debug("user deleted")
	return true, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []restUser
	if err := c.request(ctx, "list_users", http.MethodGet, "/ip/hotspot/user", nil, &users); err != nil {
		return nil, err
	}
	result := make([]User, 0, len(users))
	for _, r := range users {
		result = append(result, r.user(c.log))
	}
	return result, nil
}

// ListActiveSessions returns the names of users holding an open session
func (c *Client) ListActiveSessions(ctx context.Context) ([]string, error) {
	var sessions []restSession
	if err := c.request(ctx, "list_sessions", http.MethodGet, "/ip/hotspot/active", nil, &sessions); err != nil {
		return nil, err
	}
	result := make([]string, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, s.User)
	}
	return result, nil
}
