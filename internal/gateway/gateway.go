// Package gateway talks to the hotspot controller through the RouterOS v7
// REST API. Every failure is a *ConnectionError classified as transient or
// permanent, except ErrUserExists.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"hsync/lib/sl"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	TLS      bool
	Insecure bool
	Timeout  time.Duration
	Server   string
}

// Client serializes its commands: one request in flight per instance
type Client struct {
	hc       *http.Client
	baseURL  string
	user     string
	password string
	server   string
	timeout  time.Duration
	mu       sync.Mutex
	log      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	host := cfg.Host
	if cfg.Port != "" {
		host = fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	}
	if strings.Contains(cfg.Host, "://") {
		host = strings.TrimSuffix(cfg.Host, "/")
		scheme = ""
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	baseURL := host
	if scheme != "" {
		baseURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	return &Client{
		hc:       &http.Client{Transport: transport},
		baseURL:  baseURL + "/rest",
		user:     cfg.User,
		password: cfg.Password,
		server:   cfg.Server,
		timeout:  timeout,
		log:      logger.With(sl.Module("gateway"), slog.String("controller", host)),
	}
}

type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// request sends one REST command bounded by the client timeout and decodes
// the reply into out when it is not nil
func (c *Client) request(ctx context.Context, op, method, path string, payload, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.With(
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
	)

	status := "ERROR"
	t1 := time.Now()
	defer func() {
		log.Debug("controller request completed",
			slog.String("duration", fmt.Sprintf("%.3fms", float64(time.Since(t1))/float64(time.Millisecond))),
			slog.String("status", status))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &ConnectionError{Op: op, Class: Permanent, Cause: CauseRejected, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ConnectionError{Op: op, Class: Permanent, Cause: CauseUnsupported, Err: err}
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		ce := classifyTransport(op, err)
		log.Warn("request failed", sl.Err(err), slog.String("class", ce.Class.String()))
		return ce
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	status = resp.Status
	if err != nil {
		return classifyTransport(op, err)
	}

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		detail := strings.TrimSpace(ae.Detail)
		if detail == "" {
			detail = strings.TrimSpace(string(data))
		}
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(detail, "already have") {
			return ErrUserExists
		}
		ce := classifyStatus(op, resp.StatusCode, errors.New(detail))
		log.Warn("controller returned error",
			slog.String("status", resp.Status),
			slog.String("detail", detail),
			slog.String("class", ce.Class.String()))
		return ce
	}

	if out != nil && len(data) > 0 {
		if err = json.Unmarshal(data, out); err != nil {
			return &ConnectionError{Op: op, Class: Permanent, Cause: CauseUnsupported, Err: fmt.Errorf("decode reply: %w", err)}
		}
	}
	return nil
}

type Identity struct {
	Name string `json:"name"`
}

// Connect checks that the controller answers and accepts the credentials
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.TestConnection(ctx)
	return err
}

func (c *Client) TestConnection(ctx context.Context) (*Identity, error) {
	var identity Identity
	if err := c.request(ctx, "connect", http.MethodGet, "/system/identity", nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}
