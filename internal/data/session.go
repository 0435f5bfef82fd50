package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// refreshMargin renews a token slightly before the server would reject it.
const refreshMargin = 30 * time.Second

// defaultTokenLifetime applies when the login answer carries no expires_in.
const defaultTokenLifetime = 15 * time.Minute

// Session holds the bearer token of the telemetry API. It is created by the caller and shared
// by every client talking to the same API; it is safe for concurrent use.
type Session struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client

	clock clock.Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSession creates a session that logs in lazily on first use.
func NewSession(baseURL, username, password string, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		Client:   &http.Client{Timeout: 30 * time.Second},
		clock:    clk,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// Token returns a valid token, logging in when the current one expired.
func (s *Session) Token(ctx context.Context) (string, error) {
	if err := s.RefreshIfExpired(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// RefreshIfExpired logs in again when there is no token or it is about to expire.
func (s *Session) RefreshIfExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clock.Now().Add(refreshMargin).Before(s.expiresAt) {
		return nil
	}
	return s.login(ctx)
}

// Invalidate drops the current token so that the next call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// login must be called with s.mu held.
func (s *Session) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: s.Username, Password: s.Password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "LOGIN_FAILED")
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if lr.Token == "" {
		return &TelemetryError{StatusCode: resp.StatusCode, Code: "LOGIN_FAILED", Message: "login response carries no token"}
	}

	lifetime := time.Duration(lr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	s.token = lr.Token
	s.expiresAt = s.clock.Now().Add(lifetime)
	return nil
}
