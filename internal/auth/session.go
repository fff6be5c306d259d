// Package auth keeps the signed-in user of the client and the bearer token
// every other component reads.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"coursechat/internal/api"
	"coursechat/internal/models"
	"coursechat/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("email and password are required")
)

// Authenticator is the part of the API that issues tokens.
type Authenticator interface {
	Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error)
}

// Credentials persists the session between runs.
type Credentials interface {
	LoadCredentials() (models.AuthResponse, error)
	SaveCredentials(auth models.AuthResponse) error
	ClearCredentials() error
}

type Config struct {
	API   Authenticator
	Store Credentials
}

type Session struct {
	api   Authenticator
	store Credentials

	mu        sync.RWMutex
	token     string
	user      models.User
	failure   api.AuthFailure
	listeners []func(token string)
}

// New restores the stored session, if any.
func New(config Config) (*Session, error) {
	s := &Session{
		api:   config.API,
		store: config.Store,
	}
	if s.store == nil {
		return s, nil
	}

	saved, err := s.store.LoadCredentials()
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	default:
		s.token = saved.Token
		s.user = saved.User
	}
	return s, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user and false when signed out.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

// LastFailure is the reason of the most recent forced logout. It is
// cleared by the next successful login.
func (s *Session) LastFailure() api.AuthFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// OnTokenChange registers fn to be called with the new token after every
// login and logout.
func (s *Session) OnTokenChange(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) Login(ctx context.Context, email, password string) (models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	resp, err := s.api.Login(ctx, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return models.User{}, fmt.Errorf("login: %w", err)
	}
	return resp.User, s.establish(resp)
}

func (s *Session) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		return models.User{}, fmt.Errorf("register: %w", err)
	}
	return resp.User, s.establish(resp)
}

func (s *Session) establish(resp models.AuthResponse) error {
	var err error
	if s.store != nil {
		if err = s.store.SaveCredentials(resp); err != nil {
			err = fmt.Errorf("failed to save credentials: %w", err)
		}
	}
	s.set(resp.Token, resp.User, "")
	return err
}

// Logout drops the session locally.
func (s *Session) Logout() error {
	s.set("", models.User{}, "")
	if s.store == nil {
		return nil
	}
	if err := s.store.ClearCredentials(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// ForceLogout ends the session after the server rejected it.
func (s *Session) ForceLogout(reason api.AuthFailure) {
	if s.Token() == "" {
		return
	}
	slog.Warn("session ended by server", "reason", reason)
	s.set("", models.User{}, reason)
	if s.store != nil {
		if err := s.store.ClearCredentials(); err != nil {
			slog.Error("failed to clear credentials", "error", err)
		}
	}
}

func (s *Session) set(token string, user models.User, failure api.AuthFailure) {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	s.user = user
	s.failure = failure
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(token)
	}
}
