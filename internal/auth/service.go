package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (*appointment.User, error)
}

type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      *appointment.User `json:"user"`
}

type Service struct {
	users  UserFinder
	issuer *Issuer
}

func NewService(users UserFinder, issuer *Issuer) *Service {
	return &Service{users: users, issuer: issuer}
}

// Login checks the password and issues a session. Unknown email and wrong password look the same.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, appointment.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}
