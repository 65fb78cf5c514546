package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"servicedesk/internal/models"
	"servicedesk/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type Authenticator struct {
	users  UserLookup
	issuer *Issuer
}

func NewAuthenticator(users UserLookup, issuer *Issuer) *Authenticator {
	return &Authenticator{users: users, issuer: issuer}
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Login checks the password of an active user and issues a token. Unknown
// users and wrong passwords both come back as ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.Active || !CheckPassword(user.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	role, ok := ParseRole(user.RoleName)
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	token, expires, err := a.issuer.Issue(Identity{UserID: user.UserID, Email: user.Email, Role: role})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func (a *Authenticator) Issuer() *Issuer { return a.issuer }
