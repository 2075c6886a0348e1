// The auth package manages the dashboard accounts: signup, login and logout, and the
// bearer tokens that identify a logged in user.
//
// Tokens are HS256 JSON Web Tokens, whose subject is the user id and whose jti
// identifies the session, so that a single session can be revoked on logout.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivelb/server/pkg/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields      = errors.New("please provide all required fields")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInactiveUser       = errors.New("user is not active")
)

// Store is the subset of the [store.Store] used by the auth service.
type Store interface {
	SaveUser(ctx context.Context, u store.NewUser) (int64, error)
	FindUserByEmail(ctx context.Context, email string) (store.Account, error)
	FindUserByID(ctx context.Context, id int64) (store.User, error)
	UpdateUserLastLogin(ctx context.Context, id int64) error
}

// Session is returned to the client after a signup or a login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      store.User `json:"user"`
}

// Signup holds the fields of a signup form.
type Signup struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// Service is safe for concurrent use.
type Service struct {
	store   Store
	secret  []byte
	ttl     time.Duration
	cost    int
	revoked *expirable.LRU[string, struct{}]
	log     *slog.Logger
}

func New(c Config, users Store, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	secret := []byte(c.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		logger.Warn("auth: no session secret configured, using a random one; sessions won't survive restarts")
	}

	return &Service{
		store:   users,
		secret:  secret,
		ttl:     c.TTL,
		cost:    c.BcryptCost,
		revoked: expirable.NewLRU[string, struct{}](10_000, nil, c.TTL),
		log:     logger,
	}, nil
}

// Signup creates a new account with the "user" role and logs it in.
// It returns [ErrMissingFields], [ErrPasswordMismatch] or [store.ErrDuplicateEmail] when the form is not acceptable.
func (s *Service) Signup(ctx context.Context, form Signup) (Session, error) {
	if form.Name == "" || form.Email == "" || form.Password == "" || form.PasswordConfirm == "" {
		return Session{}, ErrMissingFields
	}
	if form.Password != form.PasswordConfirm {
		return Session{}, ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form.Password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := s.store.SaveUser(ctx, store.NewUser{
		Name:         form.Name,
		Email:        form.Email,
		PasswordHash: string(hash),
		Role:         store.RoleUser,
	})
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return Session{}, err
	}

	s.log.Info("auth: user created", "email", user.Email, "id", user.ID)
	return s.newSession(user)
}

// Login checks the credentials, records the login time, and returns a new session.
// It returns [ErrInvalidCredentials] both for unknown emails and wrong passwords.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, ErrMissingFields
	}

	account, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	if !account.IsActive {
		return Session{}, ErrInactiveUser
	}

	if err := s.store.UpdateUserLastLogin(ctx, account.ID); err != nil {
		// the login is still valid, only the bookkeeping failed
		s.log.Error("auth: failed to update last login", "error", err, "id", account.ID)
	}

	user, err := s.store.FindUserByID(ctx, account.ID)
	if err != nil {
		// fall back to the account as read before the login was recorded
		user = account.User
	}

	s.log.Info("auth: user logged in", "email", account.Email, "id", account.ID)
	return s.newSession(user)
}

// Authenticate returns the user the token belongs to.
// It returns [ErrInvalidToken] if the token is malformed, forged, expired or revoked,
// and [ErrInactiveUser] if the account has been deactivated.
func (s *Service) Authenticate(ctx context.Context, token string) (store.User, error) {
	claims, err := s.verify(token)
	if err != nil {
		return store.User{}, err
	}

	if _, revoked := s.revoked.Get(claims.sessionID); revoked {
		return store.User{}, ErrInvalidToken
	}

	user, err := s.store.FindUserByID(ctx, claims.userID)
	if err != nil {
		return store.User{}, ErrInvalidToken
	}

	if !user.IsActive {
		return store.User{}, ErrInactiveUser
	}
	return user, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *Service) Logout(token string) error {
	claims, err := s.verify(token)
	if err != nil {
		return err
	}

	s.revoked.Add(claims.sessionID, struct{}{})
	return nil
}

func (s *Service) newSession(user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl).Truncate(time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Session{
		Token:     signed,
		ExpiresAt: expiresAt.UTC(),
		User:      user,
	}, nil
}

type claims struct {
	sessionID string
	userID    int64
}

// verify checks the signature and the expiry of the token, returning its claims.
func (s *Service) verify(token string) (claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return claims{}, ErrInvalidToken
	}

	registered, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || registered.ID == "" {
		return claims{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(registered.Subject, 10, 64)
	if err != nil {
		return claims{}, ErrInvalidToken
	}
	return claims{sessionID: registered.ID, userID: userID}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
