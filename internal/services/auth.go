package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lexfind/lexfind-backend/internal/domain"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// responses cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken reports a signup against an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken covers malformed, expired, and forged tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)

const (
	defaultTokenTTL = 24 * time.Hour

	// verifyCacheTTL bounds how long a verified token skips signature
	// checks; revocation is not supported inside this window.
	verifyCacheTTL = 5 * time.Minute
)

type AuthService interface {
	SignUp(ctx context.Context, email, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	Verify(token string) (uuid.UUID, error)
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration

	// Now is injectable for cache expiry tests; nil means time.Now.
	Now func() time.Time
}

type cacheEntry struct {
	userID  uuid.UUID
	expires time.Time
}

type authService struct {
	log   *logger.Logger
	users repos.UserRepo
	cfg   AuthConfig

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewAuthService(log *logger.Logger, users repos.UserRepo, cfg AuthConfig) (AuthService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("missing JWT secret")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &authService{
		log:   log.With("service", "AuthService"),
		users: users,
		cfg:   cfg,
		cache: map[string]cacheEntry{},
	}, nil
}

func (s *authService) SignUp(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("invalid email address")
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("password must be at least 8 characters")
	}

	if _, err := s.users.GetByEmail(ctx, nil, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, repos.ErrNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	now := s.cfg.Now().UTC()
	user, err := s.users.Create(ctx, nil, &domain.User{
		Email:     email,
		Password:  string(hash),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user signed up", "user_id", user.ID)
	return user, token, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, nil, email)
	if errors.Is(err, repos.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify resolves a bearer token to its user id, consulting a short-lived
// cache before re-checking the signature.
func (s *authService) Verify(token string) (uuid.UUID, error) {
	now := s.cfg.Now()

	s.mu.Lock()
	if entry, ok := s.cache[token]; ok {
		if now.Before(entry.expires) {
			s.mu.Unlock()
			return entry.userID, nil
		}
		delete(s.cache, token)
	}
	s.mu.Unlock()

	userID, err := s.parseToken(token, now)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	s.cache[token] = cacheEntry{userID: userID, expires: now.Add(verifyCacheTTL)}
	// Expired entries for other tokens pile up otherwise.
	for k, e := range s.cache {
		if now.After(e.expires) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()
	return userID, nil
}

func (s *authService) issueToken(userID uuid.UUID) (string, error) {
	now := s.cfg.Now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"iat":     now.Unix(),
		"exp":     now.Add(s.cfg.TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) parseToken(raw string, now time.Time) (uuid.UUID, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	rawID, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}
