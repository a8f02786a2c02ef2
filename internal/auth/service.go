// ABOUTME: Account sign-up, sign-in, and lookup for email/password users
// ABOUTME: Validates input, hashes with bcrypt, and issues session JWTs

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/store"
)

// DefaultTokenTTL is used when the service is built with a zero TTL.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrInvalidCredentials covers both unknown email and wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation wraps request field failures
	ErrValidation = errors.New("validation failed")
)

// Credentials is the sign-up and sign-in request body.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72,bcryptlen"`
}

// Session is returned after a successful sign-up or sign-in.
type Session struct {
	User      *store.User
	Token     string
	ExpiresAt time.Time
}

// Service manages accounts and mints tokens.
type Service struct {
	users    store.UserStore
	tokens   *JWTVerifier
	ttl      time.Duration
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates an account service. Pass nil logger for default.
func NewService(users store.UserStore, tokens *JWTVerifier, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		ttl:      ttl,
		validate: newValidator(),
		logger:   logger.With("component", "auth"),
	}
}

// SignUp registers a new user and returns a session for them.
// A duplicate email returns store.ErrUserExists.
func (s *Service) SignUp(ctx context.Context, creds Credentials) (*Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := s.check(creds); err != nil {
		return nil, err
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(creds.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user signed up", "user_id", user.ID)
	return s.session(user)
}

// SignIn checks credentials and returns a fresh session.
func (s *Service) SignIn(ctx context.Context, creds Credentials) (*Session, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := s.check(creds); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("sign-in failed", "reason", "unknown_email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := CheckPassword(user.PasswordHash, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("checking password: %w", err)
	}
	if !ok {
		s.logger.Warn("sign-in failed", "reason", "bad_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	return s.session(user)
}

// Me returns the registered user for userID.
func (s *Service) Me(ctx context.Context, userID string) (*store.User, error) {
	return s.users.GetUser(ctx, userID)
}

// IssueToken mints a token for an existing user without a password check.
func (s *Service) IssueToken(ctx context.Context, userID string) (*Session, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.session(user)
}

func (s *Service) session(user *store.User) (*Session, error) {
	token, err := s.tokens.Generate(user.ID, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Session{
		User:      user,
		Token:     token,
		ExpiresAt: time.Now().Add(s.ttl).UTC(),
	}, nil
}

// check runs struct validation and flattens failures into one ErrValidation.
func (s *Service) check(creds Credentials) error {
	err := s.validate.Struct(creds)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// MaxPasswordBytes is bcrypt's input limit. validator's max counts runes,
// so multibyte passwords need this check as well.
const MaxPasswordBytes = 72

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	})
	return v
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "bcryptlen":
		return fmt.Sprintf("%s must be at most %d bytes", field, MaxPasswordBytes)
	default:
		return field + " is invalid"
	}
}
