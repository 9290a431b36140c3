package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leasehold/apiserver/internal/auth"
	"github.com/leasehold/apiserver/internal/metrics"
	"github.com/leasehold/apiserver/internal/store"
	"github.com/leasehold/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// RegisterInput lists the fields register constrains. bcrypt ignores
// everything after the 72nd byte, so longer passwords are refused.
type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	Name     string `validate:"required,max=255"`
	Password string `validate:"required,max=72"`
}

// AuthService encapsulates register, login and whoami.
type AuthService struct {
	users    UserRepository
	hasher   *auth.Hasher
	tokens   *auth.TokenService
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(users UserRepository, hasher *auth.Hasher, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates an identity and returns a session token for it.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (token string, err error) {
	defer func() { metrics.RecordAuth("register", outcome(err)) }()

	input := RegisterInput{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Name:     strings.TrimSpace(name),
		Password: password,
	}
	if err := s.validate.StructCtx(ctx, input); err != nil {
		return "", invalidInput(err)
	}
	// The validator counts runes; bcrypt's limit is in bytes.
	if len(input.Password) > auth.MaxPasswordBytes {
		return "", fmt.Errorf("%w: password (max bytes)", ErrInvalidInput)
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return "", ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", storageFailure(s.logger, "register: lookup user", err)
	}

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmptyPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			return "", ErrInvalidInput
		}
		return "", storageFailure(s.logger, "register: hash password", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrConflict
		}
		return "", storageFailure(s.logger, "register: create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.Int("user_id", user.ID))
	return s.issue(user)
}

// Login checks the password and returns a fresh session token. Unknown
// emails, malformed input and wrong passwords all cost one bcrypt
// verification and all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (token string, err error) {
	defer func() { metrics.RecordAuth("login", outcome(err)) }()

	email = strings.TrimSpace(email)
	var user types.User
	hash := s.hasher.Dummy()

	if s.validate.VarCtx(ctx, email, "required,email") == nil && password != "" {
		found, err := s.users.GetByEmail(ctx, email)
		switch {
		case err == nil:
			user = found
			hash = found.PasswordHash
		case !errors.Is(err, store.ErrNotFound):
			return "", storageFailure(s.logger, "login: lookup user", err)
		}
	}

	ok, err := s.hasher.Verify(ctx, password, hash)
	if err != nil {
		return "", storageFailure(s.logger, "login: verify password", err)
	}
	if !ok || user.ID == 0 {
		return "", ErrInvalidCredentials
	}
	return s.issue(user)
}

// Authenticate verifies a session token and returns the identity id it was
// issued for. It does not touch the credential store.
func (s *AuthService) Authenticate(token string) (int, error) {
	subject, err := s.tokens.Verify(token, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	id, err := strconv.Atoi(subject)
	if err != nil || id < 1 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}

// Whoami resolves a session token to the identity it was issued for. A
// token whose identity no longer exists is reported as unauthenticated.
func (s *AuthService) Whoami(ctx context.Context, token string) (user types.User, err error) {
	defer func() { metrics.RecordAuth("whoami", outcome(err)) }()

	id, err := s.Authenticate(token)
	if err != nil {
		return types.User{}, err
	}

	user, err = s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUnauthenticated
		}
		return types.User{}, storageFailure(s.logger, "whoami: load user", err)
	}
	return user, nil
}

func (s *AuthService) issue(user types.User) (string, error) {
	token, err := s.tokens.Issue(strconv.Itoa(user.ID), s.now())
	if err != nil {
		s.logger.Error("issue token", slog.Int("user_id", user.ID), slog.Any("error", err))
		return "", err
	}
	return token, nil
}

// invalidInput names the offending fields without echoing their values.
func invalidInput(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ErrInvalidInput
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
}
