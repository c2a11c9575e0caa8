// Package auth manages credit officer accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

var (
	ErrUserExists          = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRegistration = errors.New("invalid registration")
)

// UserStore is the subset of the repository the service needs.
type UserStore interface {
	SaveUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, username string) (*domain.User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
}

// Registration is a sign-up request.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"omitempty,email"`
	FullName string `json:"fullName" validate:"max=128"`
}

// Service registers and verifies users.
type Service struct {
	store    UserStore
	cost     int
	validate *validator.Validate

	// dummyHash keeps Verify's timing the same for unknown usernames.
	dummyHash []byte
}

// NewService creates a Service. cost <= 0 uses bcrypt.DefaultCost.
func NewService(store UserStore, cost int) (*Service, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("kestrel-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise password hashing: %w", err)
	}
	return &Service{
		store:     store,
		cost:      cost,
		validate:  validator.New(),
		dummyHash: dummy,
	}, nil
}

// Register creates a credit officer account.
func (s *Service) Register(ctx context.Context, reg Registration) (*domain.User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.FullName = strings.TrimSpace(reg.FullName)

	if err := s.validate.Struct(reg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidRegistration, strings.Join(fields, "; "))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Username:     reg.Username,
		PasswordHash: string(hash),
		Email:        reg.Email,
		FullName:     reg.FullName,
		Role:         domain.RoleCreditOfficer,
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	return user, nil
}

// Verify checks a username and password pair. Unknown users and wrong
// passwords both return ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Exists reports whether a username is taken.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	return s.store.UserExists(ctx, strings.TrimSpace(username))
}

// HasUsers reports whether any account has been registered yet. Until one
// has, registration is open so the first officer can sign up.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
