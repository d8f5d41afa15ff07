package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/rookgm/flyem/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

// UserRepository is interface for interacting with user-related data
type UserRepository interface {
	// CreateUser inserts new user
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	// GetUserByEmail returns user by email
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUserByID returns user by id
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// UserService implements UserService interface
type UserService struct {
	repo UserRepository
	ts   TokenService
}

// NewUserService creates new UserService instance
func NewUserService(repo UserRepository, ts TokenService) *UserService {
	return &UserService{repo: repo, ts: ts}
}

// Register creates customer account and returns its token
func (us *UserService) Register(ctx context.Context, name, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if strings.TrimSpace(name) == "" {
		return nil, "", &models.ValidationError{Field: "name", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", &models.ValidationError{Field: "email", Reason: "is invalid"}
	}
	if len(password) < minPasswordLen {
		return nil, "", &models.ValidationError{Field: "password", Reason: "is too short"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	user, err := us.repo.CreateUser(ctx, &models.User{
		Name:     strings.TrimSpace(name),
		Email:    email,
		Password: string(hash),
		Role:     models.RoleCustomer,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := us.ts.CreateToken(user)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// Login checks credentials and returns user with its token
func (us *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := us.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrDataNotFound) {
			return nil, "", models.ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", models.ErrInvalidCredentials
	}

	token, err := us.ts.CreateToken(user)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}
