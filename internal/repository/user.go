package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/repository/postgres"
)

const (
	insertUserQuery = `
						INSERT INTO users (id, name, email, password, role)
						VALUES ($1, $2, $3, $4, $5)
						RETURNING id, name, email, password, is_admin, role, created_at
`
	selectUserByEmailQuery = `
						SELECT id, name, email, password, is_admin, role, created_at FROM users
						WHERE email = $1
`
	selectUserByIDQuery = `
						SELECT id, name, email, password, is_admin, role, created_at FROM users
						WHERE id = $1
`
)

// UserRepository implements UserRepository interface
type UserRepository struct {
	db DB
}

// NewUserRepository creates new UserRepository instance
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts new user
func (ur *UserRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	u := models.User{}
	err := ur.db.QueryRow(ctx, insertUserQuery, uuid.NewString(), user.Name, user.Email, user.Password, user.Role).
		Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.IsAdmin, &u.Role, &u.CreatedAt)
	if err != nil {
		if errCode := postgres.ErrorCode(err); errCode == pgErrUniqueViolationCode {
			return nil, models.ErrConflictData
		}
		return nil, err
	}

	return &u, nil
}

// GetUserByEmail returns user by email
func (ur *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := models.User{}
	err := ur.db.QueryRow(ctx, selectUserByEmailQuery, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.IsAdmin, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &u, nil
}

// GetUserByID returns user by id
func (ur *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u := models.User{}
	err := ur.db.QueryRow(ctx, selectUserByIDQuery, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.IsAdmin, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	return &u, nil
}
