package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rookgm/flyem/internal/middleware"
	"github.com/rookgm/flyem/internal/models"
)

type UserService interface {
	// Register creates customer account, returns user and its token
	Register(ctx context.Context, name, email, password string) (*models.User, string, error)
	// Login checks credentials, returns user and its token
	Login(ctx context.Context, email, password string) (*models.User, string, error)
}

// UserHandler represents HTTP handler for user-related requests
type UserHandler struct {
	svc       UserService
	cookieTTL time.Duration
}

// NewUserHandler creates new UserHandler instance
func NewUserHandler(svc UserService, cookieTTL time.Duration) *UserHandler {
	return &UserHandler{svc: svc, cookieTTL: cookieTTL}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
	Token   string `json:"token"`
}

// RegisterUser registers customer and authenticates it
// 201 - user registered and authenticated;
// 400 - invalid request;
// 409 - email is already taken;
// 500 - internal server error.
func (uh *UserHandler) RegisterUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		user, token, err := uh.svc.Register(r.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		uh.setAuthCookie(w, token)
		writeJSON(w, http.StatusCreated, newUserResponse(user, token))
	}
}

// LoginUser authenticates user
// 200 - user authenticated;
// 400 - invalid request;
// 401 - invalid email or password;
// 500 - internal server error.
func (uh *UserHandler) LoginUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "bad request")
			return
		}
		defer r.Body.Close()

		user, token, err := uh.svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		uh.setAuthCookie(w, token)
		writeJSON(w, http.StatusOK, newUserResponse(user, token))
	}
}

func (uh *UserHandler) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(uh.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func newUserResponse(u *models.User, token string) userResponse {
	return userResponse{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Role:    u.Role,
		IsAdmin: u.IsAdmin,
		Token:   token,
	}
}
