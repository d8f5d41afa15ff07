package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rookgm/flyem/internal/handler/http/mocks"
	"github.com/rookgm/flyem/internal/middleware"
	"github.com/rookgm/flyem/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserHandler_RegisterUser(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setup          func(m *mocks.MockUserService)
		wantStatusCode int
		wantCookie     bool
	}{
		{
			name: "valid_request_return_201",
			body: `{"name": "Asha Rao", "email": "asha@example.com", "password": "secret123"}`,
			setup: func(m *mocks.MockUserService) {
				m.EXPECT().Register(gomock.Any(), "Asha Rao", "asha@example.com", "secret123").
					Return(&models.User{ID: "u-1", Name: "Asha Rao", Email: "asha@example.com", Role: models.RoleCustomer}, "jwt-token", nil)
			},
			wantStatusCode: http.StatusCreated,
			wantCookie:     true,
		},
		{
			name: "email_taken_return_409",
			body: `{"name": "Asha Rao", "email": "asha@example.com", "password": "secret123"}`,
			setup: func(m *mocks.MockUserService) {
				m.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, "", models.ErrConflictData)
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name: "short_password_return_400",
			body: `{"name": "Asha Rao", "email": "asha@example.com", "password": "1"}`,
			setup: func(m *mocks.MockUserService) {
				m.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, "", &models.ValidationError{Field: "password", Reason: "is too short"})
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "malformed_body_return_400",
			body:           `name=asha`,
			setup:          func(m *mocks.MockUserService) {},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svcMock := mocks.NewMockUserService(ctrl)
			tt.setup(svcMock)

			req := httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			NewUserHandler(svcMock, time.Hour).RegisterUser()(w, req)

			res := w.Result()
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatusCode, res.StatusCode)

			cookies := res.Cookies()
			if !tt.wantCookie {
				assert.Empty(t, cookies)
				return
			}
			require.Len(t, cookies, 1)
			assert.Equal(t, middleware.AuthCookieName, cookies[0].Name)
			assert.Equal(t, "jwt-token", cookies[0].Value)
			assert.Equal(t, 3600, cookies[0].MaxAge)
			assert.True(t, cookies[0].HttpOnly)
		})
	}
}

func TestUserHandler_LoginUser(t *testing.T) {
	tests := []struct {
		name           string
		user           *models.User
		token          string
		err            error
		wantStatusCode int
	}{
		{
			name:           "valid_credentials_return_200",
			user:           &models.User{ID: "u-1", Name: "Asha Rao", Email: "asha@example.com", Role: models.RoleOrders},
			token:          "jwt-token",
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "invalid_credentials_return_401",
			err:            models.ErrInvalidCredentials,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "internal_error_return_500",
			err:            errors.New("connection reset"),
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svcMock := mocks.NewMockUserService(ctrl)
			svcMock.EXPECT().Login(gomock.Any(), "asha@example.com", "secret123").Return(tt.user, tt.token, tt.err)

			body := `{"email": "asha@example.com", "password": "secret123"}`
			req := httptest.NewRequest(http.MethodPost, "/api/users/login", strings.NewReader(body))
			w := httptest.NewRecorder()
			NewUserHandler(svcMock, time.Hour).LoginUser()(w, req)

			res := w.Result()
			defer res.Body.Close()
			require.Equal(t, tt.wantStatusCode, res.StatusCode)

			if tt.user != nil {
				var got userResponse
				require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
				assert.Equal(t, userResponse{
					ID: "u-1", Name: "Asha Rao", Email: "asha@example.com", Role: models.RoleOrders, Token: "jwt-token",
				}, got)
			}
		})
	}
}
