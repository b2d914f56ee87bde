package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"switchboard/internal/domain"
	"switchboard/internal/engine"
	"switchboard/internal/repo"
)

type tokenOutput struct {
	Body struct {
		Token string `json:"token"`
	} `json:"body"`
}

func registerUsers(api huma.API, e engine.Engine, auth AuthConfig) {
	type loginInput struct {
		Body struct {
			Email    string `json:"email" minLength:"1"`
			Password string `json:"password" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/users/login",
		Summary:     "Exchange credentials for a token",
	}, func(ctx context.Context, input *loginInput) (*tokenOutput, error) {
		u, err := e.Repo.GetUserByEmail(ctx, input.Body.Email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, invalidCredentials()
			}
			return nil, handleError(err)
		}
		if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(input.Body.Password)) != nil {
			return nil, invalidCredentials()
		}
		if !u.Enabled {
			return nil, invalidCredentials()
		}
		token, err := issueToken(u, auth.JWTSecret, auth.TokenTTL, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		out := &tokenOutput{}
		out.Body.Token = token
		return out, nil
	})

	type signupInput struct {
		Body struct {
			Email       string `json:"email" minLength:"1"`
			Password    string `json:"password" minLength:"1"`
			DisplayName string `json:"display_name" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "signup",
		Method:      http.MethodPost,
		Path:        "/users/signup",
		Summary:     "Create an account",
	}, func(ctx context.Context, input *signupInput) (*tokenOutput, error) {
		if !e.Config.Auth.SignupsEnabled {
			return nil, newAPIError(http.StatusBadRequest, "signups_disabled", "signups are not enabled", nil)
		}
		if len(input.Body.Password) < 12 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "password must be at least 12 characters", nil)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Body.Password), e.Config.Auth.BcryptCost)
		if err != nil {
			return nil, handleError(err)
		}
		u := domain.User{
			ID:          uuid.New().String(),
			Email:       input.Body.Email,
			DisplayName: input.Body.DisplayName,
			Password:    string(hash),
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			Enabled:     true,
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return nil, newAPIError(http.StatusConflict, "conflict", "a user with that email already exists", nil)
			}
			return nil, handleError(err)
		}
		token, err := issueToken(u, auth.JWTSecret, auth.TokenTTL, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		out := &tokenOutput{}
		out.Body.Token = token
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/users/whoami",
		Summary:     "Identity behind the presented token",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Principal `json:"body"`
	}, error) {
		p, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body Principal `json:"body"`
		}{Body: p}, nil
	})
}

func invalidCredentials() huma.StatusError {
	return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
}
