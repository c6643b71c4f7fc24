package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/scoopsociety/creamery-backend/api/responses"
	"github.com/scoopsociety/creamery-backend/api/validators"
	authsvc "github.com/scoopsociety/creamery-backend/internal/auth"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type sessionResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name,omitempty"`
	AccessToken string    `json:"access_token"`
}

// AuthRegister creates an account and returns a session for it.
func AuthRegister(svc authsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var payload authsvc.RegisterInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Register(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSessionResponse(session))
	}
}

// AuthLogin authenticates an existing account.
func AuthLogin(svc authsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var payload authsvc.LoginInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Login(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}

func newSessionResponse(session *authsvc.Session) sessionResponse {
	if session == nil || session.User == nil {
		return sessionResponse{}
	}
	return sessionResponse{
		UserID:      session.User.ID,
		Email:       session.User.Email,
		FullName:    session.User.FullName,
		AccessToken: session.AccessToken,
	}
}
