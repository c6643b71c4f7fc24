package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/api/middleware"
	"github.com/scoopsociety/creamery-backend/api/responses"
	"github.com/scoopsociety/creamery-backend/api/validators"
	checkoutsvc "github.com/scoopsociety/creamery-backend/internal/checkout"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type checkoutResponse struct {
	AttemptID    string          `json:"attempt_id"`
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	Mode         string          `json:"mode"`
	Total        decimal.Decimal `json:"total"`
}

// Checkout starts a payment session for the submitted cart. Guests and
// authenticated shoppers both land here; the user id rides in from the
// optional auth middleware.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutsvc.StartSessionInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.UserID = middleware.UserIDFromContext(r.Context())

		result, err := svc.StartSession(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			AttemptID:    result.AttemptID,
			IntentID:     result.IntentID,
			ClientSecret: result.ClientSecret,
			Mode:         result.Mode,
			Total:        result.Total,
		})
	}
}
