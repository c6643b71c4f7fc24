package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scoopsociety/creamery-backend/api/responses"
	"github.com/scoopsociety/creamery-backend/internal/checkout"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

// CheckoutConfirmation answers confirmation polls by intent id. The endpoint
// is read-only and safe to hit repeatedly while the webhook pipeline catches
// up.
func CheckoutConfirmation(svc *checkout.StatusService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation service unavailable"))
			return
		}

		intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
		if intentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "intent id required"))
			return
		}

		status, err := svc.GetStatus(r.Context(), intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, status)
	}
}
