package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/scoopsociety/creamery-backend/api/middleware"
	"github.com/scoopsociety/creamery-backend/api/responses"
	"github.com/scoopsociety/creamery-backend/internal/subscriptions"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type subscriptionResponse struct {
	SubscriptionID     uuid.UUID  `json:"subscription_id"`
	Status             string     `json:"status"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CollectionPaused   bool       `json:"collection_paused"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
}

// ListSubscriptions returns the authenticated shopper's subscriptions.
func ListSubscriptions(repo subscriptions.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repository unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		subs, err := repo.ListByUser(r.Context(), *userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			out = append(out, newSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		SubscriptionID:     sub.ID,
		Status:             sub.Status.String(),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CollectionPaused:   sub.CollectionPaused,
		CanceledAt:         sub.CanceledAt,
	}
}
