package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scoopsociety/creamery-backend/api/responses"
	"github.com/scoopsociety/creamery-backend/internal/products"
	"github.com/scoopsociety/creamery-backend/pkg/db/models"
	pkgerrors "github.com/scoopsociety/creamery-backend/pkg/errors"
	"github.com/scoopsociety/creamery-backend/pkg/logger"
)

type productResponse struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	IsSubscription    bool            `json:"is_subscription"`
	RecurringInterval *string         `json:"recurring_interval,omitempty"`
}

// ListProducts returns the available catalog.
func ListProducts(repo products.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "products repository unavailable"))
			return
		}

		catalog, err := repo.ListAvailable(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]productResponse, 0, len(catalog))
		for _, product := range catalog {
			out = append(out, newProductResponse(product))
		}
		responses.WriteSuccess(w, out)
	}
}

func newProductResponse(product models.Product) productResponse {
	resp := productResponse{
		ID:             product.ID,
		Name:           product.Name,
		Description:    product.Description,
		UnitPrice:      product.UnitPrice,
		IsSubscription: product.IsSubscription,
	}
	if product.RecurringInterval != nil {
		interval := product.RecurringInterval.String()
		resp.RecurringInterval = &interval
	}
	return resp
}
