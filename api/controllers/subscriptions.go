package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/verdeviva/verdeviva-backend/api/middleware"
	"github.com/verdeviva/verdeviva-backend/api/responses"
	"github.com/verdeviva/verdeviva-backend/api/validators"
	subsvc "github.com/verdeviva/verdeviva-backend/internal/subscriptions"
	"github.com/verdeviva/verdeviva-backend/pkg/db/models"
	"github.com/verdeviva/verdeviva-backend/pkg/enums"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

// SubscriptionService is the slice of the subscription service the
// controllers call. Narrowed for stubbing in tests.
type SubscriptionService interface {
	Create(ctx context.Context, params subsvc.CreateParams) (*models.Subscription, error)
	Get(ctx context.Context, actor subsvc.Actor, id uuid.UUID) (*models.Subscription, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	Pause(ctx context.Context, actor subsvc.Actor, id uuid.UUID, reason string) (*models.Subscription, error)
	Resume(ctx context.Context, actor subsvc.Actor, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, actor subsvc.Actor, id uuid.UUID, reason string) (*models.Subscription, error)
	Modify(ctx context.Context, actor subsvc.Actor, id uuid.UUID, params subsvc.ModifyParams) (*models.Subscription, error)
	BillingHistory(ctx context.Context, actor subsvc.Actor, params subsvc.BillingHistoryParams) (*subsvc.BillingHistoryResult, error)
}

func actorFromContext(r *http.Request) (subsvc.Actor, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return subsvc.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return subsvc.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	role, err := enums.ParseActorRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		role = enums.ActorRoleCustomer
	}
	return subsvc.Actor{UserID: userID, Role: role}, nil
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id")
	}
	return id, nil
}

type createSubscriptionRequest struct {
	ProductID          int64   `json:"product_id" validate:"required,min=1"`
	Quantity           int     `json:"quantity" validate:"omitempty,min=1"`
	BasePrice          string  `json:"base_price" validate:"required"`
	DiscountPercentage string  `json:"discount_percentage,omitempty"`
	Currency           string  `json:"currency,omitempty"`
	Frequency          int     `json:"frequency" validate:"omitempty,min=1"`
	FrequencyUnit      string  `json:"frequency_unit,omitempty"`
	DeliveryAddress    *string `json:"delivery_address,omitempty"`
}

// CreateSubscription opens a pending subscription for the authenticated user.
func CreateSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		basePrice, err := decimal.NewFromString(payload.BasePrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid base price"))
			return
		}
		discount := decimal.Zero
		if payload.DiscountPercentage != "" {
			discount, err = decimal.NewFromString(payload.DiscountPercentage)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discount percentage"))
				return
			}
		}

		params := subsvc.CreateParams{
			UserID:             actor.UserID,
			ProductID:          payload.ProductID,
			Quantity:           payload.Quantity,
			BasePrice:          basePrice,
			DiscountPercentage: discount,
			Currency:           payload.Currency,
			Frequency:          payload.Frequency,
			DeliveryAddress:    payload.DeliveryAddress,
		}
		if payload.FrequencyUnit != "" {
			unit, err := enums.ParseFrequencyUnit(payload.FrequencyUnit)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid frequency unit"))
				return
			}
			params.FrequencyUnit = unit
		}

		sub, err := svc.Create(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

// ListSubscriptions returns the caller's subscriptions, newest first.
func ListSubscriptions(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subs, err := svc.ListForUser(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, subs)
	}
}

// GetSubscription returns a single subscription the caller owns.
func GetSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// PauseSubscription pauses an active subscription.
func PauseSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := decodeOptionalReason(r)
		sub, err := svc.Pause(r.Context(), actor, id, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// ResumeSubscription resumes a paused subscription.
func ResumeSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Resume(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// CancelSubscription cancels an active or paused subscription.
func CancelSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := decodeOptionalReason(r)
		sub, err := svc.Cancel(r.Context(), actor, id, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

type modifySubscriptionRequest struct {
	Quantity        *int    `json:"quantity,omitempty" validate:"omitempty,min=1"`
	DeliveryAddress *string `json:"delivery_address,omitempty"`
	Frequency       *int    `json:"frequency,omitempty" validate:"omitempty,min=1"`
	FrequencyUnit   *string `json:"frequency_unit,omitempty"`
}

// ModifySubscription applies partial attribute updates.
func ModifySubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload modifySubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := subsvc.ModifyParams{
			Quantity:        payload.Quantity,
			DeliveryAddress: payload.DeliveryAddress,
			Frequency:       payload.Frequency,
		}
		if payload.FrequencyUnit != nil {
			unit, err := enums.ParseFrequencyUnit(*payload.FrequencyUnit)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid frequency unit"))
				return
			}
			params.FrequencyUnit = &unit
		}

		sub, err := svc.Modify(r.Context(), actor, id, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// SubscriptionBillingHistory lists ledger rows for one subscription,
// cursor-paginated.
func SubscriptionBillingHistory(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 25, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.BillingHistory(r.Context(), actor, subsvc.BillingHistoryParams{
			SubscriptionID: id,
			Limit:          limit,
			Cursor:         r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func decodeOptionalReason(r *http.Request) string {
	var payload reasonRequest
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return ""
	}
	return validators.SanitizeString(payload.Reason, 500)
}
