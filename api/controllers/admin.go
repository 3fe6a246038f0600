package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verdeviva/verdeviva-backend/api/responses"
	"github.com/verdeviva/verdeviva-backend/api/validators"
	"github.com/verdeviva/verdeviva-backend/internal/integrity"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/internal/reporting"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

type ReconcileService interface {
	Reconcile(ctx context.Context, req reconciler.Request) (*reconciler.Result, error)
}

type IntegrityChecker interface {
	CheckUser(ctx context.Context, userID uuid.UUID) (*integrity.CheckResult, error)
	CheckBatch(ctx context.Context, userIDs []uuid.UUID) (*integrity.BatchResult, error)
}

type ReportService interface {
	SubscriptionsReport(ctx context.Context, window time.Duration) (*reporting.SubscriptionReport, error)
}

type reconcileRequest struct {
	SubscriptionID    string `json:"subscription_id,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	PaymentID         string `json:"payment_id,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	Force             bool   `json:"force,omitempty"`
	Reason            string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// AdminReconcile runs an on-demand reconciliation for one subscription
// identified by whatever the operator has at hand.
func AdminReconcile(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload reconcileRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := reconciler.Request{
			ExternalReference: payload.ExternalReference,
			PaymentID:         payload.PaymentID,
			Force:             payload.Force,
			Reason:            validators.SanitizeString(payload.Reason, 500),
		}
		if payload.SubscriptionID != "" {
			id, err := uuid.Parse(payload.SubscriptionID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id"))
				return
			}
			req.SubscriptionID = id
		}
		if payload.UserID != "" {
			id, err := uuid.Parse(payload.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			req.UserID = id
		}

		result, err := svc.Reconcile(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type integrityCheckRequest struct {
	UserID  string   `json:"user_id,omitempty"`
	UserIDs []string `json:"user_ids,omitempty" validate:"omitempty,max=500,dive,required"`
}

// AdminIntegrityCheck audits one user or a batch. Single-user requests get
// the per-user report; batches add the aggregate summary.
func AdminIntegrityCheck(checker IntegrityChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload integrityCheckRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if payload.UserID != "" {
			userID, err := uuid.Parse(payload.UserID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			result, err := checker.CheckUser(r.Context(), userID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, result)
			return
		}

		if len(payload.UserIDs) == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id or user_ids required"))
			return
		}
		userIDs := make([]uuid.UUID, 0, len(payload.UserIDs))
		for _, raw := range payload.UserIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			userIDs = append(userIDs, id)
		}

		result, err := checker.CheckBatch(r.Context(), userIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminSubscriptionsReport serves the read-only rollup. The window defaults
// to thirty days and is capped at one year.
func AdminSubscriptionsReport(svc ReportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := validators.ParseQueryInt(r, "window_days", 30, 1, 365)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.SubscriptionsReport(r.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
